package pipeline

import (
	"sort"
	"sync"

	"veriback/internal/domain"
)

// artifactStore tracks the BackupArtifacts created within one job.
// It is owned by the orchestrator and discarded with the job; nothing
// persists across runs.
type artifactStore struct {
	mu        sync.Mutex
	artifacts map[string]*domain.BackupArtifact
}

func newArtifactStore() *artifactStore {
	return &artifactStore{artifacts: make(map[string]*domain.BackupArtifact)}
}

func (s *artifactStore) Add(a *domain.BackupArtifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[a.Name] = a
}

func (s *artifactStore) All() []*domain.BackupArtifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.artifacts))
	for name := range s.artifacts {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*domain.BackupArtifact, 0, len(names))
	for _, name := range names {
		out = append(out, s.artifacts[name])
	}
	return out
}
