package pipeline

import "sync"

// guardStack is the compensating-cleanup discipline: every resource a
// stage acquires pushes a release function, and Release runs them in
// reverse-acquisition order on every exit path. Each guard fires at
// most once, so a second Release (stage failure followed by the
// deferred call) is a no-op. Release errors are logged and swallowed;
// cleanup never re-enters the pipeline.
type guardStack struct {
	mu     sync.Mutex
	guards []*guard
	logger Logger
}

type guard struct {
	name    string
	release func() error
	done    bool
}

func newGuardStack(logger Logger) *guardStack {
	return &guardStack{logger: logger}
}

func (g *guardStack) Push(name string, release func() error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.guards = append(g.guards, &guard{name: name, release: release})
}

// Release runs outstanding guards LIFO. It is not cancellable: every
// guard runs to completion even when earlier ones fail.
func (g *guardStack) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := len(g.guards) - 1; i >= 0; i-- {
		gd := g.guards[i]
		if gd.done {
			continue
		}
		gd.done = true

		if err := gd.release(); err != nil {
			g.logger.Warnf("cleanup %s failed: %v", gd.name, err)
		} else {
			g.logger.Infof("cleanup: released %s", gd.name)
		}
	}
}

// Pending reports how many guards have not fired yet.
func (g *guardStack) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, gd := range g.guards {
		if !gd.done {
			n++
		}
	}
	return n
}
