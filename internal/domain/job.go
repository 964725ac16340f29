package domain

import (
	"time"
)

// Stage is a step in the backup-validate-promote pipeline.
type Stage string

const (
	StageInit       Stage = "INIT"
	StageCapturing  Stage = "CAPTURING"
	StageStaged     Stage = "STAGED"
	StageRestoring  Stage = "RESTORING"
	StageValidating Stage = "VALIDATING"
	StageValidated  Stage = "VALIDATED"
	StagePromoting  Stage = "PROMOTING"
	StageCleaning   Stage = "CLEANING"
	StageDone       Stage = "DONE"
	StageFailed     Stage = "FAILED"
)

// OutcomeStatus is the terminal result of one pipeline run.
type OutcomeStatus string

const (
	OutcomeDone   OutcomeStatus = "done"
	OutcomeFailed OutcomeStatus = "failed"
)

// Outcome summarizes one finished BackupJob. Reason is empty for a
// successful run, otherwise it names the failing stage and cause.
type Outcome struct {
	Status   OutcomeStatus
	Stage    Stage
	Reason   string
	Duration time.Duration
}

func (o Outcome) Success() bool {
	return o.Status == OutcomeDone
}

// BackupJob is one pipeline run. It is created at invocation, owned
// exclusively by the orchestrator, and discarded once its events have
// been emitted; no job state survives across runs.
type BackupJob struct {
	ID           string
	SourceName   string
	TargetName   string
	Destinations []string
	Stage        Stage
	StartedAt    time.Time
	FinishedAt   time.Time
	Outcome      Outcome
}

// CaptureMode selects what a dump includes.
type CaptureMode string

const (
	CaptureFull       CaptureMode = "full"
	CaptureSchemaOnly CaptureMode = "schema-only"
	CaptureDataOnly   CaptureMode = "data-only"
)

// ParseCaptureMode validates a CLI/config mode string.
func ParseCaptureMode(s string) (CaptureMode, bool) {
	switch CaptureMode(s) {
	case CaptureFull, CaptureSchemaOnly, CaptureDataOnly:
		return CaptureMode(s), true
	case "":
		return CaptureFull, true
	}
	return "", false
}
