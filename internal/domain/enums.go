// Package domain defines the core domain models for the resurrection pipeline.
package domain

import "fmt"

// RunStage represents the position of a run in the pipeline state machine.
type RunStage string

const (
	RunStageIdle           RunStage = "idle"
	RunStageFetchingSource RunStage = "fetching-source"
	RunStageGenerating     RunStage = "generating"
	RunStageValidating     RunStage = "validating"
	RunStageSucceeded      RunStage = "succeeded"
	RunStageDegraded       RunStage = "degraded"
	RunStageFailed         RunStage = "failed"
)

// IsTerminal reports whether no further transition is possible from the stage.
func (s RunStage) IsTerminal() bool {
	switch s {
	case RunStageSucceeded, RunStageDegraded, RunStageFailed:
		return true
	}
	return false
}

// ResultStatus is the status label carried by a result record.
type ResultStatus string

const (
	ResultStatusResurrected ResultStatus = "Resurrected"
	ResultStatusFallback    ResultStatus = "Fallback"
)

// DeployStatus is the status of a deployment outcome.
type DeployStatus string

const (
	DeployStatusSuccess DeployStatus = "success"
	DeployStatusError   DeployStatus = "error"
)

// DeployStage is the deployment state: idle, committing(i), committed or failed-at(i).
type DeployStage struct {
	Name  string
	Index int
}

var (
	DeployStageIdle      = DeployStage{Name: "idle", Index: -1}
	DeployStageCommitted = DeployStage{Name: "committed", Index: -1}
)

// DeployStageCommitting returns the committing(i) stage.
func DeployStageCommitting(i int) DeployStage {
	return DeployStage{Name: "committing", Index: i}
}

// DeployStageFailedAt returns the failed-at(i) stage.
func DeployStageFailedAt(i int) DeployStage {
	return DeployStage{Name: "failed-at", Index: i}
}

// IsTerminal reports whether the deployment has finished.
func (s DeployStage) IsTerminal() bool {
	return s.Name == "committed" || s.Name == "failed-at"
}

func (s DeployStage) String() string {
	if s.Index < 0 {
		return s.Name
	}
	return fmt.Sprintf("%s(%d)", s.Name, s.Index)
}
