// Package model drives the generative model through the plan and code
// generation calls of a run.
package model

import "github.com/xiaot623/lazarus/internal/domain"

// Phase is a discrete step reported by the generator. The set of
// implementations is closed: PhaseStarted, PlanReady, FilesReady and
// ModelNotice.
type Phase interface {
	isPhase()
}

// PhaseStarted marks the start of a model call.
type PhaseStarted struct {
	Name string
}

// PlanReady carries the architecture plan.
type PlanReady struct {
	Plan string
}

// FilesReady carries the generated files.
type FilesReady struct {
	Files      domain.Artifacts
	Entrypoint string
}

// ModelNotice is an advisory message about the model interaction, such as
// a fallback being engaged.
type ModelNotice struct {
	Message string
}

func (PhaseStarted) isPhase() {}
func (PlanReady) isPhase()    {}
func (FilesReady) isPhase()   {}
func (ModelNotice) isPhase()  {}

// Phase names reported in PhaseStarted.
const (
	PhaseArchitecture = "architecture analysis"
	PhaseGeneration   = "file generation"
)
