package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xiaot623/lazarus/internal/adapter/model"
	"github.com/xiaot623/lazarus/internal/adapter/sandbox"
	"github.com/xiaot623/lazarus/internal/domain"
	"github.com/xiaot623/lazarus/internal/policy"
)

// Progress lines of a run.
const (
	MsgDeepScan     = "Initiating Deep Scan of Legacy Repository..."
	MsgBlueprint    = "Architecting Resurrection Blueprint..."
	MsgSynthesizing = "Synthesizing Modern Cloud Infrastructure..."
	MsgBooting      = "Booting Neural Sandbox Environment..."
	MsgVerifying    = "Verifying System Integrity..."
)

// ReasonSourceUnreachable is the failure reason of a failed repository fetch.
const ReasonSourceUnreachable = "source unreachable"

const eventBuffer = 64

// Resurrect starts a run and returns its event stream. The channel receives
// exactly one terminal event, last, and is then closed. Cancelling ctx stops
// further collaborator calls; events emitted after that are dropped.
func (s *Service) Resurrect(ctx context.Context, req domain.RunRequest) <-chan domain.Event {
	out := make(chan domain.Event, eventBuffer)
	r := &run{
		id:    "run_" + uuid.New().String()[:8],
		svc:   s,
		ctx:   ctx,
		req:   req.Normalize(),
		out:   out,
		stage: domain.RunStageIdle,
	}
	r.logger = s.logger.With().Str("run_id", r.id).Str("repo", r.req.RepositoryURL).Logger()
	go r.execute()
	return out
}

type run struct {
	id     string
	svc    *Service
	ctx    context.Context
	req    domain.RunRequest
	out    chan<- domain.Event
	logger zerolog.Logger

	stage      domain.RunStage
	stageStart time.Time
	logs       []string
	terminated bool
	fallback   bool
}

func (r *run) execute() {
	start := time.Now()
	if m := r.svc.metrics; m != nil {
		m.RunsActive.Inc()
		defer m.RunsActive.Dec()
	}
	defer close(r.out)
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Interface("panic", p).Msg("run panicked")
			r.fail(fmt.Errorf("internal error: %v", p))
		}
		if !r.terminated {
			r.fail(errors.New("run ended without a result"))
		}
		r.logger.Info().Str("stage", string(r.stage)).Dur("elapsed", time.Since(start)).Msg("run finished")
	}()

	r.logger.Info().Msg("run started")
	r.pipeline()
}

func (r *run) pipeline() {
	if err := r.req.Validate(); err != nil {
		r.fail(err)
		return
	}

	// Fetch
	r.transition(domain.RunStageFetchingSource)
	r.log(MsgDeepScan)
	snap, err := r.svc.source.Fetch(r.ctx, r.req.RepositoryURL)
	if err != nil {
		if r.cancelled() {
			return
		}
		r.debug(fmt.Sprintf("fetch: %v", err))
		r.failWith(ReasonSourceUnreachable, domain.FailureSourceUnreachable)
		return
	}
	r.debug(fmt.Sprintf("snapshot: %s, %d files in tree, %d read, languages %s",
		snap.Ref, len(snap.Tree), len(snap.Files), strings.Join(snap.Languages, ", ")))
	if r.cancelled() {
		return
	}

	// Generate
	r.transition(domain.RunStageGenerating)
	gen, err := r.svc.generator.Generate(r.ctx, model.GenerateInput{
		RepositoryURL: r.req.RepositoryURL,
		Intent:        r.req.Intent,
		Summary:       snap.Summary(),
	}, r.onPhase)
	if err != nil {
		if r.cancelled() {
			return
		}
		r.fail(err)
		return
	}
	r.fallback = gen.FallbackPlan

	files, err := r.accept(gen.Files)
	if err != nil {
		r.fail(err)
		return
	}
	if r.cancelled() {
		return
	}

	// Validate
	r.transition(domain.RunStageValidating)
	r.log(MsgBooting)
	res, execErr := r.validate(files, gen.Entrypoint)
	if r.cancelled() {
		return
	}
	r.log(MsgVerifying)

	if execErr != nil || res.Failed() {
		r.degrade(files, execErr)
		return
	}
	r.succeed(files, res)
}

// onPhase maps a model phase to a Log event and mirrors it to Debug.
func (r *run) onPhase(p model.Phase) error {
	if r.cancelled() {
		return r.ctx.Err()
	}
	switch ph := p.(type) {
	case model.PhaseStarted:
		switch ph.Name {
		case model.PhaseArchitecture:
			r.log(MsgBlueprint)
		case model.PhaseGeneration:
			r.log(MsgSynthesizing)
		default:
			r.log(fmt.Sprintf("Model phase: %s...", ph.Name))
		}
		r.debug("model phase started: " + ph.Name)
	case model.ModelNotice:
		r.log(ph.Message)
		r.debug("model notice: " + ph.Message)
	case model.PlanReady:
		r.log("Resurrection Blueprint Ready.")
		r.debug("plan:\n" + ph.Plan)
	case model.FilesReady:
		r.log(fmt.Sprintf("Generated %d System Modules...", len(ph.Files)))
		r.debug(fmt.Sprintf("files: %s (entrypoint %s)", strings.Join(ph.Files.Filenames(), ", "), ph.Entrypoint))
	default:
		return fmt.Errorf("unknown model phase %T", p)
	}
	return nil
}

// accept removes duplicate and policy-blocked files.
func (r *run) accept(files domain.Artifacts) (domain.Artifacts, error) {
	files, dropped := files.Dedupe()
	for _, name := range dropped {
		r.debug(fmt.Sprintf("dropped duplicate artifact %q", name))
	}

	if r.svc.policy != nil {
		kept, blocked, err := r.svc.policy.Filter(r.ctx, policy.ActionGenerate, files)
		if err != nil {
			return nil, err
		}
		for _, b := range blocked {
			r.debug(fmt.Sprintf("artifact %q blocked by policy: %s", b.Filename, b.Reason))
			if m := r.svc.metrics; m != nil {
				m.ArtifactsBlocked.Inc()
			}
		}
		files = kept
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no usable files", domain.ErrGenerationFailed)
	}
	return files, nil
}

// validate runs the files in the sandbox. The execution is detached from the
// client so an already dispatched run completes; its result is discarded
// by the caller if the client has left.
func (r *run) validate(files domain.Artifacts, entrypoint string) (*sandbox.ExecResult, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), r.svc.opts.SandboxTimeout)
	defer cancel()

	res, err := r.svc.sandbox.Execute(ctx, sandbox.ExecRequest{Files: files, Entrypoint: entrypoint}, func(p sandbox.Phase) {
		r.log(sandboxMessage(p))
	})
	if err != nil {
		r.debug(fmt.Sprintf("sandbox error: %v", err))
		return nil, err
	}
	if res.Stdout != "" {
		r.debug("STDOUT: " + res.Stdout)
	}
	if res.Stderr != "" {
		r.debug("STDERR: " + res.Stderr)
	}
	if res.Failed() {
		r.debug(fmt.Sprintf("sandbox exit code %d", res.ExitCode))
	}
	return res, nil
}

func sandboxMessage(p sandbox.Phase) string {
	switch p {
	case sandbox.PhaseProvision:
		return "Provisioning Sandbox..."
	case sandbox.PhaseUpload:
		return "Uploading System Modules..."
	case sandbox.PhaseInstall:
		return "Installing Dependencies..."
	case sandbox.PhaseRun:
		return "Executing Entrypoint..."
	case sandbox.PhaseTeardown:
		return "Sandbox Released."
	}
	return fmt.Sprintf("Sandbox phase: %s", p)
}

func (r *run) succeed(files domain.Artifacts, res *sandbox.ExecResult) {
	result := domain.ResultEvent{
		Artifacts: files,
		Status:    domain.ResultStatusResurrected,
	}
	if r.fallback {
		result.Status = domain.ResultStatusFallback
	}

	if res.Preview != nil {
		result.Preview = res.Preview
	} else if a, ok := files.Find(sandbox.PreviewFile); ok {
		doc := a.Content
		result.Preview = &doc
	}

	if result.Preview != nil && r.svc.previews != nil {
		url, err := r.svc.previews.Publish(r.ctx, r.id, *result.Preview, r.svc.opts.PreviewTTL)
		if err != nil {
			r.debug(fmt.Sprintf("preview upload failed: %v", err))
		} else {
			result.PreviewURL = url
			r.debug(fmt.Sprintf("preview published, available until %s", res.ExpiresAt.Format(time.RFC3339)))
		}
	}

	r.transition(domain.RunStageSucceeded)
	r.finish(result)
}

func (r *run) degrade(files domain.Artifacts, execErr error) {
	r.log("Sandbox Validation Failed. Delivering Unverified Modules.")
	r.logger.Warn().Err(execErr).Msg("sandbox validation failed, degrading result")
	r.transition(domain.RunStageDegraded)
	r.finish(domain.ResultEvent{
		Artifacts: files,
		Status:    domain.ResultStatusFallback,
	})
}

func (r *run) fail(err error) {
	reason := err.Error()
	kind := domain.ClassifyError(err)
	switch {
	case kind == domain.FailureSourceUnreachable:
		reason = ReasonSourceUnreachable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = domain.FailureCancelled
	}
	r.failWith(reason, kind)
}

func (r *run) failWith(reason string, kind domain.FailureKind) {
	r.logger.Warn().Str("reason", reason).Str("kind", string(kind)).Msg("run failed")
	r.transition(domain.RunStageFailed)
	r.finish(domain.FailureEvent{Reason: reason, Kind: kind})
}

// cancelled ends the run when the client has gone away.
func (r *run) cancelled() bool {
	if r.ctx.Err() == nil {
		return false
	}
	if !r.terminated {
		r.failWith("client disconnected", domain.FailureCancelled)
	}
	return true
}

func (r *run) transition(next domain.RunStage) {
	if r.stage.IsTerminal() {
		return
	}
	now := time.Now()
	if m := r.svc.metrics; m != nil && r.stage != domain.RunStageIdle {
		m.RecordStage(string(r.stage), now.Sub(r.stageStart))
	}
	r.logger.Debug().Str("from", string(r.stage)).Str("to", string(next)).Msg("stage transition")
	r.stage = next
	r.stageStart = now
	if next.IsTerminal() && r.svc.metrics != nil {
		r.svc.metrics.RecordRunFinished(string(next))
	}
}

func (r *run) log(msg string) {
	r.logs = append(r.logs, msg)
	r.emit(domain.LogEvent{Message: msg})
}

func (r *run) debug(msg string) {
	r.emit(domain.DebugEvent{Message: msg})
}

func (r *run) finish(ev domain.Event) {
	if res, ok := ev.(domain.ResultEvent); ok {
		res.Logs = strings.Join(r.logs, "\n")
		ev = res
	}
	r.emit(ev)
	r.terminated = true
}

// emit delivers an event unless the run already terminated or the client left.
func (r *run) emit(ev domain.Event) {
	if r.terminated {
		return
	}
	if m := r.svc.metrics; m != nil {
		m.RecordEvent(string(ev.Type()))
	}
	select {
	case r.out <- ev:
	case <-r.ctx.Done():
	}
}
