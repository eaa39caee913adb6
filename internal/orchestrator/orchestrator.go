package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vidforge/internal/domain"
	"vidforge/internal/worker"
)

// Options configures an Orchestrator.
type Options struct {
	Generations domain.GenerationRepository
	Logs        domain.LogRepository
	Factory     *worker.Factory
	Launcher    worker.Launcher
	Logger      zerolog.Logger

	// GenerationTimeout and EnhanceTimeout are the hard wall clocks applied
	// to the respective worker processes.
	GenerationTimeout time.Duration
	EnhanceTimeout    time.Duration
}

// Orchestrator drives generation jobs: it validates start preconditions,
// launches workers, folds parsed protocol results into the generation record,
// and persists worker logs. All writes to a single generation are serialized
// behind a per-generation mutex; jobs do not contend with each other.
type Orchestrator struct {
	baseCtx     context.Context
	generations domain.GenerationRepository
	sink        *LogSink
	factory     *worker.Factory
	launcher    worker.Launcher
	logger      zerolog.Logger

	generationTimeout time.Duration
	enhanceTimeout    time.Duration

	mu    sync.Mutex
	locks map[string]*genLock
}

// genLock serializes writes to one generation record. refs counts holders and
// waiters so the map entry can be dropped as soon as nobody needs it; a
// finished job leaves nothing behind.
type genLock struct {
	mu   sync.Mutex
	refs int
}

// New creates an orchestrator. baseCtx bounds the lifetime of all background
// work; it should outlive individual HTTP requests and be cancelled on
// shutdown.
func New(baseCtx context.Context, opts Options) *Orchestrator {
	return &Orchestrator{
		baseCtx:           baseCtx,
		generations:       opts.Generations,
		sink:              NewLogSink(opts.Logs, opts.Logger),
		factory:           opts.Factory,
		launcher:          opts.Launcher,
		logger:            opts.Logger,
		generationTimeout: opts.GenerationTimeout,
		enhanceTimeout:    opts.EnhanceTimeout,
		locks:             make(map[string]*genLock),
	}
}

// acquire takes the write lock for one generation, creating the map entry on
// demand.
func (o *Orchestrator) acquire(id string) *genLock {
	o.mu.Lock()
	l, ok := o.locks[id]
	if !ok {
		l = &genLock{}
		o.locks[id] = l
	}
	l.refs++
	o.mu.Unlock()

	l.mu.Lock()
	return l
}

// release returns the lock and removes the map entry once the last holder is
// gone.
func (o *Orchestrator) release(id string, l *genLock) {
	l.mu.Unlock()

	o.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(o.locks, id)
	}
	o.mu.Unlock()
}

// mutate performs one serialized read-modify-write of a generation record.
// fn may reject the mutation by returning an error, in which case nothing is
// persisted.
func (o *Orchestrator) mutate(ctx context.Context, id string, fn func(g *domain.Generation) error) (*domain.Generation, error) {
	l := o.acquire(id)
	defer o.release(id, l)

	g, err := o.generations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(g); err != nil {
		return nil, err
	}
	if err := o.generations.Update(ctx, g); err != nil {
		return nil, fmt.Errorf("update generation %s: %w", id, err)
	}
	return g, nil
}

// Start validates the CREATED precondition, moves the generation to its first
// in-progress stage, and launches the generation worker. It returns before
// the job finishes; progress is observable through Status and the log feed.
func (o *Orchestrator) Start(ctx context.Context, id string) error {
	g, err := o.mutate(ctx, id, func(g *domain.Generation) error {
		return g.Start()
	})
	if err != nil {
		return err
	}
	o.sink.Record(ctx, id, "Video generation started", domain.LogLevelInfo)

	spec, err := o.factory.Generation(g)
	if err != nil {
		o.abort(id, fmt.Sprintf("Failed to prepare worker: %v", err))
		return err
	}

	run := &generationRun{o: o, id: id}
	run.parser = worker.NewParser(worker.Events{
		OnStage:      run.stage,
		OnFinal:      run.final,
		OnLog:        run.stdoutLog,
		OnParseError: run.parseError,
	})
	if err := o.launcher.Launch(o.baseCtx, spec, o.generationTimeout, run); err != nil {
		o.abort(id, fmt.Sprintf("Failed to launch worker: %v", err))
		return err
	}
	o.logger.Info().Str("generation_id", id).Msg("generation worker launched")
	return nil
}

// abort marks a generation FAILED when its worker could not be launched.
func (o *Orchestrator) abort(id, message string) {
	if _, err := o.mutate(o.baseCtx, id, func(g *domain.Generation) error {
		g.MarkFailed()
		return nil
	}); err != nil {
		o.logger.Error().Err(err).Str("generation_id", id).Msg("mark failed after launch error")
	}
	o.sink.Record(o.baseCtx, id, message, domain.LogLevelError)
}

// generationRun wires one running generation worker: it feeds stdout through
// the protocol parser, routes stderr and plain stdout lines to the log sink,
// and applies the terminal exit policy.
type generationRun struct {
	o      *Orchestrator
	id     string
	parser *worker.Parser
}

func (r *generationRun) Stdout(chunk []byte) { r.parser.Feed(chunk) }

func (r *generationRun) Stderr(line string) {
	r.o.sink.Consume(r.o.baseCtx, r.id, line, domain.LogLevelError)
}

func (r *generationRun) stdoutLog(line string) {
	r.o.sink.Consume(r.o.baseCtx, r.id, line, domain.LogLevelInfo)
}

func (r *generationRun) parseError(line string, err error) {
	r.o.logger.Error().Err(err).Str("generation_id", r.id).Msg("malformed worker result")
	r.o.sink.Record(r.o.baseCtx, r.id, fmt.Sprintf("Malformed worker result: %v", err), domain.LogLevelError)
}

func (r *generationRun) stage(res domain.StageResult) {
	ctx := r.o.baseCtx
	if _, err := r.o.mutate(ctx, r.id, func(g *domain.Generation) error {
		*g = g.ApplyStage(res)
		return nil
	}); err != nil {
		r.o.logger.Error().Err(err).Str("generation_id", r.id).Str("step", string(res.Step)).Msg("apply stage result")
		return
	}
	r.o.sink.Record(ctx, r.id, fmt.Sprintf("Stage %q completed", res.Step), domain.LogLevelInfo)
}

func (r *generationRun) final(res domain.FinalResult) {
	ctx := r.o.baseCtx
	if _, err := r.o.mutate(ctx, r.id, func(g *domain.Generation) error {
		*g = g.ApplyFinal(res)
		return nil
	}); err != nil {
		r.o.logger.Error().Err(err).Str("generation_id", r.id).Msg("apply final result")
		return
	}
	r.o.sink.Record(ctx, r.id, "Video generation finished", domain.LogLevelInfo)
}

// Exit applies the terminal policy once streams are drained. The final marker
// always wins: the zero-exit fallback to COMPLETED only applies when no
// marker arrived, and a nonzero exit or timeout forces FAILED while keeping
// the artifacts recorded so far.
func (r *generationRun) Exit(res worker.ExitResult) {
	r.parser.Flush()
	ctx := r.o.baseCtx

	var message string
	level := domain.LogLevelInfo
	if _, err := r.o.mutate(ctx, r.id, func(g *domain.Generation) error {
		switch {
		case res.TimedOut:
			g.MarkFailed()
			message = fmt.Sprintf("Generation timed out after %s", res.Runtime.Round(time.Second))
			level = domain.LogLevelError
		case !res.Success():
			g.MarkFailed()
			message = fmt.Sprintf("Generation failed (exit code %d)", res.Code)
			level = domain.LogLevelError
		case g.Status != domain.StatusCompleted:
			g.MarkCompleted()
			message = "Generation completed (worker exited cleanly without final result)"
			level = domain.LogLevelWarn
		default:
			message = "Generation completed successfully"
		}
		return nil
	}); err != nil {
		r.o.logger.Error().Err(err).Str("generation_id", r.id).Msg("record worker exit")
		return
	}
	r.o.sink.Record(ctx, r.id, message, level)
	r.o.logger.Info().Str("generation_id", r.id).Int("exit_code", res.Code).Bool("timed_out", res.TimedOut).Dur("runtime", res.Runtime).Msg("generation worker exited")
}

// Enhance launches the secondary audio enhancement worker against a completed
// generation. Enhancement is best effort: its failure reverts the generation
// to COMPLETED and never fails the primary job.
func (o *Orchestrator) Enhance(ctx context.Context, id string) error {
	g, err := o.mutate(ctx, id, func(g *domain.Generation) error {
		return g.BeginEnhancement()
	})
	if err != nil {
		return err
	}
	o.sink.Record(ctx, id, "Audio enhancement started", domain.LogLevelInfo)

	spec, err := o.factory.Enhancement(g)
	if err != nil {
		o.settleEnhancement(id, fmt.Sprintf("Failed to prepare audio enhancer: %v", err))
		return err
	}

	run := &enhancementRun{o: o, id: id}
	run.parser = worker.NewParser(worker.Events{
		OnEnhanced:   run.enhanced,
		OnLog:        run.stdoutLog,
		OnParseError: run.parseError,
	})
	if err := o.launcher.Launch(o.baseCtx, spec, o.enhanceTimeout, run); err != nil {
		o.settleEnhancement(id, fmt.Sprintf("Failed to launch audio enhancer: %v", err))
		return err
	}
	o.logger.Info().Str("generation_id", id).Msg("enhancement worker launched")
	return nil
}

// settleEnhancement returns a generation stuck in ENHANCING_AUDIO to
// COMPLETED and records why.
func (o *Orchestrator) settleEnhancement(id, message string) {
	if _, err := o.mutate(o.baseCtx, id, func(g *domain.Generation) error {
		if g.Status == domain.StatusEnhancingAudio {
			g.Status = domain.StatusCompleted
		}
		return nil
	}); err != nil {
		o.logger.Error().Err(err).Str("generation_id", id).Msg("settle enhancement")
	}
	o.sink.Record(o.baseCtx, id, message, domain.LogLevelError)
}

// enhancementRun wires one running audio enhancement worker.
type enhancementRun struct {
	o      *Orchestrator
	id     string
	parser *worker.Parser
}

func (r *enhancementRun) Stdout(chunk []byte) { r.parser.Feed(chunk) }

func (r *enhancementRun) Stderr(line string) {
	r.o.sink.Consume(r.o.baseCtx, r.id, line, domain.LogLevelError)
}

func (r *enhancementRun) stdoutLog(line string) {
	r.o.sink.Consume(r.o.baseCtx, r.id, line, domain.LogLevelInfo)
}

func (r *enhancementRun) parseError(line string, err error) {
	r.o.logger.Error().Err(err).Str("generation_id", r.id).Msg("malformed enhancement result")
	r.o.sink.Record(r.o.baseCtx, r.id, fmt.Sprintf("Malformed enhancement result: %v", err), domain.LogLevelError)
}

func (r *enhancementRun) enhanced(res domain.EnhancedResult) {
	ctx := r.o.baseCtx
	if _, err := r.o.mutate(ctx, r.id, func(g *domain.Generation) error {
		*g = g.ApplyEnhanced(res)
		return nil
	}); err != nil {
		r.o.logger.Error().Err(err).Str("generation_id", r.id).Msg("apply enhanced result")
		return
	}
	r.o.sink.Record(ctx, r.id, "Audio enhancement finished", domain.LogLevelInfo)
}

func (r *enhancementRun) Exit(res worker.ExitResult) {
	r.parser.Flush()
	if res.Success() {
		r.o.settle(r.id)
		return
	}
	if res.TimedOut {
		r.o.settleEnhancement(r.id, fmt.Sprintf("Audio enhancement timed out after %s", res.Runtime.Round(time.Second)))
		return
	}
	r.o.settleEnhancement(r.id, fmt.Sprintf("Audio enhancement failed (exit code %d)", res.Code))
}

// settle clears a lingering ENHANCING_AUDIO state after a clean exit whose
// marker already did the work (or never arrived).
func (o *Orchestrator) settle(id string) {
	if _, err := o.mutate(o.baseCtx, id, func(g *domain.Generation) error {
		if g.Status == domain.StatusEnhancingAudio {
			g.Status = domain.StatusCompleted
		}
		return nil
	}); err != nil {
		o.logger.Error().Err(err).Str("generation_id", id).Msg("settle enhancement exit")
	}
}

// Status returns the cheap polling projection from a snapshot read. No lock
// is taken: readers may observe any consistent intermediate state.
func (o *Orchestrator) Status(ctx context.Context, id string) (domain.StatusView, error) {
	g, err := o.generations.GetByID(ctx, id)
	if err != nil {
		return domain.StatusView{}, err
	}
	return domain.NewStatusView(g), nil
}
