package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vidforge/internal/domain"
	"vidforge/internal/worker"
)

type memGenerations struct {
	mu    sync.Mutex
	items map[string]domain.Generation
}

func newMemGenerations(gens ...domain.Generation) *memGenerations {
	m := &memGenerations{items: make(map[string]domain.Generation)}
	for _, g := range gens {
		m.items[g.ID] = g
	}
	return m
}

func (m *memGenerations) Create(ctx context.Context, g *domain.Generation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[g.ID] = *g
	return nil
}

func (m *memGenerations) GetByID(ctx context.Context, id string) (*domain.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := g
	return &cp, nil
}

func (m *memGenerations) Update(ctx context.Context, g *domain.Generation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[g.ID]; !ok {
		return domain.ErrNotFound
	}
	g.UpdatedAt = time.Now()
	m.items[g.ID] = *g
	return nil
}

func (m *memGenerations) ListByProfile(ctx context.Context, profileID string) ([]domain.Generation, error) {
	return nil, nil
}

func (m *memGenerations) ListActiveByProfile(ctx context.Context, profileID string) ([]domain.Generation, error) {
	return nil, nil
}

func (m *memGenerations) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

type memLogs struct {
	mu      sync.Mutex
	entries []domain.LogEntry
}

func (m *memLogs) Append(ctx context.Context, entry *domain.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memLogs) ListByGeneration(ctx context.Context, generationID string, limit int) ([]domain.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LogEntry
	for _, e := range m.entries {
		if e.GenerationID == generationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memLogs) contains(substr string, level domain.LogLevel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func (m *memLogs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type launchCall struct {
	spec    worker.Spec
	timeout time.Duration
	sink    worker.Sink
}

type fakeLauncher struct {
	mu       sync.Mutex
	launches []launchCall
	err      error
}

func (f *fakeLauncher) Launch(ctx context.Context, spec worker.Spec, timeout time.Duration, sink worker.Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.launches = append(f.launches, launchCall{spec: spec, timeout: timeout, sink: sink})
	return nil
}

func (f *fakeLauncher) last(t *testing.T) launchCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.launches) == 0 {
		t.Fatalf("no worker launched")
	}
	return f.launches[len(f.launches)-1]
}

func (f *fakeLauncher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.launches)
}

type fixture struct {
	orch     *Orchestrator
	gens     *memGenerations
	logs     *memLogs
	launcher *fakeLauncher
}

func newFixture(t *testing.T, gens ...domain.Generation) *fixture {
	t.Helper()
	f := &fixture{
		gens:     newMemGenerations(gens...),
		logs:     &memLogs{},
		launcher: &fakeLauncher{},
	}
	f.orch = New(context.Background(), Options{
		Generations: f.gens,
		Logs:        f.logs,
		Factory: &worker.Factory{
			PythonBin:  "python3",
			ScriptsDir: "/opt/vidforge/python",
		},
		Launcher:          f.launcher,
		Logger:            zerolog.Nop(),
		GenerationTimeout: 90 * time.Minute,
		EnhanceTimeout:    30 * time.Minute,
	})
	return f
}

func (f *fixture) generation(t *testing.T, id string) *domain.Generation {
	t.Helper()
	g, err := f.gens.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("generation %s: %v", id, err)
	}
	return g
}

func created(id string) domain.Generation {
	return domain.Generation{
		ID:        id,
		ProfileID: "p1",
		Name:      "Test",
		DomainKey: "metamask_fox",
		Language:  "pt",
		Status:    domain.StatusCreated,
	}
}

func TestStartTransitionsAndLaunches(t *testing.T) {
	f := newFixture(t, created("g1"))
	if err := f.orch.Start(context.Background(), "g1"); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if got := f.generation(t, "g1").Status; got != domain.StatusGeneratingScenario {
		t.Fatalf("status = %q, want GENERATING_SCENARIO", got)
	}
	call := f.launcher.last(t)
	if call.timeout != 90*time.Minute {
		t.Fatalf("timeout = %s", call.timeout)
	}
	if len(call.spec.Args) != 6 || call.spec.Args[3] != "g1" {
		t.Fatalf("worker args = %v", call.spec.Args)
	}
	if !f.logs.contains("generation started", domain.LogLevelInfo) {
		t.Fatalf("missing start log, got %+v", f.logs.entries)
	}
}

func TestStartTwiceFailsWithoutSecondWorker(t *testing.T) {
	f := newFixture(t, created("g1"))
	if err := f.orch.Start(context.Background(), "g1"); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	err := f.orch.Start(context.Background(), "g1")
	if !errors.Is(err, domain.ErrAlreadyStarted) {
		t.Fatalf("second Start = %v, want ErrAlreadyStarted", err)
	}
	if f.launcher.count() != 1 {
		t.Fatalf("launched %d workers, want 1", f.launcher.count())
	}
}

func TestStartUnknownGeneration(t *testing.T) {
	f := newFixture(t)
	if err := f.orch.Start(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Start = %v, want ErrNotFound", err)
	}
}

func TestStartLaunchFailureMarksFailed(t *testing.T) {
	f := newFixture(t, created("g1"))
	f.launcher.err = errors.New("spawn failed")
	if err := f.orch.Start(context.Background(), "g1"); err == nil {
		t.Fatalf("Start should surface launch error")
	}
	if got := f.generation(t, "g1").Status; got != domain.StatusFailed {
		t.Fatalf("status = %q, want FAILED", got)
	}
	if !f.logs.contains("Failed to launch", domain.LogLevelError) {
		t.Fatalf("missing launch failure log")
	}
}

func TestIntermediateResultUpdatesRecord(t *testing.T) {
	f := newFixture(t, created("g1"))
	if err := f.orch.Start(context.Background(), "g1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sink := f.launcher.last(t).sink
	sink.Stdout([]byte(`INTERMEDIATE_RESULT: {"step":"scenario","scenario":"S"}` + "\n"))

	g := f.generation(t, "g1")
	if g.Status != domain.StatusGeneratingTiming {
		t.Fatalf("status = %q, want GENERATING_TIMING", g.Status)
	}
	if g.Scenario != "S" {
		t.Fatalf("scenario = %q, want S", g.Scenario)
	}
	if !f.logs.contains(`Stage "scenario" completed`, domain.LogLevelInfo) {
		t.Fatalf("missing stage log")
	}
}

func TestFullPipelineToCompleted(t *testing.T) {
	f := newFixture(t, created("g1"))
	if err := f.orch.Start(context.Background(), "g1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sink := f.launcher.last(t).sink
	sink.Stdout([]byte(`INTERMEDIATE_RESULT: {"step":"scenario","scenario":"S"}` + "\n"))
	sink.Stdout([]byte(`INTERMEDIATE_RESULT: {"step":"timing","scenario":"S","timing":16}` + "\n"))
	sink.Stdout([]byte(`INTERMEDIATE_RESULT: {"step":"prompts","scenario":"S","timing":16,"prompts":[{"prompt":"p"}]}` + "\n"))
	sink.Stdout([]byte(`INTERMEDIATE_RESULT: {"step":"videos","scenario":"S","timing":16,"prompts":[{"prompt":"p"}],"video_segments":["a.mp4"]}` + "\n"))
	sink.Stdout([]byte(`GENERATION_RESULT: {"scenario":"S","timing":16,"prompts":[{"prompt":"p"},{"prompt":"q"}],"video_segments":["a.mp4","b.mp4"],"final_video":"ready/f.mp4"}` + "\n"))
	sink.Exit(worker.ExitResult{Code: 0})

	g := f.generation(t, "g1")
	if g.Status != domain.StatusCompleted {
		t.Fatalf("status = %q, want COMPLETED", g.Status)
	}
	if g.FinalVideo != "ready/f.mp4" {
		t.Fatalf("final video = %q", g.FinalVideo)
	}
	// The final payload wins over the intermediate counts.
	if len(g.Prompts) != 2 || len(g.VideoFiles) != 2 {
		t.Fatalf("prompts/videos = %d/%d, want 2/2", len(g.Prompts), len(g.VideoFiles))
	}
	if !f.logs.contains("completed successfully", domain.LogLevelInfo) {
		t.Fatalf("missing completion log")
	}
}

func TestNonzeroExitFailsJobKeepingArtifacts(t *testing.T) {
	f := newFixture(t, created("g1"))
	if err := f.orch.Start(context.Background(), "g1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sink := f.launcher.last(t).sink
	sink.Stdout([]byte(`INTERMEDIATE_RESULT: {"step":"scenario","scenario":"S"}` + "\n"))
	sink.Exit(worker.ExitResult{Code: 1})

	g := f.generation(t, "g1")
	if g.Status != domain.StatusFailed {
		t.Fatalf("status = %q, want FAILED", g.Status)
	}
	if g.Scenario != "S" {
		t.Fatalf("scenario lost on failure")
	}
	if !f.logs.contains("exit code 1", domain.LogLevelError) {
		t.Fatalf("missing failure log")
	}
}

func TestTimeoutFailsJob(t *testing.T) {
	f := newFixture(t, created("g1"))
	if err := f.orch.Start(context.Background(), "g1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.launcher.last(t).sink.Exit(worker.ExitResult{Code: -1, TimedOut: true, Runtime: 90 * time.Minute})
	if got := f.generation(t, "g1").Status; got != domain.StatusFailed {
		t.Fatalf("status = %q, want FAILED", got)
	}
	if !f.logs.contains("timed out", domain.LogLevelError) {
		t.Fatalf("missing timeout log")
	}
}

func TestCleanExitWithoutMarkerFallsBackToCompleted(t *testing.T) {
	f := newFixture(t, created("g1"))
	if err := f.orch.Start(context.Background(), "g1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sink := f.launcher.last(t).sink
	sink.Stdout([]byte(`INTERMEDIATE_RESULT: {"step":"scenario","scenario":"S"}` + "\n"))
	sink.Exit(worker.ExitResult{Code: 0})

	if got := f.generation(t, "g1").Status; got != domain.StatusCompleted {
		t.Fatalf("status = %q, want COMPLETED fallback", got)
	}
	if !f.logs.contains("without final result", domain.LogLevelWarn) {
		t.Fatalf("missing fallback log")
	}
}

func TestFinalMarkerSplitAcrossChunksBeforeExit(t *testing.T) {
	f := newFixture(t, created("g1"))
	if err := f.orch.Start(context.Background(), "g1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sink := f.launcher.last(t).sink
	// The marker line arrives split and without a trailing newline; the exit
	// handler must flush it before deciding the outcome.
	sink.Stdout([]byte(`GENERATION_RESULT: {"scenario":"S","final_`))
	sink.Stdout([]byte(`video":"ready/f.mp4"}`))
	sink.Exit(worker.ExitResult{Code: 0})

	g := f.generation(t, "g1")
	if g.Status != domain.StatusCompleted || g.FinalVideo != "ready/f.mp4" {
		t.Fatalf("final marker lost: status=%q final=%q", g.Status, g.FinalVideo)
	}
}

func TestMalformedResultLogsErrorAndContinues(t *testing.T) {
	f := newFixture(t, created("g1"))
	if err := f.orch.Start(context.Background(), "g1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sink := f.launcher.last(t).sink
	sink.Stdout([]byte("INTERMEDIATE_RESULT: {broken\n"))
	sink.Stdout([]byte(`INTERMEDIATE_RESULT: {"step":"scenario","scenario":"S"}` + "\n"))

	if !f.logs.contains("Malformed worker result", domain.LogLevelError) {
		t.Fatalf("missing parse error log")
	}
	if got := f.generation(t, "g1").Status; got != domain.StatusGeneratingTiming {
		t.Fatalf("stream did not continue after parse error, status = %q", got)
	}
}

func TestWorkerLogFiltering(t *testing.T) {
	f := newFixture(t, created("g1"))
	if err := f.orch.Start(context.Background(), "g1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	before := f.logs.count()
	sink := f.launcher.last(t).sink
	sink.Stdout([]byte("45%|████\n"))
	if f.logs.count() != before {
		t.Fatalf("progress noise was persisted")
	}
	sink.Stdout([]byte("Rendering complete\n"))
	if !f.logs.contains("Rendering complete", domain.LogLevelInfo) {
		t.Fatalf("real log line dropped")
	}
	sink.Stderr("something broke")
	if !f.logs.contains("something broke", domain.LogLevelError) {
		t.Fatalf("stderr line not recorded at ERROR")
	}
}

func completedGeneration(id string) domain.Generation {
	g := created(id)
	g.Status = domain.StatusCompleted
	g.Scenario = "S"
	g.FinalVideo = "ready/f.mp4"
	return g
}

func TestEnhancePreconditions(t *testing.T) {
	running := created("g1")
	running.Status = domain.StatusGeneratingVideos

	noVideo := created("g2")
	noVideo.Status = domain.StatusCompleted

	enhanced := completedGeneration("g3")
	enhanced.EnhancedVideo = "ready/f_enhanced.mp4"

	f := newFixture(t, running, noVideo, enhanced)

	if err := f.orch.Enhance(context.Background(), "g1"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("Enhance on running = %v, want ErrInvalidState", err)
	}
	if err := f.orch.Enhance(context.Background(), "g2"); !errors.Is(err, domain.ErrNoFinalVideo) {
		t.Fatalf("Enhance without final video = %v, want ErrNoFinalVideo", err)
	}
	if err := f.orch.Enhance(context.Background(), "g3"); !errors.Is(err, domain.ErrAlreadyEnhanced) {
		t.Fatalf("Enhance twice = %v, want ErrAlreadyEnhanced", err)
	}
	if f.launcher.count() != 0 {
		t.Fatalf("preconditions launched %d workers", f.launcher.count())
	}
}

func TestEnhanceHappyPath(t *testing.T) {
	f := newFixture(t, completedGeneration("g1"))
	if err := f.orch.Enhance(context.Background(), "g1"); err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if got := f.generation(t, "g1").Status; got != domain.StatusEnhancingAudio {
		t.Fatalf("status = %q, want ENHANCING_AUDIO", got)
	}

	// A second request while the enhancer runs is rejected deterministically.
	if err := f.orch.Enhance(context.Background(), "g1"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("concurrent Enhance = %v, want ErrInvalidState", err)
	}

	call := f.launcher.last(t)
	if call.timeout != 30*time.Minute {
		t.Fatalf("enhance timeout = %s", call.timeout)
	}
	if call.spec.Args[1] != "ready/f.mp4" || call.spec.Args[2] != "g1" {
		t.Fatalf("enhancer args = %v", call.spec.Args)
	}

	call.sink.Stdout([]byte(`ENHANCED_RESULT: {"enhanced_video":"ready/f_enhanced.mp4"}` + "\n"))
	call.sink.Exit(worker.ExitResult{Code: 0})

	g := f.generation(t, "g1")
	if g.Status != domain.StatusCompleted {
		t.Fatalf("status = %q, want COMPLETED", g.Status)
	}
	if g.EnhancedVideo != "ready/f_enhanced.mp4" {
		t.Fatalf("enhanced video = %q", g.EnhancedVideo)
	}
}

func TestEnhanceFailureRevertsToCompleted(t *testing.T) {
	f := newFixture(t, completedGeneration("g1"))
	if err := f.orch.Enhance(context.Background(), "g1"); err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	f.launcher.last(t).sink.Exit(worker.ExitResult{Code: 2})

	g := f.generation(t, "g1")
	if g.Status != domain.StatusCompleted {
		t.Fatalf("status = %q, want COMPLETED after enhancement failure", g.Status)
	}
	if g.EnhancedVideo != "" {
		t.Fatalf("enhanced video should stay empty, got %q", g.EnhancedVideo)
	}
	if !f.logs.contains("enhancement failed", domain.LogLevelError) {
		t.Fatalf("missing enhancement failure log")
	}
}

func (f *fixture) lockCount() int {
	f.orch.mu.Lock()
	defer f.orch.mu.Unlock()
	return len(f.orch.locks)
}

func TestLockMapDrainsAfterRuns(t *testing.T) {
	f := newFixture(t, created("g1"), completedGeneration("g2"))

	if err := f.orch.Start(context.Background(), "g1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sink := f.launcher.last(t).sink
	sink.Stdout([]byte(`GENERATION_RESULT: {"scenario":"S","final_video":"f.mp4"}` + "\n"))
	sink.Exit(worker.ExitResult{Code: 0})

	if err := f.orch.Enhance(context.Background(), "g2"); err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	f.launcher.last(t).sink.Exit(worker.ExitResult{Code: 0})

	if n := f.lockCount(); n != 0 {
		t.Fatalf("lock map holds %d entries after all runs finished, want 0", n)
	}
}

func TestEnhanceConcurrentRequests(t *testing.T) {
	f := newFixture(t, completedGeneration("g1"))

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.orch.Enhance(context.Background(), "g1")
		}(i)
	}
	wg.Wait()

	var won, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, domain.ErrInvalidState):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || rejected != 1 {
		t.Fatalf("won=%d rejected=%d, want exactly one of each", won, rejected)
	}
	if f.launcher.count() != 1 {
		t.Fatalf("launched %d enhancers, want 1", f.launcher.count())
	}
	if got := f.generation(t, "g1").Status; got != domain.StatusEnhancingAudio {
		t.Fatalf("status = %q, want ENHANCING_AUDIO", got)
	}
}

func TestStatusProjection(t *testing.T) {
	g := completedGeneration("g1")
	f := newFixture(t, g)
	view, err := f.orch.Status(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if view.ID != "g1" || view.Status != domain.StatusCompleted || !view.HasFinalVideo {
		t.Fatalf("unexpected view: %+v", view)
	}
	if _, err := f.orch.Status(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Status(missing) = %v, want ErrNotFound", err)
	}
}
