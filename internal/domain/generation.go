package domain

import (
	"encoding/json"
	"time"
)

// Status enumerates the generation lifecycle states in pipeline order.
type Status string

const (
	StatusCreated            Status = "CREATED"
	StatusGeneratingScenario Status = "GENERATING_SCENARIO"
	StatusGeneratingTiming   Status = "GENERATING_TIMING"
	StatusGeneratingPrompts  Status = "GENERATING_PROMPTS"
	StatusGeneratingVideos   Status = "GENERATING_VIDEOS"
	StatusConcatenating      Status = "CONCATENATING"
	StatusCompleted          Status = "COMPLETED"
	StatusFailed             Status = "FAILED"
	StatusEnhancingAudio     Status = "ENHANCING_AUDIO"
)

// statusOrder maps every forward pipeline state to its ordinal. The ordinal
// only ever increases for a running generation; ENHANCING_AUDIO shares the
// COMPLETED ordinal because it is an excursion from a completed job, not a
// pipeline stage.
var statusOrder = map[Status]int{
	StatusCreated:            0,
	StatusGeneratingScenario: 1,
	StatusGeneratingTiming:   2,
	StatusGeneratingPrompts:  3,
	StatusGeneratingVideos:   4,
	StatusConcatenating:      5,
	StatusCompleted:          6,
	StatusEnhancingAudio:     6,
}

// Ordinal returns the position of the status in the pipeline order.
// FAILED has no ordinal and returns -1.
func (s Status) Ordinal() int {
	if ord, ok := statusOrder[s]; ok {
		return ord
	}
	return -1
}

// Terminal reports whether the status ends the primary pipeline.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether the status is a known lifecycle state.
func (s Status) Valid() bool {
	return s == StatusFailed || s.Ordinal() >= 0
}

// PromptDescriptor is one ordered video-segment prompt produced by the worker.
type PromptDescriptor struct {
	Prompt        string `json:"prompt"`
	AspectRatio   string `json:"aspect_ratio,omitempty"`
	Duration      string `json:"duration,omitempty"`
	EnhancePrompt bool   `json:"enhance_prompt,omitempty"`
	GenerateAudio bool   `json:"generate_audio,omitempty"`
}

// Generation is one request to run the multi-stage video pipeline. Stage
// artifact fields are populated incrementally as the worker reports progress.
type Generation struct {
	ID        string
	ProfileID string
	Name      string
	DomainKey string
	Product   json.RawMessage
	Language  string
	UserInput string

	Status        Status
	Scenario      string
	Timing        *float64
	Prompts       []PromptDescriptor
	VideoFiles    []string
	FinalVideo    string
	EnhancedVideo string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Step identifies which pipeline stage an intermediate result belongs to.
type Step string

const (
	StepScenario Step = "scenario"
	StepTiming   Step = "timing"
	StepPrompts  Step = "prompts"
	StepVideos   Step = "videos"
)

// stepTarget maps a completed step to the status the generation advances to.
var stepTarget = map[Step]Status{
	StepScenario: StatusGeneratingTiming,
	StepTiming:   StatusGeneratingPrompts,
	StepPrompts:  StatusGeneratingVideos,
	StepVideos:   StatusConcatenating,
}

// Valid reports whether the step is one of the four intermediate stages.
func (s Step) Valid() bool {
	_, ok := stepTarget[s]
	return ok
}

// StageResult is a decoded intermediate protocol payload. Fields are
// cumulative: a later step carries everything earlier steps produced.
type StageResult struct {
	Step          Step
	Scenario      string
	Timing        *float64
	Prompts       []PromptDescriptor
	VideoSegments []string
}

// FinalResult is the decoded terminal protocol payload. It always carries the
// complete artifact set.
type FinalResult struct {
	Scenario      string
	Timing        *float64
	Prompts       []PromptDescriptor
	VideoSegments []string
	FinalVideo    string
}

// EnhancedResult is the decoded terminal payload of the audio enhancement
// worker.
type EnhancedResult struct {
	EnhancedVideo string
}

// Start transitions a freshly created generation to its first in-progress
// stage. Returns ErrAlreadyStarted when the generation left CREATED before.
func (g *Generation) Start() error {
	if g.Status != StatusCreated {
		return ErrAlreadyStarted
	}
	g.Status = StatusGeneratingScenario
	return nil
}

// ApplyStage folds an intermediate result into the generation. It is a pure
// function of the receiver and the result: artifact fields present on the
// result overwrite their counterparts, and the status advances to the step's
// target unless a later stage or a terminal state was already recorded.
// Reapplying the same result yields the same generation.
func (g Generation) ApplyStage(res StageResult) Generation {
	if g.Status.Terminal() || g.Status == StatusEnhancingAudio {
		return g
	}
	if res.Scenario != "" {
		g.Scenario = res.Scenario
	}
	if res.Timing != nil {
		t := *res.Timing
		g.Timing = &t
	}
	if res.Prompts != nil {
		g.Prompts = res.Prompts
	}
	if res.VideoSegments != nil {
		g.VideoFiles = res.VideoSegments
	}
	if target, ok := stepTarget[res.Step]; ok && target.Ordinal() > g.Status.Ordinal() {
		g.Status = target
	}
	return g
}

// ApplyFinal folds the terminal result into the generation and forces
// COMPLETED, superseding whatever stage the intermediate results had reached.
func (g Generation) ApplyFinal(res FinalResult) Generation {
	if g.Status == StatusFailed {
		return g
	}
	g.Scenario = res.Scenario
	if res.Timing != nil {
		t := *res.Timing
		g.Timing = &t
	}
	g.Prompts = res.Prompts
	g.VideoFiles = res.VideoSegments
	g.FinalVideo = res.FinalVideo
	g.Status = StatusCompleted
	return g
}

// BeginEnhancement transitions a completed generation into the audio
// enhancement excursion. Preconditions follow the documented contract:
// COMPLETED, a final video present, no enhanced video yet.
func (g *Generation) BeginEnhancement() error {
	switch {
	case g.Status != StatusCompleted:
		return ErrInvalidState
	case g.FinalVideo == "":
		return ErrNoFinalVideo
	case g.EnhancedVideo != "":
		return ErrAlreadyEnhanced
	}
	g.Status = StatusEnhancingAudio
	return nil
}

// ApplyEnhanced records the enhanced artifact and returns the generation to
// COMPLETED.
func (g Generation) ApplyEnhanced(res EnhancedResult) Generation {
	if res.EnhancedVideo != "" {
		g.EnhancedVideo = res.EnhancedVideo
	}
	g.Status = StatusCompleted
	return g
}

// MarkFailed forces the terminal FAILED state. Artifacts recorded so far are
// preserved.
func (g *Generation) MarkFailed() {
	g.Status = StatusFailed
}

// MarkCompleted forces COMPLETED. Used as the exit-code fallback when the
// worker exits cleanly without having emitted the final marker.
func (g *Generation) MarkCompleted() {
	g.Status = StatusCompleted
}

// Active reports whether a worker is expected to be running for this
// generation.
func (g *Generation) Active() bool {
	return !g.Status.Terminal() && g.Status != StatusCreated
}
