package worker

import (
	"fmt"
	"reflect"
	"testing"

	"vidforge/internal/domain"
)

type recorder struct {
	stages   []domain.StageResult
	finals   []domain.FinalResult
	enhanced []domain.EnhancedResult
	logs     []string
	errs     []string
}

func (r *recorder) events() Events {
	return Events{
		OnStage:      func(res domain.StageResult) { r.stages = append(r.stages, res) },
		OnFinal:      func(res domain.FinalResult) { r.finals = append(r.finals, res) },
		OnEnhanced:   func(res domain.EnhancedResult) { r.enhanced = append(r.enhanced, res) },
		OnLog:        func(line string) { r.logs = append(r.logs, line) },
		OnParseError: func(line string, err error) { r.errs = append(r.errs, err.Error()) },
	}
}

func TestParserIntermediateResult(t *testing.T) {
	var rec recorder
	p := NewParser(rec.events())
	p.Feed([]byte(`INTERMEDIATE_RESULT: {"step":"scenario","scenario":"S"}` + "\n"))

	if len(rec.stages) != 1 {
		t.Fatalf("stages = %d, want 1", len(rec.stages))
	}
	if rec.stages[0].Step != domain.StepScenario || rec.stages[0].Scenario != "S" {
		t.Fatalf("unexpected stage result: %+v", rec.stages[0])
	}
	if len(rec.logs) != 0 || len(rec.errs) != 0 {
		t.Fatalf("unexpected logs/errors: %v %v", rec.logs, rec.errs)
	}
}

func TestParserChunkBoundaryInvariance(t *testing.T) {
	line := `INTERMEDIATE_RESULT: {"step":"timing","scenario":"S","timing":16.5}` + "\n"

	var whole recorder
	NewParser(whole.events()).Feed([]byte(line))

	// Feed the same line split at every possible byte offset.
	for i := 1; i < len(line); i++ {
		var split recorder
		p := NewParser(split.events())
		p.Feed([]byte(line[:i]))
		p.Feed([]byte(line[i:]))
		if !reflect.DeepEqual(split.stages, whole.stages) {
			t.Fatalf("split at %d diverged: %+v vs %+v", i, split.stages, whole.stages)
		}
	}
}

func TestParserMultipleLinesPerChunk(t *testing.T) {
	var rec recorder
	p := NewParser(rec.events())
	chunk := "Generating scenario...\n" +
		`INTERMEDIATE_RESULT: {"step":"scenario","scenario":"S"}` + "\n" +
		`INTERMEDIATE_RESULT: {"step":"timing","scenario":"S","timing":8}` + "\n" +
		"done\n"
	p.Feed([]byte(chunk))

	if len(rec.stages) != 2 {
		t.Fatalf("stages = %d, want 2", len(rec.stages))
	}
	if rec.stages[0].Step != domain.StepScenario || rec.stages[1].Step != domain.StepTiming {
		t.Fatalf("stage order wrong: %+v", rec.stages)
	}
	if !reflect.DeepEqual(rec.logs, []string{"Generating scenario...", "done"}) {
		t.Fatalf("logs = %v", rec.logs)
	}
}

func TestParserMalformedPayloadContinues(t *testing.T) {
	var rec recorder
	p := NewParser(rec.events())
	p.Feed([]byte("INTERMEDIATE_RESULT: {not json\n"))
	p.Feed([]byte(`INTERMEDIATE_RESULT: {"step":"scenario","scenario":"S"}` + "\n"))

	if len(rec.errs) != 1 {
		t.Fatalf("parse errors = %d, want 1", len(rec.errs))
	}
	if len(rec.stages) != 1 {
		t.Fatalf("stages after malformed line = %d, want 1", len(rec.stages))
	}
}

func TestParserUnknownStepIsParseError(t *testing.T) {
	var rec recorder
	p := NewParser(rec.events())
	p.Feed([]byte(`INTERMEDIATE_RESULT: {"step":"mystery"}` + "\n"))
	if len(rec.errs) != 1 || len(rec.stages) != 0 {
		t.Fatalf("errs=%v stages=%v", rec.errs, rec.stages)
	}
}

func TestParserFinalResult(t *testing.T) {
	var rec recorder
	p := NewParser(rec.events())
	payload := `{"scenario":"S","timing":24,"prompts":[{"prompt":"p1"},{"prompt":"p2"}],` +
		`"video_segments":["a.mp4","b.mp4"],"final_video":"ready/final.mp4"}`
	p.Feed([]byte("GENERATION_RESULT: " + payload + "\n"))

	if len(rec.finals) != 1 {
		t.Fatalf("finals = %d, want 1", len(rec.finals))
	}
	got := rec.finals[0]
	if got.FinalVideo != "ready/final.mp4" || len(got.Prompts) != 2 || len(got.VideoSegments) != 2 {
		t.Fatalf("unexpected final result: %+v", got)
	}
}

func TestParserEnhancedResult(t *testing.T) {
	var rec recorder
	p := NewParser(rec.events())
	p.Feed([]byte(`ENHANCED_RESULT: {"enhanced_video":"ready/final_enhanced.mp4"}` + "\n"))
	if len(rec.enhanced) != 1 || rec.enhanced[0].EnhancedVideo != "ready/final_enhanced.mp4" {
		t.Fatalf("enhanced = %+v", rec.enhanced)
	}

	p.Feed([]byte(`ENHANCED_RESULT: {"error":"boom"}` + "\n"))
	if len(rec.errs) != 1 {
		t.Fatalf("missing enhanced_video should be a parse error, errs=%v", rec.errs)
	}
}

func TestParserFlushHandlesTrailingLine(t *testing.T) {
	var rec recorder
	p := NewParser(rec.events())
	// No trailing newline: the fragment must be retained, not parsed early.
	p.Feed([]byte(`GENERATION_RESULT: {"scenario":"S","final_`))
	if len(rec.finals) != 0 && len(rec.errs) != 0 {
		t.Fatalf("fragment parsed prematurely")
	}
	p.Feed([]byte(`video":"f.mp4"}`))
	p.Flush()
	if len(rec.finals) != 1 || rec.finals[0].FinalVideo != "f.mp4" {
		t.Fatalf("flush did not complete the line: %+v", rec.finals)
	}
}

func TestParserCRLFAndOrdering(t *testing.T) {
	var rec recorder
	p := NewParser(rec.events())
	for i := 0; i < 5; i++ {
		p.Feed([]byte(fmt.Sprintf("log line %d\r\n", i)))
	}
	want := []string{"log line 0", "log line 1", "log line 2", "log line 3", "log line 4"}
	if !reflect.DeepEqual(rec.logs, want) {
		t.Fatalf("logs = %v, want %v", rec.logs, want)
	}
}
