package worker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"vidforge/internal/domain"
)

// Markers are fixed textual prefixes on worker stdout lines signalling that a
// structured JSON payload follows. Everything else on stdout is plain log
// content.
const (
	markerIntermediate = "INTERMEDIATE_RESULT:"
	markerFinal        = "GENERATION_RESULT:"
	markerEnhanced     = "ENHANCED_RESULT:"
)

// Events receives everything the parser decodes. All callbacks are optional;
// they are invoked in the exact order their lines appeared on the stream.
type Events struct {
	OnStage      func(res domain.StageResult)
	OnFinal      func(res domain.FinalResult)
	OnEnhanced   func(res domain.EnhancedResult)
	OnLog        func(line string)
	OnParseError func(line string, err error)
}

// Parser decodes the line-oriented worker result protocol from raw stdout
// chunks. Chunk boundaries are arbitrary: a logical line may arrive split
// across chunks, and one chunk may carry several lines. The parser keeps the
// unterminated trailing fragment buffered until its newline arrives.
type Parser struct {
	events Events
	buf    bytes.Buffer
}

// NewParser returns a parser dispatching into the given event callbacks.
func NewParser(events Events) *Parser {
	return &Parser{events: events}
}

// Feed consumes one raw stdout chunk.
func (p *Parser) Feed(chunk []byte) {
	p.buf.Write(chunk)
	for {
		data := p.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			return
		}
		line := string(data[:idx])
		p.buf.Next(idx + 1)
		p.handleLine(strings.TrimSuffix(line, "\r"))
	}
}

// Flush processes a trailing line that never received its newline. Call once
// after the stream is fully drained.
func (p *Parser) Flush() {
	if p.buf.Len() == 0 {
		return
	}
	line := p.buf.String()
	p.buf.Reset()
	p.handleLine(strings.TrimSuffix(line, "\r"))
}

func (p *Parser) handleLine(line string) {
	switch {
	case strings.HasPrefix(line, markerIntermediate):
		p.parseIntermediate(line, strings.TrimPrefix(line, markerIntermediate))
	case strings.HasPrefix(line, markerFinal):
		p.parseFinal(line, strings.TrimPrefix(line, markerFinal))
	case strings.HasPrefix(line, markerEnhanced):
		p.parseEnhanced(line, strings.TrimPrefix(line, markerEnhanced))
	default:
		if p.events.OnLog != nil {
			p.events.OnLog(line)
		}
	}
}

// intermediatePayload is the wire shape of one intermediate result. Fields
// are cumulative across steps.
type intermediatePayload struct {
	Step          string                    `json:"step"`
	Scenario      string                    `json:"scenario"`
	Timing        *float64                  `json:"timing"`
	Prompts       []domain.PromptDescriptor `json:"prompts"`
	VideoSegments []string                  `json:"video_segments"`
}

type finalPayload struct {
	Scenario      string                    `json:"scenario"`
	Timing        *float64                  `json:"timing"`
	Prompts       []domain.PromptDescriptor `json:"prompts"`
	VideoSegments []string                  `json:"video_segments"`
	FinalVideo    string                    `json:"final_video"`
}

type enhancedPayload struct {
	EnhancedVideo string `json:"enhanced_video"`
}

func (p *Parser) parseIntermediate(line, raw string) {
	var payload intermediatePayload
	if err := decodePayload(raw, &payload); err != nil {
		p.parseError(line, err)
		return
	}
	step := domain.Step(payload.Step)
	if !step.Valid() {
		p.parseError(line, fmt.Errorf("unknown step %q", payload.Step))
		return
	}
	if p.events.OnStage != nil {
		p.events.OnStage(domain.StageResult{
			Step:          step,
			Scenario:      payload.Scenario,
			Timing:        payload.Timing,
			Prompts:       payload.Prompts,
			VideoSegments: payload.VideoSegments,
		})
	}
}

func (p *Parser) parseFinal(line, raw string) {
	var payload finalPayload
	if err := decodePayload(raw, &payload); err != nil {
		p.parseError(line, err)
		return
	}
	if p.events.OnFinal != nil {
		p.events.OnFinal(domain.FinalResult{
			Scenario:      payload.Scenario,
			Timing:        payload.Timing,
			Prompts:       payload.Prompts,
			VideoSegments: payload.VideoSegments,
			FinalVideo:    payload.FinalVideo,
		})
	}
}

func (p *Parser) parseEnhanced(line, raw string) {
	var payload enhancedPayload
	if err := decodePayload(raw, &payload); err != nil {
		p.parseError(line, err)
		return
	}
	if payload.EnhancedVideo == "" {
		p.parseError(line, fmt.Errorf("enhanced result missing enhanced_video"))
		return
	}
	if p.events.OnEnhanced != nil {
		p.events.OnEnhanced(domain.EnhancedResult{EnhancedVideo: payload.EnhancedVideo})
	}
}

// decodePayload parses the JSON following a marker. The worker prints a space
// between the marker colon and the payload, so leading whitespace is allowed.
func decodePayload(raw string, dst any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func (p *Parser) parseError(line string, err error) {
	if p.events.OnParseError != nil {
		p.events.OnParseError(line, err)
	}
}
