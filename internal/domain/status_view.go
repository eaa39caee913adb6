package domain

import "time"

// StatusView is the cheap polling projection of a generation: booleans and
// counts instead of full payloads so clients can poll frequently.
type StatusView struct {
	ID                 string    `json:"id"`
	Status             Status    `json:"status"`
	HasScenario        bool      `json:"hasScenario"`
	HasTiming          bool      `json:"hasTiming"`
	HasPrompts         bool      `json:"hasPrompts"`
	HasVideoFiles      bool      `json:"hasVideoFiles"`
	HasFinalVideo      bool      `json:"hasFinalVideo"`
	HasEnhancedVideo   bool      `json:"hasEnhancedVideo"`
	PromptsCount       int       `json:"promptsCount"`
	VideoSegmentsCount int       `json:"videoSegmentsCount"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// NewStatusView projects a snapshot of the generation into its polling view.
func NewStatusView(g *Generation) StatusView {
	return StatusView{
		ID:                 g.ID,
		Status:             g.Status,
		HasScenario:        g.Scenario != "",
		HasTiming:          g.Timing != nil,
		HasPrompts:         len(g.Prompts) > 0,
		HasVideoFiles:      len(g.VideoFiles) > 0,
		HasFinalVideo:      g.FinalVideo != "",
		HasEnhancedVideo:   g.EnhancedVideo != "",
		PromptsCount:       len(g.Prompts),
		VideoSegmentsCount: len(g.VideoFiles),
		UpdatedAt:          g.UpdatedAt,
	}
}
