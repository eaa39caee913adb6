package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vidforge/internal/domain"
)

const recentLogsPerGeneration = 5

type createGenerationRequest struct {
	Name      string          `json:"name"`
	ProfileID string          `json:"profile_id"`
	DomainKey string          `json:"domain_key"`
	Product   json.RawMessage `json:"product"`
	Language  string          `json:"language"`
	UserInput string          `json:"user_input"`
}

type generationView struct {
	ID            string                    `json:"id"`
	ProfileID     string                    `json:"profile_id"`
	Name          string                    `json:"name"`
	DomainKey     string                    `json:"domain_key"`
	Product       json.RawMessage           `json:"product,omitempty"`
	Language      string                    `json:"language"`
	UserInput     string                    `json:"user_input,omitempty"`
	Status        domain.Status             `json:"status"`
	Scenario      string                    `json:"scenario,omitempty"`
	Timing        *float64                  `json:"timing,omitempty"`
	Prompts       []domain.PromptDescriptor `json:"prompts,omitempty"`
	VideoFiles    []string                  `json:"video_files,omitempty"`
	FinalVideo    string                    `json:"final_video,omitempty"`
	EnhancedVideo string                    `json:"enhanced_video,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
	Logs          []logView                 `json:"logs,omitempty"`
}

type logView struct {
	ID        string          `json:"id"`
	Message   string          `json:"message"`
	Level     domain.LogLevel `json:"level"`
	CreatedAt time.Time       `json:"created_at"`
}

func newGenerationView(g *domain.Generation, logs []domain.LogEntry) generationView {
	v := generationView{
		ID:            g.ID,
		ProfileID:     g.ProfileID,
		Name:          g.Name,
		DomainKey:     g.DomainKey,
		Product:       g.Product,
		Language:      g.Language,
		UserInput:     g.UserInput,
		Status:        g.Status,
		Scenario:      g.Scenario,
		Timing:        g.Timing,
		Prompts:       g.Prompts,
		VideoFiles:    g.VideoFiles,
		FinalVideo:    g.FinalVideo,
		EnhancedVideo: g.EnhancedVideo,
		CreatedAt:     g.CreatedAt,
		UpdatedAt:     g.UpdatedAt,
	}
	for _, e := range logs {
		v.Logs = append(v.Logs, logView{ID: e.ID, Message: e.Message, Level: e.Level, CreatedAt: e.CreatedAt})
	}
	return v
}

func (a *App) GenerationsCreate(w http.ResponseWriter, r *http.Request) {
	var req createGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.ProfileID = strings.TrimSpace(req.ProfileID)
	req.DomainKey = strings.TrimSpace(req.DomainKey)
	if req.Name == "" || req.ProfileID == "" || req.DomainKey == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "name, profile_id and domain_key are required")
		return
	}
	if req.Language == "" {
		req.Language = "pt"
	}

	g := &domain.Generation{
		ID:        uuid.NewString(),
		ProfileID: req.ProfileID,
		Name:      req.Name,
		DomainKey: req.DomainKey,
		Product:   req.Product,
		Language:  req.Language,
		UserInput: req.UserInput,
		Status:    domain.StatusCreated,
	}
	if err := a.Generations.Create(r.Context(), g); err != nil {
		a.Logger.Error().Err(err).Msg("create generation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to create generation")
		return
	}
	created, err := a.Generations.GetByID(r.Context(), g.ID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load generation")
		return
	}
	a.json(w, http.StatusCreated, newGenerationView(created, nil))
}

func (a *App) GenerationsList(w http.ResponseWriter, r *http.Request) {
	profileID := strings.TrimSpace(r.URL.Query().Get("profile_id"))
	if profileID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "profile_id is required")
		return
	}
	generations, err := a.Generations.ListByProfile(r.Context(), profileID)
	if err != nil {
		a.Logger.Error().Err(err).Msg("list generations failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list generations")
		return
	}
	items := make([]generationView, 0, len(generations))
	for i := range generations {
		g := &generations[i]
		logs, err := a.Logs.ListByGeneration(r.Context(), g.ID, recentLogsPerGeneration)
		if err != nil {
			logs = nil
		}
		items = append(items, newGenerationView(g, logs))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// GenerationsActive lists the in-progress generations for a profile; the UI
// polls this to know which status feeds to keep refreshing.
func (a *App) GenerationsActive(w http.ResponseWriter, r *http.Request) {
	profileID := strings.TrimSpace(r.URL.Query().Get("profile_id"))
	if profileID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "profile_id is required")
		return
	}
	generations, err := a.Generations.ListActiveByProfile(r.Context(), profileID)
	if err != nil {
		a.Logger.Error().Err(err).Msg("list active generations failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list active generations")
		return
	}
	items := make([]domain.StatusView, 0, len(generations))
	for i := range generations {
		items = append(items, domain.NewStatusView(&generations[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) GenerationGet(w http.ResponseWriter, r *http.Request) {
	g, ok := a.loadGeneration(w, r)
	if !ok {
		return
	}
	logs, err := a.Logs.ListByGeneration(r.Context(), g.ID, 0)
	if err != nil {
		a.Logger.Error().Err(err).Str("generation_id", g.ID).Msg("list logs failed")
		logs = nil
	}
	a.json(w, http.StatusOK, newGenerationView(g, logs))
}

func (a *App) GenerationDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Generations.Delete(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "generation not found")
			return
		}
		a.Logger.Error().Err(err).Str("generation_id", id).Msg("delete generation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to delete generation")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"id": id, "deleted": "true"})
}

// GenerationStart kicks off the background generation job. The request
// returns as soon as the worker has been launched.
func (a *App) GenerationStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Orch.Start(r.Context(), id); err != nil {
		a.orchestratorError(w, id, err, "failed to start generation")
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"id": id, "message": "generation started"})
}

// GenerationEnhance kicks off the best-effort audio enhancement sub-job on a
// completed generation.
func (a *App) GenerationEnhance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Orch.Enhance(r.Context(), id); err != nil {
		a.orchestratorError(w, id, err, "failed to start audio enhancement")
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"id": id, "message": "audio enhancement started"})
}

func (a *App) GenerationStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := a.Orch.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "generation not found")
			return
		}
		a.Logger.Error().Err(err).Str("generation_id", id).Msg("status read failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to read status")
		return
	}
	a.json(w, http.StatusOK, view)
}

func (a *App) GenerationLogs(w http.ResponseWriter, r *http.Request) {
	g, ok := a.loadGeneration(w, r)
	if !ok {
		return
	}
	logs, err := a.Logs.ListByGeneration(r.Context(), g.ID, 0)
	if err != nil {
		a.Logger.Error().Err(err).Str("generation_id", g.ID).Msg("list logs failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list logs")
		return
	}
	items := make([]logView, 0, len(logs))
	for _, e := range logs {
		items = append(items, logView{ID: e.ID, Message: e.Message, Level: e.Level, CreatedAt: e.CreatedAt})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// GenerationDownload streams the final (default) or enhanced video.
func (a *App) GenerationDownload(w http.ResponseWriter, r *http.Request) {
	g, ok := a.loadGeneration(w, r)
	if !ok {
		return
	}
	kind := r.URL.Query().Get("type")
	videoPath := g.FinalVideo
	suffix := "final"
	if kind == "enhanced" {
		videoPath = g.EnhancedVideo
		suffix = "enhanced"
	}
	if videoPath == "" {
		a.error(w, http.StatusNotFound, "not_found", "video not available")
		return
	}
	full, err := a.Store.Resolve(videoPath)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "video file not found")
		return
	}
	filename := fmt.Sprintf("%s_%s.mp4", g.Name, suffix)
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeFile(w, r, full)
}

// GenerationVideoSegment streams one intermediate segment by its zero-based
// index, so partial results stay inspectable while the pipeline runs and
// after a failure.
func (a *App) GenerationVideoSegment(w http.ResponseWriter, r *http.Request) {
	g, ok := a.loadGeneration(w, r)
	if !ok {
		return
	}
	if len(g.VideoFiles) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no video segments recorded")
		return
	}
	index := 0
	if raw := r.URL.Query().Get("index"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "index must be an integer")
			return
		}
		index = n
	}
	if index < 0 || index >= len(g.VideoFiles) {
		a.error(w, http.StatusBadRequest, "bad_request", "segment index out of range")
		return
	}
	full, err := a.Store.Resolve(g.VideoFiles[index])
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "video file not found")
		return
	}
	filename := fmt.Sprintf("%s_segment_%d.mp4", g.Name, index+1)
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeFile(w, r, full)
}

func (a *App) loadGeneration(w http.ResponseWriter, r *http.Request) (*domain.Generation, bool) {
	id := chi.URLParam(r, "id")
	g, err := a.Generations.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "generation not found")
			return nil, false
		}
		a.Logger.Error().Err(err).Str("generation_id", id).Msg("load generation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load generation")
		return nil, false
	}
	return g, true
}

// orchestratorError maps orchestrator failures onto HTTP responses: state
// preconditions are client errors, everything else is internal.
func (a *App) orchestratorError(w http.ResponseWriter, id string, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "generation not found")
	case errors.Is(err, domain.ErrAlreadyStarted):
		a.error(w, http.StatusConflict, "already_started", "generation already started or finished")
	case errors.Is(err, domain.ErrAlreadyEnhanced):
		a.error(w, http.StatusConflict, "already_enhanced", "audio already enhanced")
	case errors.Is(err, domain.ErrNoFinalVideo):
		a.error(w, http.StatusConflict, "no_final_video", "generation has no final video")
	case errors.Is(err, domain.ErrInvalidState):
		a.error(w, http.StatusConflict, "invalid_state", "generation is not in a valid state for this operation")
	default:
		a.Logger.Error().Err(err).Str("generation_id", id).Msg(fallback)
		a.error(w, http.StatusInternalServerError, "internal", fallback)
	}
}
