package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vidforge/internal/domain"
)

// GenerationRepositoryPG implements domain.GenerationRepository.
type GenerationRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewGenerationRepository creates a generation repository backed by PostgreSQL.
func NewGenerationRepository(pool *pgxpool.Pool) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{pool: pool}
}

const generationColumns = `id, profile_id, name, domain_key, product_json, language, user_input,
status, scenario, timing, prompts_json, video_files_json, final_video, enhanced_video,
created_at, updated_at`

// Create inserts a new generation record.
func (r *GenerationRepositoryPG) Create(ctx context.Context, g *domain.Generation) error {
	query := `
INSERT INTO generations (id, profile_id, name, domain_key, product_json, language, user_input, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	_, err := r.pool.Exec(ctx, query,
		g.ID,
		g.ProfileID,
		g.Name,
		g.DomainKey,
		nullableBytes(g.Product),
		g.Language,
		g.UserInput,
		g.Status,
	)
	return err
}

// Update persists all mutable fields and bumps updated_at.
func (r *GenerationRepositoryPG) Update(ctx context.Context, g *domain.Generation) error {
	prompts, err := marshalPrompts(g.Prompts)
	if err != nil {
		return err
	}
	videos, err := marshalStrings(g.VideoFiles)
	if err != nil {
		return err
	}
	query := `
UPDATE generations
SET status = $2,
    scenario = $3,
    timing = $4,
    prompts_json = $5,
    video_files_json = $6,
    final_video = $7,
    enhanced_video = $8,
    updated_at = NOW()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query,
		g.ID,
		g.Status,
		nullableString(g.Scenario),
		g.Timing,
		prompts,
		videos,
		nullableString(g.FinalVideo),
		nullableString(g.EnhancedVideo),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID fetches a generation by its identifier.
func (r *GenerationRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Generation, error) {
	query := fmt.Sprintf(`SELECT %s FROM generations WHERE id = $1;`, generationColumns)
	g, err := scanGeneration(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return g, nil
}

// ListByProfile returns all generations for a profile, newest first.
func (r *GenerationRepositoryPG) ListByProfile(ctx context.Context, profileID string) ([]domain.Generation, error) {
	query := fmt.Sprintf(`SELECT %s FROM generations WHERE profile_id = $1 ORDER BY created_at DESC;`, generationColumns)
	return r.list(ctx, query, profileID)
}

// ListActiveByProfile returns generations with a worker expected to be
// running: neither CREATED nor terminal.
func (r *GenerationRepositoryPG) ListActiveByProfile(ctx context.Context, profileID string) ([]domain.Generation, error) {
	query := fmt.Sprintf(`
SELECT %s FROM generations
WHERE profile_id = $1 AND status NOT IN ('CREATED', 'COMPLETED', 'FAILED')
ORDER BY created_at DESC;`, generationColumns)
	return r.list(ctx, query, profileID)
}

// Delete removes a generation and, via ON DELETE CASCADE, its log entries.
func (r *GenerationRepositoryPG) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM generations WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GenerationRepositoryPG) list(ctx context.Context, query string, args ...any) ([]domain.Generation, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func scanGeneration(row pgx.Row) (*domain.Generation, error) {
	var (
		g             domain.Generation
		product       []byte
		scenario      *string
		prompts       []byte
		videos        []byte
		finalVideo    *string
		enhancedVideo *string
	)
	if err := row.Scan(
		&g.ID,
		&g.ProfileID,
		&g.Name,
		&g.DomainKey,
		&product,
		&g.Language,
		&g.UserInput,
		&g.Status,
		&scenario,
		&g.Timing,
		&prompts,
		&videos,
		&finalVideo,
		&enhancedVideo,
		&g.CreatedAt,
		&g.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if !g.Status.Valid() {
		return nil, fmt.Errorf("generation %s has unknown status %q", g.ID, g.Status)
	}
	g.Product = append(json.RawMessage(nil), product...)
	g.Scenario = deref(scenario)
	g.FinalVideo = deref(finalVideo)
	g.EnhancedVideo = deref(enhancedVideo)
	if len(prompts) > 0 {
		if err := json.Unmarshal(prompts, &g.Prompts); err != nil {
			return nil, fmt.Errorf("decode prompts for %s: %w", g.ID, err)
		}
	}
	if len(videos) > 0 {
		if err := json.Unmarshal(videos, &g.VideoFiles); err != nil {
			return nil, fmt.Errorf("decode video files for %s: %w", g.ID, err)
		}
	}
	return &g, nil
}

func marshalPrompts(prompts []domain.PromptDescriptor) ([]byte, error) {
	if prompts == nil {
		return nil, nil
	}
	return json.Marshal(prompts)
}

func marshalStrings(values []string) ([]byte, error) {
	if values == nil {
		return nil, nil
	}
	return json.Marshal(values)
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
