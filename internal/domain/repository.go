package domain

import "context"

// GenerationRepository defines persistence for generation records. The single
// writer is the orchestrator; readers take snapshot reads for polling.
type GenerationRepository interface {
	Create(ctx context.Context, g *Generation) error
	GetByID(ctx context.Context, id string) (*Generation, error)
	Update(ctx context.Context, g *Generation) error
	ListByProfile(ctx context.Context, profileID string) ([]Generation, error)
	ListActiveByProfile(ctx context.Context, profileID string) ([]Generation, error)
	Delete(ctx context.Context, id string) error
}

// LogRepository handles the append-only per-generation log.
type LogRepository interface {
	Append(ctx context.Context, entry *LogEntry) error
	ListByGeneration(ctx context.Context, generationID string, limit int) ([]LogEntry, error)
}
