package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"vidforge/internal/domain"
)

// LogRepositoryPG implements domain.LogRepository.
type LogRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewLogRepository creates a log repository backed by PostgreSQL.
func NewLogRepository(pool *pgxpool.Pool) *LogRepositoryPG {
	return &LogRepositoryPG{pool: pool}
}

// Append inserts one log entry. Entries are append-only.
func (r *LogRepositoryPG) Append(ctx context.Context, entry *domain.LogEntry) error {
	query := `
INSERT INTO generation_logs (id, generation_id, message, level)
VALUES ($1, $2, $3, $4);
`
	_, err := r.pool.Exec(ctx, query, entry.ID, entry.GenerationID, entry.Message, entry.Level)
	return err
}

// ListByGeneration returns log entries newest first. A non-positive limit
// returns everything.
func (r *LogRepositoryPG) ListByGeneration(ctx context.Context, generationID string, limit int) ([]domain.LogEntry, error) {
	query := `
SELECT id, generation_id, message, level, created_at
FROM generation_logs
WHERE generation_id = $1
ORDER BY created_at DESC
LIMIT NULLIF($2, 0);
`
	if limit < 0 {
		limit = 0
	}
	rows, err := r.pool.Query(ctx, query, generationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.ID, &e.GenerationID, &e.Message, &e.Level, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
