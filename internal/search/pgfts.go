package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"todostarter/internal/todo"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole service is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches whole words through the title's tsvector and falls back to a
// substring match so partial words still find something.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]todo.Todo, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return []todo.Todo{}, nil
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, completed, user_id, created_at, updated_at
		FROM todos
		WHERE user_id = $1
		  AND (to_tsvector('simple', title) @@ plainto_tsquery('simple', $2)
		       OR title ILIKE '%' || $3 || '%' ESCAPE '\')
		ORDER BY ts_rank(to_tsvector('simple', title), plainto_tsquery('simple', $2)) DESC, created_at DESC
		LIMIT $4`,
		q.UserID, text, escapeLike(text), q.limit())
	if err != nil {
		return nil, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]todo.Todo, 0)
	for rows.Next() {
		var t todo.Todo
		if err := rows.Scan(&t.ID, &t.Title, &t.Completed, &t.UserID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
