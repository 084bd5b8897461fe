// Package chatlog keeps the append-only audit trail of chat exchanges
// and serves bounded session history back to prompt assembly.
package chatlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/knollbase/knoll/internal/chat"
	"github.com/knollbase/knoll/internal/knowledge"
	"github.com/knollbase/knoll/internal/log"
)

// Exchange is one logged user/assistant round trip. Failed marks turns
// where generation errored; the stored Answer is then empty, never a
// fabricated reply.
type Exchange struct {
	TenantID    uuid.UUID
	UserID      string
	SessionID   string
	UserMessage string
	Answer      string
	ContextUsed []string // Document refs that fed the prompt
	TokensUsed  int
	Failed      bool
	CreatedAt   time.Time
}

// Recorder persists exchanges.
//
// Recorder is safe for concurrent use by multiple goroutines.
type Recorder struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(pool *pgxpool.Pool, logger log.Logger) (*Recorder, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Recorder{pool: pool, logger: logger}, nil
}

// Append inserts an exchange. Append-only; nothing updates or removes
// individual rows outside retention purges.
func (r *Recorder) Append(ctx context.Context, e Exchange) error {
	refs, err := json.Marshal(e.ContextUsed)
	if err != nil {
		return fmt.Errorf("encoding context refs: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO chat_logs (tenant_id, user_id, session_id, user_message, answer, context_used, tokens_used, failed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.TenantID, e.UserID, e.SessionID, e.UserMessage, e.Answer, refs, e.TokensUsed, e.Failed,
	)
	if err != nil {
		return fmt.Errorf("appending chat log: %w: %w", knowledge.ErrStoreUnavailable, err)
	}
	return nil
}

// History returns the session's newest exchanges, oldest first, at
// most limit of them.
func (r *Recorder) History(ctx context.Context, tenantID uuid.UUID, sessionID string, limit int) ([]Exchange, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx,
		`SELECT tenant_id, user_id, session_id, user_message, answer, context_used, tokens_used, failed, created_at
		 FROM chat_logs
		 WHERE tenant_id = $1 AND session_id = $2
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		tenantID, sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("loading chat history: %w: %w", knowledge.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var exchanges []Exchange
	for rows.Next() {
		var (
			e    Exchange
			refs []byte
		)
		if err := rows.Scan(&e.TenantID, &e.UserID, &e.SessionID, &e.UserMessage, &e.Answer, &refs, &e.TokensUsed, &e.Failed, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chat log: %w: %w", knowledge.ErrStoreUnavailable, err)
		}
		if len(refs) > 0 {
			if err := json.Unmarshal(refs, &e.ContextUsed); err != nil {
				return nil, fmt.Errorf("decoding context refs: %w", err)
			}
		}
		exchanges = append(exchanges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chat history: %w: %w", knowledge.ErrStoreUnavailable, err)
	}

	// Query is newest-first for the LIMIT; prompts want oldest-first.
	for i, j := 0, len(exchanges)-1; i < j; i, j = i+1, j-1 {
		exchanges[i], exchanges[j] = exchanges[j], exchanges[i]
	}
	return exchanges, nil
}

// RecentTurns adapts successful history rows to prompt turns, oldest
// first. Failed turns are excluded: their answers are failure markers,
// not model output worth conditioning on.
func (r *Recorder) RecentTurns(ctx context.Context, tenantID uuid.UUID, sessionID string, limit int) ([]chat.Turn, error) {
	exchanges, err := r.History(ctx, tenantID, sessionID, limit)
	if err != nil {
		return nil, err
	}

	turns := make([]chat.Turn, 0, len(exchanges))
	for _, e := range exchanges {
		if e.Failed {
			continue
		}
		turns = append(turns, chat.Turn{User: e.UserMessage, Assistant: e.Answer})
	}
	return turns, nil
}

// Purge removes a tenant's exchanges older than the cutoff and
// returns how many were deleted.
func (r *Recorder) Purge(ctx context.Context, tenantID uuid.UUID, olderThan time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM chat_logs WHERE tenant_id = $1 AND created_at < $2`,
		tenantID, olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("purging chat logs: %w: %w", knowledge.ErrStoreUnavailable, err)
	}

	purged := tag.RowsAffected()
	if purged > 0 {
		r.logger.Info("chat logs purged", "tenant", tenantID, "removed", purged)
	}
	return purged, nil
}
