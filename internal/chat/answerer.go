package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/knollbase/knoll/internal/log"
	"github.com/knollbase/knoll/internal/model"
)

// Generator produces a completion for a system prompt and message list.
type Generator interface {
	Generate(ctx context.Context, system string, messages []*ai.Message) (model.Completion, error)
}

// HistorySource supplies a session's past turns, oldest first.
type HistorySource interface {
	RecentTurns(ctx context.Context, tenantID uuid.UUID, sessionID string, limit int) ([]Turn, error)
}

// Request is one chat turn.
type Request struct {
	TenantID         uuid.UUID
	SessionID        string
	UserID           string // Optional, recorded in chat logs only
	Question         string
	IncludeCitations bool // Populates Response.Sources when set
}

// Response is the answered turn. ContextRefs always names the
// documents that fed the prompt; Sources carries the full citation
// detail and stays empty unless the request asked for citations.
type Response struct {
	Answer      string
	Sources     []Context
	ContextRefs []string
	TokensUsed  int
	LatencyMS   int64
}

// Answerer runs the full retrieve → prompt → generate → sanitize turn.
type Answerer struct {
	retriever *Retriever
	generator Generator
	history   HistorySource
	budget    HistoryBudget
	logger    log.Logger
}

// NewAnswerer creates an Answerer. history may be nil for stateless
// deployments; the prompt then carries no prior turns.
func NewAnswerer(retriever *Retriever, generator Generator, history HistorySource, budget HistoryBudget, logger log.Logger) (*Answerer, error) {
	if retriever == nil || generator == nil {
		return nil, fmt.Errorf("retriever and generator are required")
	}
	if budget.MaxExchanges <= 0 {
		budget.MaxExchanges = 6
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Answerer{
		retriever: retriever,
		generator: generator,
		history:   history,
		budget:    budget,
		logger:    logger,
	}, nil
}

// Answer resolves one chat turn. Retrieval finding nothing still goes
// to the generator with an empty context section; the strict prompt
// produces the honest refusal on its own.
func (a *Answerer) Answer(ctx context.Context, req Request) (Response, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Response{}, ErrEmptyQuestion
	}

	start := time.Now()

	contexts, err := a.retriever.Retrieve(ctx, req.TenantID, question)
	if err != nil {
		return Response{}, fmt.Errorf("answering: %w", err)
	}

	var turns []Turn
	if a.history != nil && req.SessionID != "" {
		turns, err = a.history.RecentTurns(ctx, req.TenantID, req.SessionID, a.budget.MaxExchanges)
		if err != nil {
			// History is an enhancement; a read failure degrades to a
			// stateless turn rather than failing the question.
			a.logger.Warn("loading session history failed",
				"tenant", req.TenantID,
				"session", req.SessionID,
				"error", err,
			)
			turns = nil
		}
		turns = truncateHistory(turns, a.budget)
	}

	system := buildSystem(contexts)
	messages := buildMessages(turns, question)

	completion, err := a.generator.Generate(ctx, system, messages)
	if err != nil {
		return Response{}, fmt.Errorf("answering: %w", err)
	}

	refs := make([]string, 0, len(contexts))
	for _, c := range contexts {
		refs = append(refs, c.DocumentRef)
	}
	resp := Response{
		Answer:      Sanitize(completion.Text),
		ContextRefs: refs,
		TokensUsed:  completion.TokensUsed,
		LatencyMS:   time.Since(start).Milliseconds(),
	}
	if req.IncludeCitations {
		resp.Sources = contexts
	}

	a.logger.Info("chat turn answered",
		"tenant", req.TenantID,
		"session", req.SessionID,
		"sources", len(contexts),
		"tokens", resp.TokensUsed,
		"latency_ms", resp.LatencyMS,
	)
	return resp, nil
}
