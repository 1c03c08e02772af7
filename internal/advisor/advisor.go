package advisor

import (
	"context"
	"fmt"

	"github.com/dkruglov/trade-arena/internal/logger"
)

// Advisor turns account and market state into typed decisions through
// a language-model endpoint. It never panics across the call boundary;
// transport and parse failures come back as plain errors alongside
// whatever text was received, so the caller can audit and hold.
type Advisor struct {
	client Client
	logger *logger.Logger
}

func New(client Client, log *logger.Logger) *Advisor {
	return &Advisor{client: client, logger: log}
}

// SwapClient replaces the endpoint client, used when a model's
// credentials are edited while its loop is running.
func (a *Advisor) SwapClient(client Client) {
	a.client = client
}

func (a *Advisor) Decide(ctx context.Context, c *Context) (*Result, error) {
	result := &Result{Prompt: BuildUserPrompt(c)}

	raw, err := a.client.Chat(ctx, systemPrompt, result.Prompt)
	if err != nil {
		return result, fmt.Errorf("advisor request: %w", err)
	}
	result.Raw = raw

	decisions, err := ParseDecisions(raw)
	if err != nil {
		return result, fmt.Errorf("advisor response: %w", err)
	}
	result.Decisions = decisions

	a.logger.Debug("advisor decisions parsed", "count", len(decisions))
	return result, nil
}
