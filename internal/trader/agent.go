package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dkruglov/trade-arena/internal/advisor"
	"github.com/dkruglov/trade-arena/internal/engine"
	"github.com/dkruglov/trade-arena/internal/logger"
	"github.com/dkruglov/trade-arena/internal/market"
	"github.com/dkruglov/trade-arena/internal/storage"
	"github.com/dkruglov/trade-arena/internal/telegram"
)

// Agent runs the decision loop for one trading model. Each agent owns
// its books; nothing mutable is shared between agents except the
// read-only market cache.
type Agent struct {
	model    storage.Model
	advisor  *advisor.Advisor
	executor *engine.Executor
	repo     *storage.Repository
	market   *market.Fetcher
	notifier *telegram.Notifier
	interval time.Duration
	coins    []string
	logger   *logger.Logger

	// mu serializes cycles: the ticker and a manual trigger can never
	// overlap, so within one agent cycles are strictly sequential.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// CycleOutcome is what happened to one decision within a cycle.
type CycleOutcome struct {
	Signal   string  `json:"signal"`
	Coin     string  `json:"coin,omitempty"`
	Quantity float64 `json:"quantity,omitempty"`
	Price    float64 `json:"price,omitempty"`
	PnL      float64 `json:"pnl,omitempty"`
	Status   string  `json:"status"` // executed, hold, rejected
	Message  string  `json:"message,omitempty"`
}

// CycleResult summarizes one full decision cycle.
type CycleResult struct {
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	Executions []CycleOutcome `json:"executions"`
}

func newAgent(
	model storage.Model,
	adv *advisor.Advisor,
	exec *engine.Executor,
	repo *storage.Repository,
	fetcher *market.Fetcher,
	notifier *telegram.Notifier,
	interval time.Duration,
	coins []string,
	log *logger.Logger,
) *Agent {
	return &Agent{
		model:    model,
		advisor:  adv,
		executor: exec,
		repo:     repo,
		market:   fetcher,
		notifier: notifier,
		interval: interval,
		coins:    coins,
		logger:   log.With("model_id", model.ID, "model", model.Name),
		done:     make(chan struct{}),
	}
}

// Run drives the agent until its context is canceled. A cancellation is
// observed at the top of the next tick; an in-flight cycle completes.
func (a *Agent) Run(ctx context.Context) {
	defer close(a.done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("agent started", "interval", a.interval.String())

	// Cycles run on a context that survives cancellation: stopping the
	// agent is observed here between ticks, while a cycle already in
	// flight finishes its decision normally.
	cycleCtx := context.WithoutCancel(ctx)

	a.ExecuteCycle(cycleCtx)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("agent stopped")
			return
		case <-ticker.C:
			a.ExecuteCycle(cycleCtx)
		}
	}
}

// ExecuteCycle runs one decision cycle: market snapshot, advisor call,
// decision application, conversation record, valuation snapshot. Any
// failure stays inside this agent; there is no retry within a cycle.
func (a *Agent) ExecuteCycle(ctx context.Context) (result *CycleResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	result = &CycleResult{}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic in trading cycle", "panic", fmt.Sprint(r))
			result.Success = false
			result.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	prices, updatedAt := a.market.Snapshot()
	if len(prices) == 0 {
		// No quotes were ever fetched. Transient: skip this cycle and
		// try fresh on the next tick.
		a.logger.Warn("market data unavailable, skipping cycle")
		result.Error = "market data unavailable"
		return result
	}
	a.logger.Debug("market snapshot", "coins", len(prices), "age", time.Since(updatedAt).String())

	decisionCtx, err := a.buildContext(prices)
	if err != nil {
		a.logger.Error("build decision context", "error", err)
		result.Error = err.Error()
		return result
	}

	advResult, advErr := a.advisor.Decide(ctx, decisionCtx)
	if advErr != nil {
		// Fail closed to hold; the raw text (if any) is kept for audit.
		a.logger.Error("advisor failed, holding", "error", advErr)
		a.notifier.NotifyError(a.model.Name, advErr)
	}

	outcomes := a.applyDecisions(advResult.Decisions, prices)
	result.Executions = outcomes
	result.Success = advErr == nil

	a.saveConversation(advResult, outcomes, advErr)
	a.saveSnapshot(prices)

	if advErr != nil {
		result.Error = advErr.Error()
	}
	return result
}

func (a *Agent) buildContext(prices map[string]market.Quote) (*advisor.Context, error) {
	account, err := a.repo.GetAccount(a.model.ID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	positions, err := a.repo.GetPositions(a.model.ID)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	trades, err := a.repo.GetRecentTrades(a.model.ID, 10)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}

	valuation := engine.Value(account, positions, prices)

	c := &advisor.Context{
		Coins:          a.coins,
		Prices:         prices,
		Cash:           account.Cash,
		RealizedPnL:    valuation.RealizedPnL,
		UnrealizedPnL:  valuation.UnrealizedPnL,
		TotalValue:     valuation.TotalValue,
		InitialCapital: a.model.InitialCapital,
	}

	for i := range positions {
		p := &positions[i]
		price := p.AvgPrice
		if q, ok := prices[p.Coin]; ok {
			price = q.Price
		}
		c.Positions = append(c.Positions, advisor.PositionSummary{
			Coin:         p.Coin,
			Side:         p.Side,
			Quantity:     p.Quantity,
			AvgPrice:     p.AvgPrice,
			Leverage:     p.Leverage,
			CurrentPrice: price,
			PnL:          engine.UnrealizedPnL(p, price),
		})
	}

	for _, t := range trades {
		c.RecentTrades = append(c.RecentTrades, advisor.TradeSummary{
			Time:     t.CreatedAt,
			Coin:     t.Coin,
			Signal:   t.Signal,
			Quantity: t.Quantity,
			Price:    t.Price,
			PnL:      t.PnL,
		})
	}

	return c, nil
}

func (a *Agent) applyDecisions(decisions []advisor.Decision, prices map[string]market.Quote) []CycleOutcome {
	outcomes := make([]CycleOutcome, 0, len(decisions))

	for _, d := range decisions {
		outcome := CycleOutcome{Signal: string(d.Signal), Coin: d.Coin}

		trade, err := a.executor.Apply(a.model.ID, d, prices[d.Coin].Price)
		switch {
		case err != nil:
			// Rejected trades mutate nothing and leave no trade record,
			// only this audit entry.
			outcome.Status = "rejected"
			outcome.Message = err.Error()
			a.logger.Warn("decision rejected", "signal", d.Signal, "coin", d.Coin, "error", err)
		case trade == nil:
			outcome.Status = "hold"
		default:
			outcome.Status = "executed"
			outcome.Quantity = trade.Quantity
			outcome.Price = trade.Price
			outcome.PnL = trade.PnL
			a.notify(trade)
		}

		outcomes = append(outcomes, outcome)
	}

	if len(outcomes) == 0 {
		outcomes = append(outcomes, CycleOutcome{Signal: string(advisor.SignalHold), Status: "hold"})
	}

	return outcomes
}

func (a *Agent) notify(trade *storage.Trade) {
	if trade.Signal == string(advisor.SignalClosePosition) {
		a.notifier.NotifyClose(a.model.Name, trade.Coin, trade.Side, trade.Quantity, trade.Price, trade.PnL)
		return
	}
	a.notifier.NotifyOpen(a.model.Name, trade.Coin, trade.Side, trade.Quantity, trade.Price, trade.Leverage)
}

func (a *Agent) saveConversation(advResult *advisor.Result, outcomes []CycleOutcome, advErr error) {
	outcomesJSON, _ := json.Marshal(outcomes)
	conversation := &storage.Conversation{
		ModelID:       a.model.ID,
		Prompt:        advResult.Prompt,
		Response:      advResult.Raw,
		DecisionsJSON: string(outcomesJSON),
	}
	if advErr != nil {
		conversation.Error = advErr.Error()
	}
	if err := a.repo.SaveConversation(conversation); err != nil {
		a.logger.Error("save conversation", "error", err)
	}
}

// saveSnapshot records the post-cycle valuation. It runs even when the
// advisor failed, marking open positions at the last known prices.
func (a *Agent) saveSnapshot(prices map[string]market.Quote) {
	account, err := a.repo.GetAccount(a.model.ID)
	if err != nil {
		a.logger.Error("load account for snapshot", "error", err)
		return
	}
	positions, err := a.repo.GetPositions(a.model.ID)
	if err != nil {
		a.logger.Error("load positions for snapshot", "error", err)
		return
	}

	valuation := engine.Value(account, positions, prices)
	snapshot := &storage.AccountValue{
		ModelID:        a.model.ID,
		TotalValue:     valuation.TotalValue,
		Cash:           valuation.Cash,
		PositionsValue: valuation.PositionsValue,
	}
	if err := a.repo.SaveAccountValue(snapshot); err != nil {
		a.logger.Error("save account value snapshot", "error", err)
	}
}
