package trader

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkruglov/trade-arena/internal/advisor"
	"github.com/dkruglov/trade-arena/internal/config"
	"github.com/dkruglov/trade-arena/internal/logger"
	"github.com/dkruglov/trade-arena/internal/market"
	"github.com/dkruglov/trade-arena/internal/storage"
	"github.com/dkruglov/trade-arena/internal/telegram"
)

type fakePriceSource struct {
	quotes map[string]market.Quote
}

func (f *fakePriceSource) FetchPrices(ctx context.Context) (map[string]market.Quote, error) {
	return f.quotes, nil
}

type scriptedClient struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
}

func (c *scriptedClient) Chat(ctx context.Context, system, user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

type blockingClient struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (c *blockingClient) Chat(ctx context.Context, system, user string) (string, error) {
	c.once.Do(func() { close(c.started) })
	select {
	case <-c.release:
		return "[]", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// gatedClient counts how many Chat calls are in flight at once.
type gatedClient struct {
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	release     chan struct{}
}

func (c *gatedClient) Chat(ctx context.Context, system, user string) (string, error) {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.maxInFlight {
		c.maxInFlight = c.inFlight
	}
	c.mu.Unlock()

	<-c.release

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
	return "[]", nil
}

func testConfig() *config.Config {
	return &config.Config{
		Trading: config.TradingConfig{
			Interval:       "40ms",
			Coins:          []string{"BTC", "ETH"},
			InitialCapital: 100000,
		},
		Advisor: config.AdvisorConfig{TimeoutSeconds: 5},
	}
}

func newTestManager(t *testing.T, client advisor.Client) (*Manager, *storage.Repository) {
	t.Helper()

	log := logger.New("error")
	cfg := testConfig()

	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	repo := storage.NewRepository(db)

	fetcher := market.NewFetcher(&fakePriceSource{quotes: map[string]market.Quote{
		"BTC": {Price: 60000, Change24h: 2.0},
		"ETH": {Price: 3000, Change24h: -1.0},
	}}, time.Second, log)
	require.NoError(t, fetcher.Refresh(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	manager := NewManager(ctx, repo, fetcher, telegram.NewNotifier(cfg, log), cfg, log)
	manager.ClientFactory = func(storage.Model) advisor.Client { return client }
	t.Cleanup(manager.StopAll)

	return manager, repo
}

func createTestModel(t *testing.T, repo *storage.Repository, name string) *storage.Model {
	t.Helper()
	model := &storage.Model{
		Name:           name,
		APIKey:         "key",
		APIURL:         "https://api.example.com/v1",
		ModelName:      "test-model",
		InitialCapital: 100000,
	}
	require.NoError(t, repo.CreateModel(model))
	return model
}

func TestExecuteCycleAppliesDecision(t *testing.T) {
	client := &scriptedClient{
		response: `[{"signal":"buy_to_enter","coin":"BTC","quantity":1,"leverage":1,"reasoning":"test"}]`,
	}
	manager, repo := newTestManager(t, client)
	model := createTestModel(t, repo, "alpha")

	result, err := manager.Execute(context.Background(), model.ID)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Executions, 1)
	assert.Equal(t, "executed", result.Executions[0].Status)
	assert.Equal(t, "BTC", result.Executions[0].Coin)

	account, err := repo.GetAccount(model.ID)
	require.NoError(t, err)
	assert.InDelta(t, 40000, account.Cash, 1e-6)

	positions, err := repo.GetPositions(model.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "BTC", positions[0].Coin)

	conversations, err := repo.GetRecentConversations(model.ID, 10)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.NotEmpty(t, conversations[0].Prompt)
	assert.Empty(t, conversations[0].Error)

	history, err := repo.GetAccountValueHistory(model.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.InDelta(t, 100000, history[0].TotalValue, 1e-6)
}

func TestAdvisorFailureHoldsAndAudits(t *testing.T) {
	client := &scriptedClient{err: fmt.Errorf("connection refused")}
	manager, repo := newTestManager(t, client)
	model := createTestModel(t, repo, "alpha")

	result, err := manager.Execute(context.Background(), model.ID)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)

	// no mutation
	account, err := repo.GetAccount(model.ID)
	require.NoError(t, err)
	assert.InDelta(t, 100000, account.Cash, 1e-6)

	// but the cycle is fully audited
	conversations, err := repo.GetRecentConversations(model.ID, 10)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Contains(t, conversations[0].Error, "connection refused")

	// and the valuation snapshot is still written
	history, err := repo.GetAccountValueHistory(model.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestUnparseableResponsePreservesRawText(t *testing.T) {
	raw := "Honestly, I would just buy a little bit of everything."
	client := &scriptedClient{response: raw}
	manager, repo := newTestManager(t, client)
	model := createTestModel(t, repo, "alpha")

	result, err := manager.Execute(context.Background(), model.ID)
	require.NoError(t, err)
	assert.False(t, result.Success)

	positions, err := repo.GetPositions(model.ID)
	require.NoError(t, err)
	assert.Empty(t, positions)

	conversations, err := repo.GetRecentConversations(model.ID, 10)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Equal(t, raw, conversations[0].Response)
	assert.NotEmpty(t, conversations[0].Error)
}

func TestRejectedTradeLeavesNoTradeRecord(t *testing.T) {
	client := &scriptedClient{
		response: `[{"signal":"buy_to_enter","coin":"BTC","quantity":100,"leverage":1}]`,
	}
	manager, repo := newTestManager(t, client)
	model := createTestModel(t, repo, "alpha")

	result, err := manager.Execute(context.Background(), model.ID)
	require.NoError(t, err)
	require.Len(t, result.Executions, 1)
	assert.Equal(t, "rejected", result.Executions[0].Status)
	assert.Contains(t, result.Executions[0].Message, "insufficient margin")

	trades, err := repo.GetRecentTrades(model.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, trades)

	account, err := repo.GetAccount(model.ID)
	require.NoError(t, err)
	assert.InDelta(t, 100000, account.Cash, 1e-6)
}

func TestAgentIsolation(t *testing.T) {
	client := &scriptedClient{response: "[]"}
	manager, repo := newTestManager(t, client)
	modelA := createTestModel(t, repo, "alpha")
	modelB := createTestModel(t, repo, "beta")

	manager.Start(*modelA)
	manager.Start(*modelB)

	require.Eventually(t, func() bool {
		conversations, err := repo.GetRecentConversations(modelB.ID, 100)
		return err == nil && len(conversations) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	manager.Stop(modelA.ID)
	assert.False(t, manager.Running(modelA.ID))
	assert.True(t, manager.Running(modelB.ID))

	countA, err := repo.GetRecentConversations(modelA.ID, 100)
	require.NoError(t, err)
	countB, err := repo.GetRecentConversations(modelB.ID, 100)
	require.NoError(t, err)

	// B keeps cycling after A is gone; A stays frozen
	require.Eventually(t, func() bool {
		conversations, err := repo.GetRecentConversations(modelB.ID, 100)
		return err == nil && len(conversations) > len(countB)
	}, 2*time.Second, 10*time.Millisecond)

	after, err := repo.GetRecentConversations(modelA.ID, 100)
	require.NoError(t, err)
	assert.Len(t, after, len(countA))
}

func TestStopWaitsForInflightCycle(t *testing.T) {
	client := &blockingClient{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	manager, repo := newTestManager(t, client)
	model := createTestModel(t, repo, "alpha")

	manager.Start(*model)

	select {
	case <-client.started:
	case <-time.After(2 * time.Second):
		t.Fatal("advisor call never started")
	}

	close(client.release)
	manager.Stop(model.ID)

	// the in-flight cycle completed to a consistent state before Stop returned
	conversations, err := repo.GetRecentConversations(model.ID, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, conversations)

	history, err := repo.GetAccountValueHistory(model.ID, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, history)
}

func TestManualExecutionsStaySequential(t *testing.T) {
	client := &gatedClient{release: make(chan struct{})}
	manager, repo := newTestManager(t, client)
	model := createTestModel(t, repo, "alpha")

	// no loop is running for this model; both requests go through its
	// cached ad-hoc agent
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.Execute(context.Background(), model.ID)
			assert.NoError(t, err)
		}()
	}

	// one cycle reaches the advisor; the second must wait for it
	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.inFlight == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	close(client.release)
	wg.Wait()

	client.mu.Lock()
	maxInFlight := client.maxInFlight
	client.mu.Unlock()
	assert.Equal(t, 1, maxInFlight)

	conversations, err := repo.GetRecentConversations(model.ID, 10)
	require.NoError(t, err)
	assert.Len(t, conversations, 2)

	account, err := repo.GetAccount(model.ID)
	require.NoError(t, err)
	assert.InDelta(t, 100000, account.Cash, 1e-6)
}

func TestStopLetsInflightDecisionFinish(t *testing.T) {
	client := &blockingClient{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	manager, repo := newTestManager(t, client)
	model := createTestModel(t, repo, "alpha")

	manager.Start(*model)

	select {
	case <-client.started:
	case <-time.After(2 * time.Second):
		t.Fatal("advisor call never started")
	}

	stopped := make(chan struct{})
	go func() {
		manager.Stop(model.ID)
		close(stopped)
	}()

	require.Eventually(t, func() bool {
		return !manager.Running(model.ID)
	}, 2*time.Second, 10*time.Millisecond)

	close(client.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop never returned")
	}

	// the in-flight decision completed normally, not as a canceled call
	conversations, err := repo.GetRecentConversations(model.ID, 10)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.Empty(t, conversations[0].Error)
}

func TestCycleSkippedWithoutMarketData(t *testing.T) {
	log := logger.New("error")
	cfg := testConfig()

	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	repo := storage.NewRepository(db)

	// a fetcher that never succeeded: the cache stays empty
	fetcher := market.NewFetcher(&fakePriceSource{quotes: nil}, time.Second, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &scriptedClient{response: "[]"}
	manager := NewManager(ctx, repo, fetcher, telegram.NewNotifier(cfg, log), cfg, log)
	manager.ClientFactory = func(storage.Model) advisor.Client { return client }

	model := createTestModel(t, repo, "alpha")
	result, err := manager.Execute(context.Background(), model.ID)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "market data unavailable")

	// the advisor was never called and nothing was recorded
	assert.Zero(t, client.calls)
	conversations, err := repo.GetRecentConversations(model.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, conversations)
}

func TestReloadSwapsClient(t *testing.T) {
	first := &scriptedClient{response: "[]"}
	manager, repo := newTestManager(t, first)
	model := createTestModel(t, repo, "alpha")
	manager.Start(*model)
	defer manager.Stop(model.ID)

	second := &scriptedClient{response: "[]"}
	manager.ClientFactory = func(storage.Model) advisor.Client { return second }

	model.ModelName = "better-model"
	require.NoError(t, repo.UpdateModel(model))
	manager.Reload(*model)

	require.Eventually(t, func() bool {
		second.mu.Lock()
		defer second.mu.Unlock()
		return second.calls > 0
	}, 2*time.Second, 10*time.Millisecond)
}
