package trader

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkruglov/trade-arena/internal/advisor"
	"github.com/dkruglov/trade-arena/internal/config"
	"github.com/dkruglov/trade-arena/internal/engine"
	"github.com/dkruglov/trade-arena/internal/logger"
	"github.com/dkruglov/trade-arena/internal/market"
	"github.com/dkruglov/trade-arena/internal/storage"
	"github.com/dkruglov/trade-arena/internal/telegram"
)

// Manager owns the running agents, one goroutine per trading model.
// Stopping or deleting one agent never touches a sibling's loop.
type Manager struct {
	ctx      context.Context
	repo     *storage.Repository
	market   *market.Fetcher
	executor *engine.Executor
	notifier *telegram.Notifier
	config   *config.Config
	logger   *logger.Logger

	// ClientFactory builds the endpoint client for a model. Tests swap
	// it for a scripted fake.
	ClientFactory func(storage.Model) advisor.Client

	mu     sync.Mutex
	agents map[uint]*Agent
	// idle holds ad-hoc agents for models without a running loop. One
	// agent per model, reused across manual executions, so cycles stay
	// strictly sequential even for a stopped model.
	idle map[uint]*Agent
}

func NewManager(
	ctx context.Context,
	repo *storage.Repository,
	fetcher *market.Fetcher,
	notifier *telegram.Notifier,
	cfg *config.Config,
	log *logger.Logger,
) *Manager {
	m := &Manager{
		ctx:      ctx,
		repo:     repo,
		market:   fetcher,
		executor: engine.NewExecutor(repo, log),
		notifier: notifier,
		config:   cfg,
		logger:   log,
		agents:   make(map[uint]*Agent),
		idle:     make(map[uint]*Agent),
	}
	m.ClientFactory = func(model storage.Model) advisor.Client {
		return advisor.NewOpenAIClient(model.APIURL, model.APIKey, model.ModelName, cfg.AdvisorTimeout(), log)
	}
	return m
}

// StartAll launches an agent for every configured model.
func (m *Manager) StartAll() error {
	models, err := m.repo.ListModels()
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}

	for _, model := range models {
		m.Start(model)
	}

	m.logger.Info("agents started", "count", len(models))
	return nil
}

// Start launches the agent loop for one model. Starting an already
// running model is a no-op.
func (m *Manager) Start(model storage.Model) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[model.ID]; ok {
		return
	}

	// Promote the model's ad-hoc agent if one exists, so a manual cycle
	// in flight stays serialized with the loop taking over.
	agent, ok := m.idle[model.ID]
	if ok {
		delete(m.idle, model.ID)
		agent.mu.Lock()
		agent.model = model
		agent.mu.Unlock()
	} else {
		agent = m.newAgent(model)
	}
	agentCtx, cancel := context.WithCancel(m.ctx)
	agent.cancel = cancel

	m.agents[model.ID] = agent
	go agent.Run(agentCtx)
}

// Stop cancels one agent and waits for its in-flight cycle to finish.
func (m *Manager) Stop(modelID uint) {
	m.mu.Lock()
	delete(m.idle, modelID)
	agent, ok := m.agents[modelID]
	if ok {
		delete(m.agents, modelID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	agent.cancel()
	<-agent.done
}

// StopAll shuts every agent down, waiting for each.
func (m *Manager) StopAll() {
	m.mu.Lock()
	agents := make([]*Agent, 0, len(m.agents))
	for id, agent := range m.agents {
		agents = append(agents, agent)
		delete(m.agents, id)
	}
	m.mu.Unlock()

	for _, agent := range agents {
		agent.cancel()
		<-agent.done
	}
}

// Reload swaps a running agent's endpoint client after its model was
// edited. The next cycle uses the new settings.
func (m *Manager) Reload(model storage.Model) {
	agent, ok := m.lookup(model.ID)
	if !ok {
		return
	}

	agent.mu.Lock()
	agent.model = model
	agent.advisor.SwapClient(m.ClientFactory(model))
	agent.mu.Unlock()

	m.logger.Info("agent reloaded", "model_id", model.ID, "model", model.Name)
}

// Execute triggers one cycle immediately. For a running agent the
// cycle is serialized with its ticker; for a stopped model the cycle
// runs on the model's cached ad-hoc agent, so concurrent manual
// executions never overlap on the same books.
func (m *Manager) Execute(ctx context.Context, modelID uint) (*CycleResult, error) {
	agent, ok := m.lookup(modelID)
	if !ok {
		model, err := m.repo.GetModel(modelID)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		// A concurrent Execute or Start may have registered an agent
		// while the model was loading.
		if existing, exists := m.agents[modelID]; exists {
			agent = existing
		} else if existing, exists := m.idle[modelID]; exists {
			agent = existing
		} else {
			agent = m.newAgent(*model)
			m.idle[modelID] = agent
		}
		m.mu.Unlock()
	}

	return agent.ExecuteCycle(ctx), nil
}

func (m *Manager) lookup(modelID uint) (*Agent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if agent, ok := m.agents[modelID]; ok {
		return agent, true
	}
	if agent, ok := m.idle[modelID]; ok {
		return agent, true
	}
	return nil, false
}

// Running reports whether an agent loop exists for the model.
func (m *Manager) Running(modelID uint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.agents[modelID]
	return ok
}

func (m *Manager) newAgent(model storage.Model) *Agent {
	adv := advisor.New(m.ClientFactory(model), m.logger)
	return newAgent(
		model, adv, m.executor, m.repo, m.market, m.notifier,
		m.config.TradingInterval(), m.config.Trading.Coins, m.logger,
	)
}
