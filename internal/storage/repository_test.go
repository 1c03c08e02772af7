package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return NewRepository(db)
}

func createTestModel(t *testing.T, repo *Repository, name string, capital float64) *Model {
	t.Helper()
	model := &Model{
		Name:           name,
		APIKey:         "key",
		APIURL:         "https://api.example.com/v1",
		ModelName:      "test-model",
		InitialCapital: capital,
	}
	require.NoError(t, repo.CreateModel(model))
	return model
}

func TestCreateModelProvisionsAccount(t *testing.T) {
	repo := newTestRepo(t)
	model := createTestModel(t, repo, "alpha", 100000)
	require.NotZero(t, model.ID)

	account, err := repo.GetAccount(model.ID)
	require.NoError(t, err)
	assert.InDelta(t, 100000, account.Cash, 1e-9)
	assert.Zero(t, account.RealizedPnL)
}

func TestGetModelNotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetModel(999)
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestApplyTradePersistsAtomically(t *testing.T) {
	repo := newTestRepo(t)
	model := createTestModel(t, repo, "alpha", 100000)

	account, err := repo.GetAccount(model.ID)
	require.NoError(t, err)
	account.Cash -= 60000

	effect := &TradeEffect{
		Account: account,
		UpsertPosition: &Position{
			ModelID:  model.ID,
			Coin:     "BTC",
			Side:     SideLong,
			Quantity: 1,
			AvgPrice: 60000,
			Leverage: 1,
		},
		Trade: &Trade{
			ModelID:  model.ID,
			Coin:     "BTC",
			Signal:   "buy_to_enter",
			Side:     SideLong,
			Quantity: 1,
			Price:    60000,
			Leverage: 1,
		},
	}
	require.NoError(t, repo.ApplyTrade(effect))

	account, err = repo.GetAccount(model.ID)
	require.NoError(t, err)
	assert.InDelta(t, 40000, account.Cash, 1e-9)

	position, err := repo.GetPosition(model.ID, "BTC", SideLong)
	require.NoError(t, err)
	require.NotNil(t, position)
	assert.InDelta(t, 1, position.Quantity, 1e-9)

	trades, err := repo.GetRecentTrades(model.ID, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "buy_to_enter", trades[0].Signal)
}

func TestApplyTradeDeletesPosition(t *testing.T) {
	repo := newTestRepo(t)
	model := createTestModel(t, repo, "alpha", 1000)

	position := &Position{ModelID: model.ID, Coin: "ETH", Side: SideShort, Quantity: 2, AvgPrice: 100, Leverage: 2}
	account, _ := repo.GetAccount(model.ID)
	require.NoError(t, repo.ApplyTrade(&TradeEffect{Account: account, UpsertPosition: position}))

	loaded, err := repo.GetPosition(model.ID, "ETH", SideShort)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	account.RealizedPnL += 40
	require.NoError(t, repo.ApplyTrade(&TradeEffect{
		Account:        account,
		DeletePosition: loaded,
		Trade: &Trade{
			ModelID: model.ID, Coin: "ETH", Signal: "close_position",
			Side: SideShort, Quantity: 2, Price: 90, Leverage: 2, PnL: 40,
		},
	}))

	gone, err := repo.GetPosition(model.ID, "ETH", SideShort)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestGetPositionAbsentIsNil(t *testing.T) {
	repo := newTestRepo(t)
	model := createTestModel(t, repo, "alpha", 1000)

	position, err := repo.GetPosition(model.ID, "BTC", SideLong)
	require.NoError(t, err)
	assert.Nil(t, position)
}

func TestDeleteModelRemovesEverything(t *testing.T) {
	repo := newTestRepo(t)
	model := createTestModel(t, repo, "alpha", 1000)
	other := createTestModel(t, repo, "beta", 1000)

	account, _ := repo.GetAccount(model.ID)
	require.NoError(t, repo.ApplyTrade(&TradeEffect{
		Account:        account,
		UpsertPosition: &Position{ModelID: model.ID, Coin: "BTC", Side: SideLong, Quantity: 1, AvgPrice: 10, Leverage: 1},
		Trade:          &Trade{ModelID: model.ID, Coin: "BTC", Signal: "buy_to_enter", Side: SideLong, Quantity: 1, Price: 10, Leverage: 1},
	}))
	require.NoError(t, repo.SaveConversation(&Conversation{ModelID: model.ID, Response: "hi"}))
	require.NoError(t, repo.SaveAccountValue(&AccountValue{ModelID: model.ID, TotalValue: 1000, Cash: 990}))

	require.NoError(t, repo.DeleteModel(model.ID))

	_, err := repo.GetModel(model.ID)
	assert.ErrorIs(t, err, ErrModelNotFound)
	_, err = repo.GetAccount(model.ID)
	assert.ErrorIs(t, err, ErrModelNotFound)

	positions, err := repo.GetPositions(model.ID)
	require.NoError(t, err)
	assert.Empty(t, positions)

	trades, err := repo.GetRecentTrades(model.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, trades)

	// sibling untouched
	_, err = repo.GetAccount(other.ID)
	assert.NoError(t, err)
}

func TestConversationAndHistoryOrdering(t *testing.T) {
	repo := newTestRepo(t)
	model := createTestModel(t, repo, "alpha", 1000)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.SaveConversation(&Conversation{ModelID: model.ID, Response: "r"}))
		require.NoError(t, repo.SaveAccountValue(&AccountValue{ModelID: model.ID, TotalValue: float64(1000 + i), Cash: 1000}))
	}

	conversations, err := repo.GetRecentConversations(model.ID, 2)
	require.NoError(t, err)
	assert.Len(t, conversations, 2)

	history, err := repo.GetAccountValueHistory(model.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}
