package storage

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var ErrModelNotFound = errors.New("model not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Models

// CreateModel inserts the model and provisions its account in one
// transaction, so a model is never visible without a ledger.
func (r *Repository) CreateModel(model *Model) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		account := &Account{
			ModelID: model.ID,
			Cash:    model.InitialCapital,
		}
		return tx.Create(account).Error
	})
}

func (r *Repository) GetModel(modelID uint) (*Model, error) {
	var model Model
	err := r.db.First(&model, modelID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrModelNotFound
	}
	if err != nil {
		return nil, err
	}
	return &model, nil
}

func (r *Repository) ListModels() ([]Model, error) {
	var models []Model
	err := r.db.Order("created_at DESC").Find(&models).Error
	return models, err
}

func (r *Repository) UpdateModel(model *Model) error {
	return r.db.Save(model).Error
}

// DeleteModel removes the model and every record it owns.
func (r *Repository) DeleteModel(modelID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{
			&Account{}, &Position{}, &Trade{}, &Conversation{}, &AccountValue{},
		} {
			if err := tx.Where("model_id = ?", modelID).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&Model{}, modelID).Error
	})
}

// Accounts

func (r *Repository) GetAccount(modelID uint) (*Account, error) {
	var account Account
	err := r.db.Where("model_id = ?", modelID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("account for model %d: %w", modelID, ErrModelNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Positions

func (r *Repository) GetPositions(modelID uint) ([]Position, error) {
	var positions []Position
	err := r.db.Where("model_id = ? AND quantity > 0", modelID).Find(&positions).Error
	return positions, err
}

// GetPosition returns (nil, nil) when no position is open for the key.
func (r *Repository) GetPosition(modelID uint, coin, side string) (*Position, error) {
	var position Position
	err := r.db.Where("model_id = ? AND coin = ? AND side = ?", modelID, coin, side).
		First(&position).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &position, nil
}

// TradeEffect is the full outcome of one executed decision. ApplyTrade
// persists it atomically so readers never observe cash debited without
// the position, or a position without its trade record.
type TradeEffect struct {
	Account        *Account
	UpsertPosition *Position
	DeletePosition *Position
	Trade          *Trade
}

func (r *Repository) ApplyTrade(effect *TradeEffect) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(effect.Account).Error; err != nil {
			return err
		}
		if effect.UpsertPosition != nil {
			if err := tx.Save(effect.UpsertPosition).Error; err != nil {
				return err
			}
		}
		if effect.DeletePosition != nil {
			if err := tx.Delete(effect.DeletePosition).Error; err != nil {
				return err
			}
		}
		if effect.Trade != nil {
			if err := tx.Create(effect.Trade).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Trades

func (r *Repository) GetRecentTrades(modelID uint, limit int) ([]Trade, error) {
	var trades []Trade
	err := r.db.Where("model_id = ?", modelID).
		Order("created_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// Conversations

func (r *Repository) SaveConversation(conversation *Conversation) error {
	return r.db.Create(conversation).Error
}

func (r *Repository) GetRecentConversations(modelID uint, limit int) ([]Conversation, error) {
	var conversations []Conversation
	err := r.db.Where("model_id = ?", modelID).
		Order("created_at DESC").Limit(limit).Find(&conversations).Error
	return conversations, err
}

// Account value history

func (r *Repository) SaveAccountValue(value *AccountValue) error {
	return r.db.Create(value).Error
}

func (r *Repository) GetAccountValueHistory(modelID uint, limit int) ([]AccountValue, error) {
	var values []AccountValue
	err := r.db.Where("model_id = ?", modelID).
		Order("created_at DESC").Limit(limit).Find(&values).Error
	return values, err
}
