package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkruglov/trade-arena/internal/advisor"
	"github.com/dkruglov/trade-arena/internal/logger"
	"github.com/dkruglov/trade-arena/internal/storage"
)

var (
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrNoSuchPosition     = errors.New("no such position")
	ErrUnknownCoin        = errors.New("unknown coin")
	ErrInvalidDecision    = errors.New("invalid decision")
)

const maxLeverage = 10

// Store is the persistence the executor needs. ApplyTrade must persist
// the whole effect atomically.
type Store interface {
	GetAccount(modelID uint) (*storage.Account, error)
	GetPosition(modelID uint, coin, side string) (*storage.Position, error)
	GetPositions(modelID uint) ([]storage.Position, error)
	ApplyTrade(effect *storage.TradeEffect) error
}

// Executor applies validated decisions to one agent's books. A rejected
// decision leaves cash and positions untouched and produces no trade
// record.
type Executor struct {
	store  Store
	logger *logger.Logger
}

func NewExecutor(store Store, log *logger.Logger) *Executor {
	return &Executor{store: store, logger: log}
}

// Apply executes one decision at the given market price and returns the
// trade record, or nil for a hold.
func (e *Executor) Apply(modelID uint, d advisor.Decision, price float64) (*storage.Trade, error) {
	switch d.Signal {
	case advisor.SignalHold:
		return nil, nil
	case advisor.SignalBuyToEnter:
		return e.open(modelID, d, storage.SideLong, price)
	case advisor.SignalSellToEnter:
		return e.open(modelID, d, storage.SideShort, price)
	case advisor.SignalClosePosition:
		return e.close(modelID, d, price)
	default:
		return nil, fmt.Errorf("%w: signal %q", ErrInvalidDecision, d.Signal)
	}
}

func (e *Executor) open(modelID uint, d advisor.Decision, side string, price float64) (*storage.Trade, error) {
	if price <= 0 {
		return nil, fmt.Errorf("%w: no price for %s", ErrUnknownCoin, d.Coin)
	}

	quantity := d.Quantity
	if quantity <= 0 && d.Notional > 0 {
		quantity = d.Notional / price
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: non-positive size for %s", ErrInvalidDecision, d.Coin)
	}

	leverage := int(d.Leverage)
	if leverage < 1 {
		leverage = 1
	}
	if leverage > maxLeverage {
		leverage = maxLeverage
	}

	account, err := e.store.GetAccount(modelID)
	if err != nil {
		return nil, err
	}
	position, err := e.store.GetPosition(modelID, d.Coin, side)
	if err != nil {
		return nil, err
	}

	// A merge keeps the position's original leverage so the margin on
	// the books always equals quantity * avg_price / leverage.
	if position != nil {
		leverage = position.Leverage
	}

	margin := quantity * price / float64(leverage)
	if account.Cash < margin {
		return nil, fmt.Errorf("%w: need %.2f, cash %.2f", ErrInsufficientMargin, margin, account.Cash)
	}
	account.Cash -= margin

	now := time.Now()
	if position == nil {
		position = &storage.Position{
			ModelID:  modelID,
			Coin:     d.Coin,
			Side:     side,
			Quantity: quantity,
			AvgPrice: price,
			Leverage: leverage,
			OpenedAt: now,
		}
	} else {
		total := position.Quantity + quantity
		position.AvgPrice = (position.Quantity*position.AvgPrice + quantity*price) / total
		position.Quantity = total
	}

	trade := &storage.Trade{
		ModelID:  modelID,
		Coin:     d.Coin,
		Signal:   string(d.Signal),
		Side:     side,
		Quantity: quantity,
		Price:    price,
		Leverage: leverage,
	}

	effect := &storage.TradeEffect{
		Account:        account,
		UpsertPosition: position,
		Trade:          trade,
	}
	if err := e.store.ApplyTrade(effect); err != nil {
		return nil, fmt.Errorf("apply open: %w", err)
	}

	e.logger.Info("position opened",
		"model_id", modelID, "coin", d.Coin, "side", side,
		"quantity", quantity, "price", price, "leverage", leverage, "margin", margin)
	return trade, nil
}

func (e *Executor) close(modelID uint, d advisor.Decision, price float64) (*storage.Trade, error) {
	if price <= 0 {
		return nil, fmt.Errorf("%w: no price for %s", ErrUnknownCoin, d.Coin)
	}

	account, err := e.store.GetAccount(modelID)
	if err != nil {
		return nil, err
	}

	// A close without an explicit side closes whichever book entry is
	// open, longs first.
	position, err := e.findPosition(modelID, d.Coin)
	if err != nil {
		return nil, err
	}
	if position == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchPosition, d.Coin)
	}

	pnl := realizedPnL(position, price)
	margin := Margin(position)

	account.Cash += margin + pnl
	if account.Cash < 0 {
		// Losses past the committed margin bankrupt the account; cash
		// never goes negative.
		account.Cash = 0
	}
	account.RealizedPnL += pnl

	trade := &storage.Trade{
		ModelID:  modelID,
		Coin:     d.Coin,
		Signal:   string(advisor.SignalClosePosition),
		Side:     position.Side,
		Quantity: position.Quantity,
		Price:    price,
		Leverage: position.Leverage,
		PnL:      pnl,
	}

	effect := &storage.TradeEffect{
		Account:        account,
		DeletePosition: position,
		Trade:          trade,
	}
	if err := e.store.ApplyTrade(effect); err != nil {
		return nil, fmt.Errorf("apply close: %w", err)
	}

	e.logger.Info("position closed",
		"model_id", modelID, "coin", d.Coin, "side", position.Side,
		"quantity", position.Quantity, "price", price, "pnl", pnl)
	return trade, nil
}

func (e *Executor) findPosition(modelID uint, coin string) (*storage.Position, error) {
	for _, side := range []string{storage.SideLong, storage.SideShort} {
		position, err := e.store.GetPosition(modelID, coin, side)
		if err != nil {
			return nil, err
		}
		if position != nil {
			return position, nil
		}
	}
	return nil, nil
}

func realizedPnL(p *storage.Position, exitPrice float64) float64 {
	return (exitPrice - p.AvgPrice) * p.Quantity * DirectionSign(p.Side) * float64(p.Leverage)
}
