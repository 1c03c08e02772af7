package engine

import (
	"github.com/dkruglov/trade-arena/internal/market"
	"github.com/dkruglov/trade-arena/internal/storage"
)

// DirectionSign is +1 for longs and -1 for shorts.
func DirectionSign(side string) float64 {
	if side == storage.SideShort {
		return -1
	}
	return 1
}

// Margin is the cash committed to a position: quantity * avg_price / leverage.
func Margin(p *storage.Position) float64 {
	return p.Quantity * p.AvgPrice / float64(p.Leverage)
}

// UnrealizedPnL marks a position to the given price. Reporting only,
// never folded back into cash.
func UnrealizedPnL(p *storage.Position, price float64) float64 {
	return (price - p.AvgPrice) * p.Quantity * DirectionSign(p.Side) * float64(p.Leverage)
}

// MarketValue is what closing the position at the given price would
// return to cash: committed margin plus unrealized P&L.
func MarketValue(p *storage.Position, price float64) float64 {
	return Margin(p) + UnrealizedPnL(p, price)
}

// Valuation is a derived view over one agent's books.
type Valuation struct {
	Cash           float64
	RealizedPnL    float64
	UnrealizedPnL  float64
	PositionsValue float64
	TotalValue     float64
}

// Value computes the point-in-time valuation. A coin missing from the
// quote map is marked at its entry price, so a stale universe never
// invents or destroys value.
func Value(account *storage.Account, positions []storage.Position, prices map[string]market.Quote) Valuation {
	v := Valuation{
		Cash:        account.Cash,
		RealizedPnL: account.RealizedPnL,
	}

	for i := range positions {
		p := &positions[i]
		price := p.AvgPrice
		if q, ok := prices[p.Coin]; ok && q.Price > 0 {
			price = q.Price
		}
		v.UnrealizedPnL += UnrealizedPnL(p, price)
		v.PositionsValue += MarketValue(p, price)
	}

	v.TotalValue = v.Cash + v.PositionsValue
	return v
}
