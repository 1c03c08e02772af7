package advisor

import (
	"time"

	"github.com/dkruglov/trade-arena/internal/market"
)

// Signal is the decision vocabulary. The string values are the stable
// wire contract shared with the dashboard.
type Signal string

const (
	SignalBuyToEnter    Signal = "buy_to_enter"
	SignalSellToEnter   Signal = "sell_to_enter"
	SignalClosePosition Signal = "close_position"
	SignalHold          Signal = "hold"
)

func (s Signal) Valid() bool {
	switch s {
	case SignalBuyToEnter, SignalSellToEnter, SignalClosePosition, SignalHold:
		return true
	}
	return false
}

// Decision is one parsed advisor instruction. Size may come as a coin
// quantity or a USD notional; the executor converts notional at the
// execution price. Leverage is a float because models often emit 3.0
// for 3; the executor truncates and clamps it.
type Decision struct {
	Signal    Signal  `json:"signal"`
	Coin      string  `json:"coin"`
	Quantity  float64 `json:"quantity,omitempty"`
	Notional  float64 `json:"notional,omitempty"`
	Leverage  float64 `json:"leverage,omitempty"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// PositionSummary mirrors an open position for the prompt.
type PositionSummary struct {
	Coin         string
	Side         string
	Quantity     float64
	AvgPrice     float64
	Leverage     int
	CurrentPrice float64
	PnL          float64
}

// TradeSummary mirrors a past trade for the prompt.
type TradeSummary struct {
	Time     time.Time
	Coin     string
	Signal   string
	Quantity float64
	Price    float64
	PnL      float64
}

// Context is everything the advisor sees for one decision cycle.
type Context struct {
	Coins          []string
	Prices         map[string]market.Quote
	Cash           float64
	RealizedPnL    float64
	UnrealizedPnL  float64
	TotalValue     float64
	InitialCapital float64
	Positions      []PositionSummary
	RecentTrades   []TradeSummary
}

// Result carries whatever survived one advisor call: the prompt is
// always set, the raw reply is set once the endpoint answered, and
// decisions are set once parsing succeeded.
type Result struct {
	Decisions []Decision
	Prompt    string
	Raw       string
}
