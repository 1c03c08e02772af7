package storage

import "time"

const (
	SideLong  = "long"
	SideShort = "short"
)

// Model is one configured trading agent: an OpenAI-compatible endpoint
// plus the capital it started with.
type Model struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name           string  `gorm:"not null" json:"name"`
	APIKey         string  `gorm:"not null" json:"api_key"`
	APIURL         string  `gorm:"not null" json:"api_url"`
	ModelName      string  `gorm:"not null" json:"model_name"`
	InitialCapital float64 `gorm:"not null" json:"initial_capital"`
}

// Account is the cash ledger, one row per model. Cash only changes
// through trade execution; realized P&L only changes on closes.
type Account struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ModelID     uint    `gorm:"uniqueIndex;not null" json:"model_id"`
	Cash        float64 `gorm:"not null" json:"cash"`
	RealizedPnL float64 `gorm:"column:realized_pnl" json:"realized_pnl"`
}

// Position is one open book entry, unique per (model, coin, side).
type Position struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ModelID  uint      `gorm:"uniqueIndex:idx_position_key;not null" json:"model_id"`
	Coin     string    `gorm:"uniqueIndex:idx_position_key;not null" json:"coin"`
	Side     string    `gorm:"uniqueIndex:idx_position_key;not null;default:'long'" json:"side"`
	Quantity float64   `gorm:"not null" json:"quantity"`
	AvgPrice float64   `gorm:"column:avg_price;not null" json:"avg_price"`
	Leverage int       `gorm:"not null;default:1" json:"leverage"`
	OpenedAt time.Time `json:"opened_at"`
}

// Trade is an immutable execution record. PnL is zero for opens.
type Trade struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ModelID  uint    `gorm:"index;not null" json:"model_id"`
	Coin     string  `gorm:"not null" json:"coin"`
	Signal   string  `gorm:"not null" json:"signal"` // buy_to_enter, sell_to_enter, close_position
	Side     string  `gorm:"not null" json:"side"`
	Quantity float64 `gorm:"not null" json:"quantity"`
	Price    float64 `gorm:"not null" json:"price"`
	Leverage int     `gorm:"not null;default:1" json:"leverage"`
	PnL      float64 `gorm:"column:pnl" json:"pnl"`
}

// Conversation is the audit record of one decision cycle: the rendered
// prompt, the raw advisor reply and the parsed outcome. Written every
// cycle, including failed ones.
type Conversation struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ModelID       uint   `gorm:"index;not null" json:"model_id"`
	Prompt        string `gorm:"type:text" json:"prompt"`
	Response      string `gorm:"type:text" json:"ai_response"`
	DecisionsJSON string `gorm:"type:text" json:"decisions_json"`
	Error         string `json:"error"`
}

// AccountValue is a point-in-time valuation, one per cycle.
type AccountValue struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ModelID        uint    `gorm:"index;not null" json:"model_id"`
	TotalValue     float64 `gorm:"not null" json:"total_value"`
	Cash           float64 `gorm:"not null" json:"cash"`
	PositionsValue float64 `json:"positions_value"`
}
