package advisor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dkruglov/trade-arena/internal/market"
)

func TestBuildUserPrompt(t *testing.T) {
	c := &Context{
		Coins: []string{"BTC", "ETH"},
		Prices: map[string]market.Quote{
			"BTC": {Price: 60000, Change24h: 2.5},
			"ETH": {Price: 3000, Change24h: -1.2},
		},
		Cash:           40000,
		RealizedPnL:    1500,
		UnrealizedPnL:  -200,
		TotalValue:     101300,
		InitialCapital: 100000,
		Positions: []PositionSummary{
			{Coin: "BTC", Side: "long", Quantity: 1, AvgPrice: 58000, Leverage: 2, CurrentPrice: 60000, PnL: 4000},
		},
	}

	prompt := BuildUserPrompt(c)

	assert.Contains(t, prompt, "Cash: 40000.00 USD")
	assert.Contains(t, prompt, "BTC long: 1.000000 @ 58000.00")
	assert.Contains(t, prompt, "| BTC | 60000.00 | +2.50 |")
	assert.Contains(t, prompt, "| ETH | 3000.00 | -1.20 |")
}

func TestBuildUserPromptNoPositions(t *testing.T) {
	c := &Context{
		Coins:  []string{"BTC"},
		Prices: map[string]market.Quote{"BTC": {Price: 60000}},
		Cash:   100000,
	}

	prompt := BuildUserPrompt(c)
	assert.Contains(t, prompt, "No open positions.")
	assert.NotContains(t, prompt, "## Recent trades")
}
