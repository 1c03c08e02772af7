package advisor

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are an autonomous crypto trader managing a leveraged paper-trading account.
Each cycle you receive your account state, open positions, recent trades and the latest market prices.
Decide what to do this cycle.

Rules:
1. Signals: "buy_to_enter" opens or adds to a long, "sell_to_enter" opens or adds to a short, "close_position" closes an open position, "hold" does nothing.
2. For entries give either "quantity" (coin units) or "notional" (USD position size), plus "leverage" between 1 and 10.
3. Opening a position commits margin = quantity * price / leverage from your cash. You cannot commit more margin than your free cash.
4. For "close_position" only "coin" is required; the whole position is closed at the market price.
5. Risk management: avoid committing more than 30% of your cash to a single entry.
6. Explain every decision briefly in "reasoning".

Answer with a strict JSON array of decisions:
[
  {
    "signal": "buy_to_enter",
    "coin": "BTC",
    "quantity": 0.5,
    "leverage": 3,
    "reasoning": "why"
  }
]

If nothing is worth doing, return [].`

func BuildUserPrompt(c *Context) string {
	var sb strings.Builder

	sb.WriteString("## Account\n")
	sb.WriteString(fmt.Sprintf("Cash: %.2f USD\n", c.Cash))
	sb.WriteString(fmt.Sprintf("Total value: %.2f USD (started with %.2f)\n", c.TotalValue, c.InitialCapital))
	sb.WriteString(fmt.Sprintf("Realized P&L: %.2f / Unrealized P&L: %.2f\n\n", c.RealizedPnL, c.UnrealizedPnL))

	if len(c.Positions) > 0 {
		sb.WriteString("### Open positions\n")
		for _, p := range c.Positions {
			sb.WriteString(fmt.Sprintf("- %s %s: %.6f @ %.2f, leverage %dx, current %.2f, P&L %.2f\n",
				p.Coin, p.Side, p.Quantity, p.AvgPrice, p.Leverage, p.CurrentPrice, p.PnL))
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("No open positions.\n\n")
	}

	sb.WriteString("## Market prices\n")
	sb.WriteString("| Coin | Price | 24h% |\n")
	sb.WriteString("|------|-------|------|\n")
	for _, coin := range c.Coins {
		q, ok := c.Prices[coin]
		if !ok {
			continue
		}
		sb.WriteString(fmt.Sprintf("| %s | %.2f | %+.2f |\n", coin, q.Price, q.Change24h))
	}
	sb.WriteString("\n")

	if len(c.RecentTrades) > 0 {
		sb.WriteString("## Recent trades\n")
		for _, t := range c.RecentTrades {
			sb.WriteString(fmt.Sprintf("- %s %s %s %.6f @ %.2f, P&L %.2f\n",
				t.Time.Format("2006-01-02 15:04"), t.Signal, t.Coin, t.Quantity, t.Price, t.PnL))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Analyze the market and answer with your decisions in JSON.")

	return sb.String()
}
