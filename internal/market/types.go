package market

// Quote is the latest known price for one coin, in USD.
type Quote struct {
	Price     float64 `json:"price"`
	Change24h float64 `json:"change_24h"`
}
