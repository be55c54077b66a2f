package model

// Ticker is a 24h summary for one symbol, used for instrument selection only.
type Ticker struct {
	Symbol             string  `json:"symbol"`
	LastPrice          float64 `json:"last_price"`
	PriceChangePercent float64 `json:"price_change_percent"`
}
