package httpapi

// TickRequest is the JSON body of POST /api/ticks, mirroring the tick
// input contract of the market-data feed.
type TickRequest struct {
	Symbol   string `json:"symbol"`
	VtSymbol string `json:"vtSymbol"`
	Exchange string `json:"exchange"`

	// Date/Time are the raw feed fields; Datetime (RFC 3339) may be sent
	// instead.
	Date     string `json:"date,omitempty"`
	Time     string `json:"time,omitempty"`
	Datetime string `json:"datetime,omitempty"`

	LastPrice float64 `json:"lastPrice"`
	Volume    int64   `json:"volume"`
}

// KlineJSON is one bar in a klines response.
type KlineJSON struct {
	Symbol   string `json:"symbol"`
	VtSymbol string `json:"vtSymbol"`

	Datetime string `json:"datetime"`
	Date     string `json:"date"`
	Time     string `json:"time"`

	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`

	Volume int64 `json:"volume"`

	OpenDatetime  string `json:"open_datetime"`
	CloseDatetime string `json:"close_datetime"`
}

// KlinesResponse is the GET /api/klines response.
type KlinesResponse struct {
	Symbol string      `json:"symbol"`
	Period int         `json:"period"` // minutes
	Klines []KlineJSON `json:"klines"`
}
