package models

// Quote represents a single market tick for an instrument symbol.
// Sequence is a monotonic per-symbol counter used to detect stale or
// duplicate deliveries when the poll and push paths race each other.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Volume        int64   `json:"volume"`
	Source        string  `json:"source"`
	Sequence      int64   `json:"sequence"`
	Timestamp     int64   `json:"timestamp"` // unix micro
}

// Bar is a single OHLCV candle in a historical series.
type Bar struct {
	Timestamp int64   `json:"timestamp"` // unix micro, bar open time
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}
