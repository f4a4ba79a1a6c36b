package protocol

import "github.com/ajaymehta/quotewire/pkg/models"

// Inbound message types (client -> server).
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeGetPrice    = "get_price"
	TypeGetHistory  = "get_history"
)

// Outbound message types (server -> client).
const (
	TypeConnected               = "connected"
	TypeSubscriptionConfirmed   = "subscription_confirmed"
	TypeUnsubscriptionConfirmed = "unsubscription_confirmed"
	TypePriceUpdate             = "price_update"
	TypeHistoricalData          = "historical_data"
	TypeError                   = "error"
)

// Request is the single inbound envelope. Type selects the operation;
// unused fields stay zero.
type Request struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol,omitempty"`
	Timeframe string `json:"timeframe,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Connected is sent once, right after the connection is registered.
type Connected struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewConnected(message string) Connected {
	return Connected{Type: TypeConnected, Message: message}
}

type SubscriptionConfirmed struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

func NewSubscriptionConfirmed(symbol string) SubscriptionConfirmed {
	return SubscriptionConfirmed{Type: TypeSubscriptionConfirmed, Symbol: symbol}
}

type UnsubscriptionConfirmed struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

func NewUnsubscriptionConfirmed(symbol string) UnsubscriptionConfirmed {
	return UnsubscriptionConfirmed{Type: TypeUnsubscriptionConfirmed, Symbol: symbol}
}

// PriceUpdate is the fan-out payload, and also the reply to get_price
// and the one-shot snapshot pushed on subscribe.
type PriceUpdate struct {
	Type          string  `json:"type"`
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Volume        int64   `json:"volume"`
	Source        string  `json:"source"`
	Sequence      int64   `json:"sequence"`
	Timestamp     int64   `json:"timestamp"`
}

func NewPriceUpdate(q models.Quote) PriceUpdate {
	return PriceUpdate{
		Type:          TypePriceUpdate,
		Symbol:        q.Symbol,
		Price:         q.Price,
		Change:        q.Change,
		ChangePercent: q.ChangePercent,
		Volume:        q.Volume,
		Source:        q.Source,
		Sequence:      q.Sequence,
		Timestamp:     q.Timestamp,
	}
}

type HistoricalData struct {
	Type      string       `json:"type"`
	Symbol    string       `json:"symbol"`
	Timeframe string       `json:"timeframe"`
	Data      []models.Bar `json:"data"`
}

func NewHistoricalData(symbol, timeframe string, bars []models.Bar) HistoricalData {
	return HistoricalData{Type: TypeHistoricalData, Symbol: symbol, Timeframe: timeframe, Data: bars}
}

type ErrorReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(message string) ErrorReply {
	return ErrorReply{Type: TypeError, Message: message}
}
