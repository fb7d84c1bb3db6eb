package domain

import "time"

// EventType names a committed settlement operation.
type EventType string

const (
	EventProtocolInitialized EventType = "protocol_initialized"
	EventProtocolUpdated     EventType = "protocol_updated"
	EventMarketCreated       EventType = "market_created"
	EventBetPlaced           EventType = "bet_placed"
	EventMarketResolved      EventType = "market_resolved"
	EventMarketCancelled     EventType = "market_cancelled"
	EventMarketPaused        EventType = "market_paused"
	EventMarketUnpaused      EventType = "market_unpaused"
	EventFeesDistributed     EventType = "fees_distributed"
	EventClaimed             EventType = "claimed"
	EventEarlyExit           EventType = "early_exit"
	EventMarketSwept         EventType = "market_swept"
	EventTreasurySwept       EventType = "treasury_swept"
)

const (
	// SettlementStream is the durable stream of every settlement event.
	SettlementStream = "settlement:events"
	// SettlementChannelPattern matches every per-market pub/sub channel.
	SettlementChannelPattern = "settlement:market:*"
	// SettlementProtocolChannel carries protocol-level events.
	SettlementProtocolChannel = "settlement:protocol"
)

// SettlementChannel is the pub/sub channel carrying events for one market,
// or the protocol channel when marketID is empty.
func SettlementChannel(marketID string) string {
	if marketID == "" {
		return SettlementProtocolChannel
	}
	return "settlement:market:" + marketID
}

// SettlementEvent is published after an operation commits.
type SettlementEvent struct {
	ID       string         `json:"id"`
	Type     EventType      `json:"type"`
	MarketID string         `json:"market_id,omitempty"`
	User     Identity       `json:"user,omitempty"`
	Outcome  *uint8         `json:"outcome,omitempty"`
	Amount   uint64         `json:"amount,omitempty"`
	Detail   map[string]any `json:"detail,omitempty"`
	At       time.Time      `json:"at"`
}
