package domain

import "time"

// VoteRecord is a user's cumulative stake in one market.
type VoteRecord struct {
	MarketID     string     `json:"market_id"`
	User         Identity   `json:"user"`
	OutcomeIndex uint8      `json:"outcome_index"`
	Amount       uint64     `json:"amount"`
	Claimed      bool       `json:"claimed"`
	LockedPayout uint64     `json:"locked_payout,omitempty"`
	LockedFee    uint64     `json:"locked_fee,omitempty"`
	Payout       uint64     `json:"payout"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
}
