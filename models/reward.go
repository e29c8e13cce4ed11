package models

import "time"

// WheelSegment is one outcome on the spin wheel. Segments are configured
// server-side; the draw never trusts a client-supplied index.
type WheelSegment struct {
	Weight int   `json:"weight"`
	Coins  int64 `json:"coins"`
}

// RewardDraw records a single wheel draw. At most one draw exists per
// settled transaction.
type RewardDraw struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	SegmentIndex  int       `json:"segment_index"`
	Coins         int64     `json:"coins"`
	CreatedAt     time.Time `json:"created_at"`
}
