package models

import "time"

type FeeSchedule struct {
	FeeBPS    int64     `json:"fee_bps"`
	Treasury  string    `json:"treasury"`
	Paused    bool      `json:"paused"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Split mirrors the on-chain fee logic: the fee is floor(amount*bps/10000)
// and the recipient gets the rest, so net+fee always equals amount.
func (f FeeSchedule) Split(amount int64) (net, fee int64) {
	if amount <= 0 || f.FeeBPS <= 0 {
		return amount, 0
	}
	fee = amount * f.FeeBPS / 10_000
	return amount - fee, fee
}
