package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger settlement status of a mirrored tip
const (
	LedgerStatusNone      = "none"      // not yet attempted
	LedgerStatusPending   = "pending"   // submitted, confirmation not observed yet
	LedgerStatusConfirmed = "confirmed" // tx_hash attached
	LedgerStatusFailed    = "failed"    // submission rejected or never landed
	LedgerStatusSkipped   = "skipped"   // caller asked for a mirror-only tip
)

type Tip struct {
	ID               uuid.UUID `json:"id"`
	ProfileID        uuid.UUID `json:"profile_id"`
	ProfileSlug      string    `json:"profile_slug"`
	TipperAddress    *string   `json:"tipper_address,omitempty"`
	AmountCents      int64     `json:"amount_cents"`
	NetAmountCents   int64     `json:"net_amount_cents"`
	PlatformFeeCents int64     `json:"platform_fee_cents"`
	FeeEstimated     bool      `json:"fee_estimated"`
	Message          *string   `json:"message,omitempty"`
	TxHash           *string   `json:"tx_hash,omitempty"`
	PendingTxHash    *string   `json:"pending_tx_hash,omitempty"`
	LedgerStatus     string    `json:"ledger_status"`
	CreatedAt        time.Time `json:"created_at"`
}

// Tip intent states
const (
	TipStateValidated              = "validated"
	TipStateMirrorPending          = "mirror_pending"
	TipStateMirrorCommitted        = "mirror_committed"
	TipStateLedgerPending          = "ledger_pending"
	TipStateLedgerCommitted        = "ledger_committed"
	TipStateMirrorFailed           = "mirror_failed"
	TipStateLedgerFailedMirrorKept = "ledger_failed_mirror_kept"
	TipStateRejected               = "rejected"
)

// Valid tip intent transitions: from -> []to
var ValidTipTransitions = map[string][]string{
	TipStateValidated:       {TipStateMirrorPending, TipStateRejected},
	TipStateMirrorPending:   {TipStateMirrorCommitted, TipStateMirrorFailed},
	TipStateMirrorFailed:    {TipStateRejected},
	TipStateMirrorCommitted: {TipStateLedgerPending, TipStateLedgerCommitted, TipStateLedgerFailedMirrorKept},
	TipStateLedgerPending:   {TipStateLedgerCommitted, TipStateLedgerFailedMirrorKept},

	TipStateLedgerCommitted:        {},
	TipStateLedgerFailedMirrorKept: {},
	TipStateRejected:               {},
}

func IsValidTipTransition(from, to string) bool {
	allowed, ok := ValidTipTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminalTipState(s string) bool {
	allowed, ok := ValidTipTransitions[s]
	return ok && len(allowed) == 0
}
