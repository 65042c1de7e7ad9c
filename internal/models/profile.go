package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile categories
const (
	CategoryRestaurant = "restaurant"
	CategoryCreator    = "creator"
)

var AllCategories = []string{CategoryRestaurant, CategoryCreator}

func IsValidCategory(c string) bool {
	for _, cat := range AllCategories {
		if cat == c {
			return true
		}
	}
	return false
}

// CategoryCode is the u8 the on-chain create_profile entry function expects.
func CategoryCode(c string) (uint8, bool) {
	switch c {
	case CategoryRestaurant:
		return 1, true
	case CategoryCreator:
		return 2, true
	default:
		return 0, false
	}
}

type Profile struct {
	ID              uuid.UUID `json:"id"`
	Address         string    `json:"address"`
	Slug            string    `json:"slug"`
	Category        string    `json:"category"`
	DisplayName     string    `json:"display_name"`
	Bio             *string   `json:"bio,omitempty"`
	TotalTipsCents  int64     `json:"total_tips_cents"`
	TipCount        int64     `json:"tip_count"`
	AverageTipCents int64     `json:"average_tip_cents"`
	LedgerTxHash    *string   `json:"ledger_tx_hash,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
