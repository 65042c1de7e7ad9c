package dto

type BeginAuthRequest struct {
	// ClientKey identifies the browser across the provider round trip. A new
	// one is issued when empty.
	ClientKey   string `json:"client_key,omitempty"`
	RedirectURI string `json:"redirect_uri,omitempty"`
}

type CompleteAuthRequest struct {
	ClientKey   string `json:"client_key"`
	CallbackURL string `json:"callback_url"`
}

type CreateProfileRequest struct {
	Slug        string `json:"slug"`
	Category    string `json:"category"` // restaurant / creator
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio,omitempty"`
}

type SubmitTipRequest struct {
	ProfileSlug string `json:"profile_slug"`
	// Exactly one of AmountCents and Amount ("15.00" in major units).
	AmountCents int64  `json:"amount_cents,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Message     string `json:"message,omitempty"`
	// Mirror only, no ledger transfer.
	SkipLedger bool `json:"skip_ledger,omitempty"`
	// Ledger reference the client already saw confirmed.
	TxHash string `json:"tx_hash,omitempty"`
}
