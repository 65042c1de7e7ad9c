package dto

import "time"

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type BeginAuthResponse struct {
	ClientKey        string    `json:"client_key"`
	SessionID        string    `json:"session_id"`
	Nonce            string    `json:"nonce"`
	AuthorizationURL string    `json:"authorization_url"`
	ExpiresAt        time.Time `json:"expires_at"`
}

type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Address   string    `json:"address"`
	Email     string    `json:"email,omitempty"`
	Profile   any       `json:"profile,omitempty"`
}

type QuoteResponse struct {
	AmountCents int64  `json:"amount_cents"`
	NetCents    int64  `json:"net_amount_cents"`
	FeeCents    int64  `json:"platform_fee_cents"`
	FeeBPS      int64  `json:"fee_bps"`
	Estimated   bool   `json:"estimated"`
	Amount      string `json:"amount"`
	Net         string `json:"net_amount"`
	Fee         string `json:"platform_fee"`
}

type TipResponse struct {
	Tip           any    `json:"tip"`
	Status        string `json:"status"`
	State         string `json:"state"`
	TxHash        string `json:"tx_hash,omitempty"`
	PendingTxHash string `json:"pending_tx_hash,omitempty"`
	Replayed      bool   `json:"replayed,omitempty"`
	Notice        string `json:"notice,omitempty"`
}

type ListResponse struct {
	Items  any `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
