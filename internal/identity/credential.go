package identity

import (
	"encoding/json"
	"time"
)

// Proof is the prover's zero-knowledge proof. The proof body is opaque to us;
// only the public-inputs hash is checked locally.
type Proof struct {
	Data             json.RawMessage `json:"proof"`
	PublicInputsHash string          `json:"public_inputs_hash"`
	TrainingWheels   string          `json:"training_wheels_signature,omitempty"`
}

// Credential is an authenticated keyless identity able to sign ledger
// transactions until ExpiresAt.
type Credential struct {
	Address   string           `json:"address"`
	Issuer    string           `json:"issuer"`
	Subject   string           `json:"subject"`
	Audience  string           `json:"audience"`
	Email     string           `json:"email,omitempty"`
	JWT       string           `json:"jwt"`
	Ephemeral EphemeralKeyPair `json:"ephemeral"`
	Pepper    string           `json:"pepper"`
	Proof     Proof            `json:"proof"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// IsValid is false once either the assertion or the ephemeral key expired.
func (c *Credential) IsValid(now time.Time) bool {
	if c == nil {
		return false
	}
	return now.Before(c.ExpiresAt) && !c.Ephemeral.Expired(now)
}
