package identity

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ProofRequest is what both keyless services need to know about a sign-in.
type ProofRequest struct {
	JWT       string
	Ephemeral EphemeralKeyPair
	Pepper    []byte // prover only
}

type PepperFetcher interface {
	FetchPepper(ctx context.Context, req ProofRequest) ([]byte, error)
}

type ProofFetcher interface {
	FetchProof(ctx context.Context, req ProofRequest) (*Proof, error)
}

type upstreamBody struct {
	JWT         string `json:"jwt_b64"`
	EPK         string `json:"epk"`
	ExpDateSecs int64  `json:"exp_date_secs"`
	Blinder     string `json:"epk_blinder"`
	UIDKey      string `json:"uid_key"`
	Pepper      string `json:"pepper,omitempty"`
}

func newUpstreamBody(req ProofRequest) upstreamBody {
	b := upstreamBody{
		JWT:         req.JWT,
		EPK:         hex.EncodeToString(req.Ephemeral.PublicKey),
		ExpDateSecs: req.Ephemeral.ExpiresAt.Unix(),
		Blinder:     hex.EncodeToString(req.Ephemeral.Blinder),
		UIDKey:      "sub",
	}
	if len(req.Pepper) > 0 {
		b.Pepper = hex.EncodeToString(req.Pepper)
	}
	return b
}

// PepperClient talks to the pepper service.
type PepperClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewPepperClient(baseURL string, timeout time.Duration, log *zap.Logger) *PepperClient {
	return &PepperClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

func (c *PepperClient) FetchPepper(ctx context.Context, req ProofRequest) ([]byte, error) {
	var out struct {
		Pepper string `json:"pepper"`
	}
	if err := postJSON(ctx, c.httpClient, c.baseURL+"/fetch", newUpstreamBody(req), &out, ErrPepperService); err != nil {
		return nil, err
	}
	pepper, err := decodeBytes(out.Pepper)
	if err != nil || len(pepper) == 0 {
		return nil, fmt.Errorf("%w: malformed pepper", ErrPepperService)
	}
	return pepper, nil
}

// ProverClient talks to the proving service.
type ProverClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewProverClient(baseURL string, timeout time.Duration, log *zap.Logger) *ProverClient {
	return &ProverClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

func (c *ProverClient) FetchProof(ctx context.Context, req ProofRequest) (*Proof, error) {
	var proof Proof
	if err := postJSON(ctx, c.httpClient, c.baseURL+"/prove", newUpstreamBody(req), &proof, ErrProofService); err != nil {
		return nil, err
	}
	if proof.PublicInputsHash == "" {
		return nil, fmt.Errorf("%w: response has no public inputs hash", ErrProofService)
	}
	return &proof, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, in, out any, service error) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &UpstreamError{Service: service, StatusCode: resp.StatusCode, Body: string(b)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", service, err)
	}
	return nil
}

// decodeBytes accepts hex (optionally 0x-prefixed) or base64.
func decodeBytes(s string) ([]byte, error) {
	h := strings.TrimPrefix(s, "0x")
	if b, err := hex.DecodeString(h); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
