// Package ledger is the REST client for the tipjar Move module: read-only
// views, transaction submission and confirmation polling.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/keyless-tips/backend/internal/metrics"
	"github.com/keyless-tips/backend/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	coinStoreResource = "0x1::coin::CoinStore<0x1::aptos_coin::AptosCoin>"
	moduleName        = "tipjar"
	feeCacheKey       = "ledger:fee_schedule"
)

type Config struct {
	NodeURL        string
	ModuleAddress  string
	Timeout        time.Duration
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	Retry          RetryPolicy
	DefaultFeeBPS  int64
	FeeCacheTTL    time.Duration
	MaxGasAmount   uint64
	GasUnitPrice   uint64
	TxExpiry       time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	rdb        *redis.Client // optional, shares the fee schedule across replicas
	log        *zap.Logger

	feeGroup singleflight.Group
	mu       sync.RWMutex
	lastFee  *models.FeeSchedule

	now func() time.Time
}

// NewClient builds a ledger client. rdb may be nil.
func NewClient(cfg Config, rdb *redis.Client, log *zap.Logger) (*Client, error) {
	if cfg.NodeURL == "" {
		return nil, errors.New("ledger node url required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.FeeCacheTTL <= 0 {
		cfg.FeeCacheTTL = 5 * time.Minute
	}
	if cfg.MaxGasAmount == 0 {
		cfg.MaxGasAmount = 200_000
	}
	if cfg.GasUnitPrice == 0 {
		cfg.GasUnitPrice = 100
	}
	if cfg.TxExpiry <= 0 {
		cfg.TxExpiry = 2 * time.Minute
	}
	cfg.NodeURL = strings.TrimRight(cfg.NodeURL, "/")

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		rdb:        rdb,
		log:        log,
		now:        time.Now,
	}, nil
}

func (c *Client) function(name string) string {
	return fmt.Sprintf("%s::%s::%s", c.cfg.ModuleAddress, moduleName, name)
}

// do performs one node request. A 404 is returned as a permanent *Error with
// StatusCode 404 so callers can tell "absent" apart.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	start := time.Now()
	err := c.doRaw(ctx, op, method, path, in, out)
	metrics.RecordLedgerCall(op, err, time.Since(start))
	return err
}

func (c *Client) doRaw(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.NodeURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ne nodeError
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(b, &ne) != nil {
			ne.Message = string(b)
		}
		return classifyStatus(op, resp.StatusCode, ne)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: Transient, Op: op, Message: "malformed response", Err: err}
	}
	return nil
}

func isNotFound(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.StatusCode == http.StatusNotFound
}

type viewRequest struct {
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []any    `json:"arguments"`
}

// View calls a read-only module function and returns its raw return values.
func (c *Client) View(ctx context.Context, fn string, args ...any) ([]json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	req := viewRequest{Function: c.function(fn), TypeArguments: []string{}, Arguments: args}
	return Retry(ctx, c.cfg.Retry, func(ctx context.Context) ([]json.RawMessage, error) {
		var out []json.RawMessage
		if err := c.do(ctx, "view:"+fn, http.MethodPost, "/view", req, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// GetBalance returns the account's coin balance in octas. found is false for
// accounts that do not exist on the ledger yet.
func (c *Client) GetBalance(ctx context.Context, addr string) (int64, bool, error) {
	addr, err := NormalizeAddress(addr)
	if err != nil {
		return 0, false, err
	}
	path := "/accounts/" + addr + "/resource/" + url.PathEscape(coinStoreResource)

	type coinStore struct {
		Data struct {
			Coin struct {
				Value json.Number `json:"value"`
			} `json:"coin"`
		} `json:"data"`
	}
	res, err := Retry(ctx, c.cfg.Retry, func(ctx context.Context) (*coinStore, error) {
		var cs coinStore
		if err := c.do(ctx, "balance", http.MethodGet, path, nil, &cs); err != nil {
			return nil, err
		}
		return &cs, nil
	})
	if isNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, err := res.Data.Coin.Value.Int64()
	if err != nil {
		return 0, false, fmt.Errorf("balance value: %w", err)
	}
	return v, true, nil
}

func (c *Client) ProfileExists(ctx context.Context, addr string) (bool, error) {
	addr, err := NormalizeAddress(addr)
	if err != nil {
		return false, err
	}
	out, err := c.View(ctx, "profile_exists", addr)
	if err != nil {
		return false, err
	}
	if len(out) != 1 {
		return false, fmt.Errorf("profile_exists: unexpected %d return values", len(out))
	}
	var exists bool
	if err := json.Unmarshal(out[0], &exists); err != nil {
		return false, fmt.Errorf("profile_exists: %w", err)
	}
	return exists, nil
}

// ProfileRecord is the on-chain side of a profile.
type ProfileRecord struct {
	Address        string `json:"address"`
	Category       uint8  `json:"category"`
	TotalTipsOctas int64  `json:"total_tips_octas"`
	TipCount       int64  `json:"tip_count"`
}

// GetProfile returns nil when the account has no profile.
func (c *Client) GetProfile(ctx context.Context, addr string) (*ProfileRecord, error) {
	addr, err := NormalizeAddress(addr)
	if err != nil {
		return nil, err
	}
	out, err := c.View(ctx, "get_profile", addr)
	if err != nil {
		if AbortCode(err) == AbortProfileNotFound {
			return nil, nil
		}
		return nil, err
	}
	if len(out) != 3 {
		return nil, fmt.Errorf("get_profile: unexpected %d return values", len(out))
	}

	rec := &ProfileRecord{Address: addr}
	if err := json.Unmarshal(out[0], &rec.Category); err != nil {
		return nil, fmt.Errorf("get_profile category: %w", err)
	}
	if rec.TotalTipsOctas, err = parseU64(out[1]); err != nil {
		return nil, fmt.Errorf("get_profile total: %w", err)
	}
	if rec.TipCount, err = parseU64(out[2]); err != nil {
		return nil, fmt.Errorf("get_profile count: %w", err)
	}
	return rec, nil
}

// parseU64 reads a Move u64, which the node encodes as a decimal string.
func parseU64(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return n.Int64()
}
