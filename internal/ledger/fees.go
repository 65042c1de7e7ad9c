package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/keyless-tips/backend/internal/currency"
	"github.com/keyless-tips/backend/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// GetFeeSchedule returns the platform fee configuration. Concurrent refreshes
// are coalesced; a fresh cached value is served without a node call.
func (c *Client) GetFeeSchedule(ctx context.Context) (*models.FeeSchedule, error) {
	if fs := c.cachedFee(); fs != nil && c.now().Sub(fs.FetchedAt) < c.cfg.FeeCacheTTL {
		return fs, nil
	}

	v, err, _ := c.feeGroup.Do("fee_schedule", func() (any, error) {
		if fs := c.sharedFee(ctx); fs != nil {
			c.storeFee(fs)
			return fs, nil
		}
		fs, err := c.fetchFeeSchedule(ctx)
		if err != nil {
			return nil, err
		}
		c.storeFee(fs)
		c.shareFee(ctx, fs)
		return fs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.FeeSchedule), nil
}

func (c *Client) fetchFeeSchedule(ctx context.Context) (*models.FeeSchedule, error) {
	out, err := c.View(ctx, "get_platform_config")
	if err != nil {
		return nil, err
	}
	if len(out) != 3 {
		return nil, fmt.Errorf("get_platform_config: unexpected %d return values", len(out))
	}
	bps, err := parseU64(out[0])
	if err != nil {
		return nil, fmt.Errorf("get_platform_config fee: %w", err)
	}
	fs := &models.FeeSchedule{FeeBPS: bps, FetchedAt: c.now()}
	if err := json.Unmarshal(out[1], &fs.Treasury); err != nil {
		return nil, fmt.Errorf("get_platform_config treasury: %w", err)
	}
	if err := json.Unmarshal(out[2], &fs.Paused); err != nil {
		return nil, fmt.Errorf("get_platform_config paused: %w", err)
	}
	return fs, nil
}

func (c *Client) cachedFee() *models.FeeSchedule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastFee
}

func (c *Client) storeFee(fs *models.FeeSchedule) {
	c.mu.Lock()
	c.lastFee = fs
	c.mu.Unlock()
}

func (c *Client) sharedFee(ctx context.Context) *models.FeeSchedule {
	if c.rdb == nil {
		return nil
	}
	b, err := c.rdb.Get(ctx, feeCacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Debug("fee schedule cache read failed", zap.Error(err))
		}
		return nil
	}
	var fs models.FeeSchedule
	if err := json.Unmarshal(b, &fs); err != nil {
		return nil
	}
	return &fs
}

func (c *Client) shareFee(ctx context.Context, fs *models.FeeSchedule) {
	if c.rdb == nil {
		return
	}
	b, err := json.Marshal(fs)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, feeCacheKey, b, c.cfg.FeeCacheTTL).Err(); err != nil {
		c.log.Debug("fee schedule cache write failed", zap.Error(err))
	}
}

// Quote is the split of a gross tip amount. Estimated is set when the split
// was computed locally because the ledger could not be asked.
type Quote struct {
	AmountCents int64 `json:"amount_cents"`
	NetCents    int64 `json:"net_cents"`
	FeeCents    int64 `json:"fee_cents"`
	FeeBPS      int64 `json:"fee_bps"`
	Estimated   bool  `json:"estimated"`
}

// QuoteTipSplit asks the module for the split of amountCents. It never
// fails: when the ledger is unreachable the last known schedule, or the
// configured default, is applied locally. Net+Fee always equals the amount.
func (c *Client) QuoteTipSplit(ctx context.Context, amountCents int64) Quote {
	q, err := c.quoteOnChain(ctx, amountCents)
	if err == nil {
		return q
	}
	c.log.Warn("fee quote fell back to local schedule",
		zap.Int64("amount_cents", amountCents),
		zap.Error(err),
	)
	return c.localQuote(amountCents)
}

func (c *Client) quoteOnChain(ctx context.Context, amountCents int64) (Quote, error) {
	octas, err := currency.CentsToOctas(amountCents)
	if err != nil {
		return Quote{}, err
	}
	out, err := c.View(ctx, "calculate_tip_breakdown", fmt.Sprint(octas))
	if err != nil {
		return Quote{}, err
	}
	if len(out) != 2 {
		return Quote{}, fmt.Errorf("calculate_tip_breakdown: unexpected %d return values", len(out))
	}
	feeOctas, err := parseU64(out[1])
	if err != nil {
		return Quote{}, fmt.Errorf("calculate_tip_breakdown fee: %w", err)
	}

	fee := currency.OctasToCents(feeOctas)
	if fee < 0 || fee > amountCents {
		return Quote{}, fmt.Errorf("calculate_tip_breakdown: fee %d out of range", fee)
	}
	q := Quote{AmountCents: amountCents, NetCents: amountCents - fee, FeeCents: fee}
	if fs := c.cachedFee(); fs != nil {
		q.FeeBPS = fs.FeeBPS
	}
	return q, nil
}

func (c *Client) localQuote(amountCents int64) Quote {
	fs := models.FeeSchedule{FeeBPS: c.cfg.DefaultFeeBPS}
	if last := c.cachedFee(); last != nil {
		fs = *last
	}
	net, fee := fs.Split(amountCents)
	return Quote{AmountCents: amountCents, NetCents: net, FeeCents: fee, FeeBPS: fs.FeeBPS, Estimated: true}
}

// RefreshFeeSchedule forces a node read, ignoring caches.
func (c *Client) RefreshFeeSchedule(ctx context.Context) (*models.FeeSchedule, error) {
	fs, err := c.fetchFeeSchedule(ctx)
	if err != nil {
		return nil, err
	}
	c.storeFee(fs)
	c.shareFee(ctx, fs)
	return fs, nil
}
