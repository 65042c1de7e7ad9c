package ledger

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
)

type Confirmation struct {
	TxHash   string  `json:"tx_hash"`
	Outcome  Outcome `json:"outcome"`
	VMStatus string  `json:"vm_status,omitempty"`
	Version  string  `json:"version,omitempty"`
}

type txByHash struct {
	Type     string `json:"type"`
	Hash     string `json:"hash"`
	Success  bool   `json:"success"`
	VMStatus string `json:"vm_status"`
	Version  string `json:"version"`
}

// TransactionStatus checks a transaction once. Unknown and not yet executed
// transactions are both reported as pending.
func (c *Client) TransactionStatus(ctx context.Context, txHash string) (Confirmation, error) {
	conf := Confirmation{TxHash: txHash, Outcome: OutcomePending}

	var tx txByHash
	err := c.do(ctx, "tx_by_hash", http.MethodGet, "/transactions/by_hash/"+txHash, nil, &tx)
	if isNotFound(err) {
		return conf, nil
	}
	if err != nil {
		return conf, err
	}

	if tx.Type == "pending_transaction" {
		return conf, nil
	}
	conf.VMStatus = tx.VMStatus
	conf.Version = tx.Version
	if tx.Success {
		conf.Outcome = OutcomeConfirmed
	} else {
		conf.Outcome = OutcomeFailed
	}
	return conf, nil
}

// AwaitConfirmation polls until the transaction executes or the confirm
// timeout elapses. A timeout is an outcome, not an error: the transaction may
// still land later. Transient node errors while polling are tolerated.
func (c *Client) AwaitConfirmation(ctx context.Context, txHash string) (Confirmation, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		conf, err := c.TransactionStatus(pollCtx, txHash)
		switch {
		case err == nil && conf.Outcome != OutcomePending:
			return conf, nil
		case err != nil && !IsTransient(err) && !errors.Is(err, context.DeadlineExceeded):
			return conf, err
		case err != nil:
			c.log.Debug("confirmation poll failed", zap.String("tx_hash", txHash), zap.Error(err))
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return Confirmation{TxHash: txHash}, ctx.Err()
			}
			return Confirmation{TxHash: txHash, Outcome: OutcomeTimeout}, nil
		case <-ticker.C:
		}
	}
}
