package ledger

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/keyless-tips/backend/internal/currency"
	"go.uber.org/zap"
)

type entryPayload struct {
	Type          string   `json:"type"`
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []any    `json:"arguments"`
}

type rawTransaction struct {
	Sender                  string       `json:"sender"`
	SequenceNumber          string       `json:"sequence_number"`
	MaxGasAmount            string       `json:"max_gas_amount"`
	GasUnitPrice            string       `json:"gas_unit_price"`
	ExpirationTimestampSecs string       `json:"expiration_timestamp_secs"`
	Payload                 entryPayload `json:"payload"`
}

type signedTransaction struct {
	rawTransaction
	Signature *Signature `json:"signature"`
}

type pendingTransaction struct {
	Hash string `json:"hash"`
}

// SubmitProfileCreation registers owner as a tip recipient. The signer is the
// platform admin account; the profile lives under owner, never the signer.
func (c *Client) SubmitProfileCreation(ctx context.Context, signer Signer, owner string, category uint8) (string, error) {
	owner, err := NormalizeAddress(owner)
	if err != nil {
		return "", &Error{Kind: Permanent, Op: "create_profile", Message: err.Error()}
	}
	return c.submitEntry(ctx, signer, "create_profile", owner, category)
}

// SubmitTip transfers amountCents from the signer to recipient through the
// module, which takes the platform fee.
func (c *Client) SubmitTip(ctx context.Context, signer Signer, recipient string, amountCents int64, message string) (string, error) {
	recipient, err := NormalizeAddress(recipient)
	if err != nil {
		return "", &Error{Kind: Permanent, Op: "send_tip", Message: err.Error()}
	}
	octas, err := currency.CentsToOctas(amountCents)
	if err != nil || octas == 0 {
		return "", &Error{Kind: Permanent, Op: "send_tip", VMStatus: AbortInvalidAmount, Err: err}
	}
	return c.submitEntry(ctx, signer, "send_tip", recipient, strconv.FormatInt(octas, 10), message)
}

// submitEntry builds, signs and submits an entry function call and returns
// the transaction hash. It does not wait for execution.
func (c *Client) submitEntry(ctx context.Context, signer Signer, fn string, args ...any) (string, error) {
	if ex, ok := signer.(exclusiveSigner); ok {
		release, err := ex.Acquire(ctx)
		if err != nil {
			return "", transportError(fn, err)
		}
		defer release()
	}

	sender, err := NormalizeAddress(signer.Address())
	if err != nil {
		return "", &Error{Kind: Permanent, Op: fn, Message: err.Error()}
	}

	seq, err := c.sequenceNumber(ctx, sender)
	if err != nil {
		return "", err
	}

	if args == nil {
		args = []any{}
	}
	txn := rawTransaction{
		Sender:                  sender,
		SequenceNumber:          seq,
		MaxGasAmount:            strconv.FormatUint(c.cfg.MaxGasAmount, 10),
		GasUnitPrice:            strconv.FormatUint(c.cfg.GasUnitPrice, 10),
		ExpirationTimestampSecs: strconv.FormatInt(c.now().Add(c.cfg.TxExpiry).Unix(), 10),
		Payload: entryPayload{
			Type:          "entry_function_payload",
			Function:      c.function(fn),
			TypeArguments: []string{},
			Arguments:     args,
		},
	}

	signingHex, err := Retry(ctx, c.cfg.Retry, func(ctx context.Context) (string, error) {
		var out string
		err := c.do(ctx, "encode:"+fn, http.MethodPost, "/transactions/encode_submission", txn, &out)
		return out, err
	})
	if err != nil {
		return "", err
	}
	signingMsg, err := decodeHex(signingHex)
	if err != nil {
		return "", &Error{Kind: Transient, Op: fn, Message: "malformed signing message", Err: err}
	}

	sig, err := signer.Sign(ctx, signingMsg)
	if err != nil {
		return "", &Error{Kind: Permanent, Op: fn, Message: "signing failed", Err: err}
	}

	// resubmitting an identical signed transaction is harmless: the node
	// dedupes by hash
	pending, err := Retry(ctx, c.cfg.Retry, func(ctx context.Context) (*pendingTransaction, error) {
		var out pendingTransaction
		if err := c.do(ctx, "submit:"+fn, http.MethodPost, "/transactions", signedTransaction{rawTransaction: txn, Signature: sig}, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return "", err
	}
	if pending.Hash == "" {
		return "", &Error{Kind: Transient, Op: fn, Message: "node returned no transaction hash"}
	}

	c.log.Info("ledger transaction submitted",
		zap.String("function", fn),
		zap.String("sender", sender),
		zap.String("tx_hash", pending.Hash),
	)
	return pending.Hash, nil
}

func (c *Client) sequenceNumber(ctx context.Context, addr string) (string, error) {
	type account struct {
		SequenceNumber string `json:"sequence_number"`
	}
	acc, err := Retry(ctx, c.cfg.Retry, func(ctx context.Context) (*account, error) {
		var a account
		if err := c.do(ctx, "account", http.MethodGet, "/accounts/"+addr, nil, &a); err != nil {
			return nil, err
		}
		return &a, nil
	})
	if isNotFound(err) {
		// keyless accounts come into existence with their first transaction
		return "0", nil
	}
	if err != nil {
		return "", err
	}
	if _, err := strconv.ParseUint(acc.SequenceNumber, 10, 64); err != nil {
		return "", fmt.Errorf("account %s: bad sequence number %q", addr, acc.SequenceNumber)
	}
	return acc.SequenceNumber, nil
}
