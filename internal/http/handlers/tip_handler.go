package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/keyless-tips/backend/internal/currency"
	"github.com/keyless-tips/backend/internal/http/dto"
	"github.com/keyless-tips/backend/internal/ledger"
	"github.com/keyless-tips/backend/internal/middleware"
	"github.com/keyless-tips/backend/internal/rbac"
	"github.com/keyless-tips/backend/internal/services"
	"go.uber.org/zap"
)

type TipHandler struct {
	tipService *services.TipService
	log        *zap.Logger
}

func NewTipHandler(tipService *services.TipService, log *zap.Logger) *TipHandler {
	return &TipHandler{tipService: tipService, log: log}
}

// SubmitTip records a tip. Signed-in callers fund it from their keyless
// account; anonymous callers can only record an already confirmed transfer or
// a mirror-only tip.
func (h *TipHandler) SubmitTip(c *fiber.Ctx) error {
	var req dto.SubmitTipRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	amount, err := parseAmount(req.AmountCents, req.Amount)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	tr := services.TipRequest{
		ProfileSlug:     req.ProfileSlug,
		AmountCents:     amount,
		Message:         req.Message,
		TipperAddress:   middleware.GetAddress(c),
		SkipLedger:      req.SkipLedger,
		ConfirmedTxHash: req.TxHash,
	}
	role := rbac.RoleFor(tr.TipperAddress, nil)
	if cred := middleware.GetCredential(c); cred != nil && rbac.HasPermission(role, rbac.PermLedgerFundsTip) && !req.SkipLedger && req.TxHash == "" {
		tr.Signer = ledger.NewKeylessSigner(cred)
	}

	res, err := h.tipService.SubmitTip(c.UserContext(), tr)
	if err != nil {
		return respondError(c, err)
	}

	status := fiber.StatusCreated
	if res.Replayed {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(dto.TipResponse{
		Tip:           res.Tip,
		Status:        res.Status,
		State:         res.State,
		TxHash:        res.TxHash,
		PendingTxHash: res.PendingTxHash,
		Replayed:      res.Replayed,
		Notice:        res.Notice,
	})
}

// Quote previews the fee split for an amount.
func (h *TipHandler) Quote(c *fiber.Ctx) error {
	amount, err := parseAmount(int64(c.QueryInt("amount_cents")), c.Query("amount"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	q, err := h.tipService.QuoteTip(c.UserContext(), amount)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.QuoteResponse{
		AmountCents: q.AmountCents,
		NetCents:    q.NetCents,
		FeeCents:    q.FeeCents,
		FeeBPS:      q.FeeBPS,
		Estimated:   q.Estimated,
		Amount:      currency.FormatCents(q.AmountCents),
		Net:         currency.FormatCents(q.NetCents),
		Fee:         currency.FormatCents(q.FeeCents),
	})
}

func parseAmount(cents int64, major string) (int64, error) {
	switch {
	case cents != 0 && major != "":
		return 0, errAmountAmbiguous
	case major != "":
		return currency.ParseMajor(major)
	case cents > 0:
		return cents, nil
	default:
		return 0, errAmountRequired
	}
}
