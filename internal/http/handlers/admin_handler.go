package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/keyless-tips/backend/internal/currency"
	"github.com/keyless-tips/backend/internal/http/dto"
	"github.com/keyless-tips/backend/internal/ledger"
	"github.com/keyless-tips/backend/internal/services"
	"go.uber.org/zap"
)

type AdminHandler struct {
	reconciler *services.ReconcileService
	profiles   *services.ProfileService
	ledger     *ledger.Client
	log        *zap.Logger
}

func NewAdminHandler(reconciler *services.ReconcileService, profiles *services.ProfileService, ledgerClient *ledger.Client, log *zap.Logger) *AdminHandler {
	return &AdminHandler{reconciler: reconciler, profiles: profiles, ledger: ledgerClient, log: log}
}

// Reconcile runs one reconciliation pass immediately.
func (h *AdminHandler) Reconcile(c *fiber.Ctx) error {
	report, err := h.reconciler.RunOnce(c.UserContext())
	if err != nil {
		h.log.Error("manual reconcile failed", zap.Error(err))
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: report})
}

func (h *AdminHandler) RefreshFees(c *fiber.Ctx) error {
	fs, err := h.ledger.RefreshFeeSchedule(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: fs})
}

// LedgerAccount compares an account's on-chain profile with its mirror row.
func (h *AdminHandler) LedgerAccount(c *fiber.Ctx) error {
	ctx := c.UserContext()
	addr := c.Params("address")

	octas, found, err := h.ledger.GetBalance(ctx, addr)
	if err != nil {
		return respondError(c, err)
	}
	onChain, err := h.ledger.GetProfile(ctx, addr)
	if err != nil {
		return respondError(c, err)
	}

	data := fiber.Map{
		"address":       addr,
		"account_found": found,
		"balance_octas": octas,
		"balance":       currency.FormatCents(currency.OctasToCents(octas)),
		"ledger":        onChain,
	}
	mirror, err := h.profiles.GetByAddress(ctx, addr)
	switch {
	case err == nil:
		data["mirror"] = mirror
		if onChain != nil {
			data["tip_count_drift"] = mirror.TipCount - onChain.TipCount
			data["total_cents_drift"] = mirror.TotalTipsCents - currency.OctasToCents(onChain.TotalTipsOctas)
		}
	case !errors.Is(err, services.ErrProfileNotFound):
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: data})
}
