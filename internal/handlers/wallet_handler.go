package handlers

import (
	"log"
	"net/http"

	"github.com/liggeey/backend/internal/services"
)

// WalletHandler exposes the QR-based deposit flow: the app shows a QR the
// mobile-money client scans, confirmation consumes the code and credits
// the wallet.
type WalletHandler struct {
	ledger    *services.LedgerService
	validator *services.ValidationHelper
}

func NewWalletHandler(ledger *services.LedgerService) *WalletHandler {
	return &WalletHandler{
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

// GenerateDepositQR handles POST /wallet/deposits/qr
// @Summary Generate a deposit QR code
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64,provider=string} true "Deposit request"
// @Success 200 {object} object{code=string,qr_image=string}
// @Failure 400 {object} services.ErrorResponse
// @Router /wallet/deposits/qr [post]
func (h *WalletHandler) GenerateDepositQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount   int64  `json:"amount" validate:"required,gt=0"`
		Provider string `json:"provider" validate:"required,oneof=wave orange_money"`
	}

	if err := services.DecodeJSONBody(w, r, &req); err != nil {
		services.WriteError(w, err)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	code, qrImage, err := h.ledger.GenerateDepositQR(r.Context(), userID, req.Amount, req.Provider)
	if err != nil {
		log.Printf("[WALLET] QR generation failed for %s: %v", userID, err)
		services.WriteError(w, err)
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"code":     code,
		"qr_image": qrImage,
	})
}

// ConfirmDepositQR handles POST /wallet/deposits/qr/confirm
// @Summary Confirm a scanned deposit QR code
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{code=string} true "Scanned code"
// @Success 201 {object} object{transaction_id=string}
// @Failure 404 {object} services.ErrorResponse
// @Router /wallet/deposits/qr/confirm [post]
func (h *WalletHandler) ConfirmDepositQR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code" validate:"required"`
	}

	if err := services.DecodeJSONBody(w, r, &req); err != nil {
		services.WriteError(w, err)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txID, err := h.ledger.ConsumeDepositQR(r.Context(), req.Code)
	if err != nil {
		log.Printf("[WALLET] QR confirmation failed: %v", err)
		services.WriteError(w, err)
		return
	}

	services.SendJSON(w, http.StatusCreated, map[string]any{
		"success":        true,
		"transaction_id": txID,
	})
}
