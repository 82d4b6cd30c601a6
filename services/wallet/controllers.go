package wallet

import (
	"net/http"
	"strconv"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi"

	"github.com/shinminje20/birdie-buddies-backend/libs/handlers"
	"github.com/shinminje20/birdie-buddies-backend/libs/inputs"
	"github.com/shinminje20/birdie-buddies-backend/libs/middleware"
	"github.com/shinminje20/birdie-buddies-backend/libs/requestutils"
)

// Router for wallet endpoints
func Router(service *Service) chi.Router {
	r := chi.NewRouter()
	r.Method("GET", "/me", middleware.InstrumentHandler("GetMyWallet", GetMyWallet(service)))
	r.Method("GET", "/me/ledger", middleware.InstrumentHandler("GetMyLedger", GetMyLedger(service)))
	r.Method("POST", "/{userID}/deposits", middleware.AdminRequired(
		middleware.InstrumentHandler("CreateDeposit", CreateDeposit(service))))
	r.Method("GET", "/{userID}", middleware.AdminRequired(
		middleware.InstrumentHandler("GetUserWallet", GetUserWallet(service))))
	r.Method("GET", "/{userID}/ledger", middleware.AdminRequired(
		middleware.InstrumentHandler("GetUserLedger", GetUserLedger(service))))
	return r
}

// WalletResponse is the wallet summary returned to clients
type WalletResponse struct {
	UserID         string `json:"userId"`
	PostedCents    int64  `json:"postedCents"`
	HoldsCents     int64  `json:"holdsCents"`
	AvailableCents int64  `json:"availableCents"`
}

func walletResponse(w *Wallet) *WalletResponse {
	return &WalletResponse{
		UserID:         w.UserID.String(),
		PostedCents:    w.PostedCents,
		HoldsCents:     w.HoldsCents,
		AvailableCents: w.AvailableCents(),
	}
}

// GetMyWallet returns the actor's wallet summary
func GetMyWallet(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		actorID, ok := middleware.GetActorID(r.Context())
		if !ok {
			return &handlers.AppError{Message: "missing actor", Code: http.StatusUnauthorized}
		}
		wallet, err := service.GetWallet(r.Context(), actorID)
		if err != nil {
			return handlers.WrapError(err, "Error getting wallet", http.StatusInternalServerError)
		}
		return handlers.RenderContent(r.Context(), walletResponse(wallet), w, http.StatusOK)
	})
}

// LedgerResponse is a page of ledger entries
type LedgerResponse struct {
	Entries []LedgerEntry `json:"entries"`
}

func ledgerPageParams(r *http.Request) (int64, int) {
	var (
		beforeID int64
		limit    int
	)
	if raw := r.URL.Query().Get("before_id"); raw != "" {
		beforeID, _ = strconv.ParseInt(raw, 10, 64)
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	return beforeID, limit
}

// GetMyLedger returns a page of the actor's ledger entries
func GetMyLedger(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		actorID, ok := middleware.GetActorID(r.Context())
		if !ok {
			return &handlers.AppError{Message: "missing actor", Code: http.StatusUnauthorized}
		}
		beforeID, limit := ledgerPageParams(r)
		entries, err := service.ListLedger(r.Context(), actorID, beforeID, limit)
		if err != nil {
			return handlers.WrapError(err, "Error listing ledger", http.StatusInternalServerError)
		}
		return handlers.RenderContent(r.Context(), &LedgerResponse{Entries: entries}, w, http.StatusOK)
	})
}

// DepositRequest is the body of an admin deposit
type DepositRequest struct {
	AmountCents    int64  `json:"amountCents" valid:"required"`
	IdempotencyKey string `json:"idempotencyKey" valid:"length(6|120)"`
}

// CreateDeposit posts external funds into a user's wallet (admin only)
func CreateDeposit(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		var userID = new(inputs.ID)
		if err := inputs.DecodeAndValidateString(r.Context(), userID, chi.URLParam(r, "userID")); err != nil {
			return handlers.ValidationError("request url parameter", map[string]interface{}{
				"userID": err.Error(),
			})
		}

		var req DepositRequest
		if err := requestutils.ReadJSON(r.Context(), r.Body, &req); err != nil {
			return handlers.WrapError(err, "Error reading body", http.StatusBadRequest)
		}
		if _, err := govalidator.ValidateStruct(req); err != nil {
			return handlers.WrapValidationError(err)
		}

		entry, err := service.Deposit(r.Context(), *userID.UUID(), req.AmountCents, req.IdempotencyKey)
		if err != nil {
			return handlers.CodedError(err, "Error applying deposit")
		}
		return handlers.RenderContent(r.Context(), entry, w, http.StatusCreated)
	})
}

// GetUserWallet returns any user's wallet summary (admin only)
func GetUserWallet(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		var userID = new(inputs.ID)
		if err := inputs.DecodeAndValidateString(r.Context(), userID, chi.URLParam(r, "userID")); err != nil {
			return handlers.ValidationError("request url parameter", map[string]interface{}{
				"userID": err.Error(),
			})
		}
		wallet, err := service.GetWallet(r.Context(), *userID.UUID())
		if err != nil {
			return handlers.WrapError(err, "Error getting wallet", http.StatusInternalServerError)
		}
		return handlers.RenderContent(r.Context(), walletResponse(wallet), w, http.StatusOK)
	})
}

// GetUserLedger returns a page of any user's ledger entries (admin only)
func GetUserLedger(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		var userID = new(inputs.ID)
		if err := inputs.DecodeAndValidateString(r.Context(), userID, chi.URLParam(r, "userID")); err != nil {
			return handlers.ValidationError("request url parameter", map[string]interface{}{
				"userID": err.Error(),
			})
		}
		beforeID, limit := ledgerPageParams(r)
		entries, err := service.ListLedger(r.Context(), *userID.UUID(), beforeID, limit)
		if err != nil {
			return handlers.WrapError(err, "Error listing ledger", http.StatusInternalServerError)
		}
		return handlers.RenderContent(r.Context(), &LedgerResponse{Entries: entries}, w, http.StatusOK)
	})
}
