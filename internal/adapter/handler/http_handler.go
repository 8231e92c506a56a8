package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/minhpham/flashsale/internal/core/domain"
	"github.com/minhpham/flashsale/internal/core/service"
)

type HTTPHandler struct {
	purchases *service.PurchaseService
}

func NewHTTPHandler(purchases *service.PurchaseService) *HTTPHandler {
	return &HTTPHandler{purchases: purchases}
}

type statusResponse struct {
	Status         domain.SaleStatus `json:"status"`
	RemainingStock int               `json:"remainingStock"`
	SoldOut        bool              `json:"soldOut"`
	ProductName    string            `json:"productName,omitempty"`
	StartTime      *time.Time        `json:"startTime,omitempty"`
	EndTime        *time.Time        `json:"endTime,omitempty"`
}

type purchaseRequest struct {
	UserID string `json:"userId"`
}

type purchaseResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	RemainingStock *int   `json:"remainingStock,omitempty"`
}

type reservationPayload struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type reserveResponse struct {
	Success      bool                `json:"success"`
	Message      string              `json:"message"`
	Reservation  *reservationPayload `json:"reservation,omitempty"`
	PaymentToken string              `json:"paymentToken,omitempty"`
}

type confirmRequest struct {
	UserID           string `json:"userId"`
	PaymentAttemptID string `json:"paymentAttemptId"`
}

type userStatusResponse struct {
	HasPurchased   bool       `json:"hasPurchased"`
	PurchaseTime   *time.Time `json:"purchaseTime,omitempty"`
	HasReservation bool       `json:"hasReservation"`
}

type initSaleRequest struct {
	ProductName string    `json:"productName"`
	TotalStock  int       `json:"totalStock"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	Price       string    `json:"price"`
}

func (h *HTTPHandler) Status(w http.ResponseWriter, r *http.Request) {
	info, err := h.purchases.Status(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrSaleNotFound) {
			writeError(w, http.StatusNotFound, "no sale configured")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	start, end := info.Sale.StartTime, info.Sale.EndTime
	writeJSON(w, http.StatusOK, statusResponse{
		Status:         info.Effective(),
		RemainingStock: info.Remaining,
		SoldOut:        info.SoldOut,
		ProductName:    info.Sale.ProductName,
		StartTime:      &start,
		EndTime:        &end,
	})
}

func (h *HTTPHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, purchaseResponse{Success: false, Message: "userId is required"})
		return
	}

	result, err := h.purchases.Buy(r.Context(), req.UserID)
	if err != nil {
		status, message := rejectionStatus(err)
		writeJSON(w, status, purchaseResponse{Success: false, Message: message})
		return
	}

	switch result.Outcome {
	case service.OutcomeAlreadyPurchased:
		writeJSON(w, http.StatusConflict, purchaseResponse{Success: false, Message: "you already purchased this item"})
	case service.OutcomeSoldOut:
		remaining := 0
		writeJSON(w, http.StatusGone, purchaseResponse{Success: false, Message: "sold out", RemainingStock: &remaining})
	default:
		remaining := result.Remaining
		writeJSON(w, http.StatusOK, purchaseResponse{Success: true, Message: "purchase successful", RemainingStock: &remaining})
	}
}

func (h *HTTPHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, reserveResponse{Success: false, Message: "userId is required"})
		return
	}

	result, err := h.purchases.Buy(r.Context(), req.UserID)
	if err != nil {
		status, message := rejectionStatus(err)
		writeJSON(w, status, reserveResponse{Success: false, Message: message})
		return
	}

	switch result.Outcome {
	case service.OutcomeAlreadyPurchased:
		writeJSON(w, http.StatusConflict, reserveResponse{Success: false, Message: "you already purchased this item"})
	case service.OutcomeSoldOut:
		writeJSON(w, http.StatusGone, reserveResponse{Success: false, Message: "sold out"})
	default:
		writeJSON(w, http.StatusOK, reserveResponse{
			Success: true,
			Message: "reservation created",
			Reservation: &reservationPayload{
				ID:        result.Reservation.ID,
				ExpiresAt: result.Reservation.ExpiresAt,
			},
			PaymentToken: result.PaymentToken,
		})
	}
}

func (h *HTTPHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.PaymentAttemptID == "" {
		writeJSON(w, http.StatusBadRequest, purchaseResponse{Success: false, Message: "userId and paymentAttemptId are required"})
		return
	}

	err := h.purchases.Confirm(r.Context(), req.UserID, req.PaymentAttemptID)
	if err != nil {
		if errors.Is(err, domain.ErrNoLiveReservation) {
			writeJSON(w, http.StatusGone, purchaseResponse{Success: false, Message: "reservation expired, retry the purchase"})
			return
		}
		status, message := rejectionStatus(err)
		writeJSON(w, status, purchaseResponse{Success: false, Message: message})
		return
	}

	writeJSON(w, http.StatusOK, purchaseResponse{Success: true, Message: "purchase confirmed"})
}

func (h *HTTPHandler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, purchaseResponse{Success: false, Message: "userId is required"})
		return
	}

	err := h.purchases.CancelReservation(r.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNoLiveReservation) {
			writeJSON(w, http.StatusNotFound, purchaseResponse{Success: false, Message: "no live reservation"})
			return
		}
		status, message := rejectionStatus(err)
		writeJSON(w, status, purchaseResponse{Success: false, Message: message})
		return
	}

	writeJSON(w, http.StatusOK, purchaseResponse{Success: true, Message: "reservation cancelled"})
}

func (h *HTTPHandler) UserStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	state, err := h.purchases.UserState(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrSaleNotFound) {
			writeError(w, http.StatusNotFound, "no sale configured")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, userStatusResponse{
		HasPurchased:   state.HasPurchased,
		PurchaseTime:   state.PurchaseTime,
		HasReservation: state.HasReservation,
	})
}

func (h *HTTPHandler) InitSale(w http.ResponseWriter, r *http.Request) {
	var req initSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	price := decimal.Zero
	if req.Price != "" {
		var err error
		price, err = decimal.NewFromString(req.Price)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid price")
			return
		}
	}

	sale, err := h.purchases.InitSale(r.Context(), service.InitSaleInput{
		ProductName: req.ProductName,
		TotalStock:  req.TotalStock,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Price:       price,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSaleWindow),
			errors.Is(err, domain.ErrInvalidStock),
			errors.Is(err, domain.ErrInvalidPrice):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:         domain.SaleStatusUpcoming,
		RemainingStock: sale.TotalStock,
		ProductName:    sale.ProductName,
		StartTime:      &sale.StartTime,
		EndTime:        &sale.EndTime,
	})
}

func (h *HTTPHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.purchases.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// rejectionStatus maps business rejections onto HTTP statuses. Anything not
// in the taxonomy is a transient infrastructure failure and is retryable.
func rejectionStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrSaleNotFound):
		return http.StatusNotFound, "no sale configured"
	case errors.Is(err, domain.ErrSaleNotStarted):
		return http.StatusForbidden, "sale has not started yet"
	case errors.Is(err, domain.ErrSaleEnded):
		return http.StatusForbidden, "sale has ended"
	case errors.Is(err, domain.ErrSoldOut):
		return http.StatusGone, "sold out"
	case errors.Is(err, domain.ErrAlreadyPurchased):
		return http.StatusConflict, "you already purchased this item"
	case errors.Is(err, domain.ErrNotSupported):
		return http.StatusMethodNotAllowed, "not supported for this sale"
	default:
		return http.StatusInternalServerError, "internal error, please retry"
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
