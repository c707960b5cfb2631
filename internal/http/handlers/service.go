package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/orvio/server/internal/auth"
	"github.com/orvio/server/internal/credit"
	"github.com/orvio/server/internal/middleware"
	"github.com/orvio/server/internal/service"
)

// ServiceHandler handles the metered /service endpoints used by API-key callers
type ServiceHandler struct {
	gateway *service.Gateway
	ledger  *credit.Ledger
}

// NewServiceHandler creates a new service handler
func NewServiceHandler(gateway *service.Gateway, ledger *credit.Ledger) *ServiceHandler {
	return &ServiceHandler{gateway: gateway, ledger: ledger}
}

// serviceSendOtpRequest is the request body for POST /service/sendOtp
type serviceSendOtpRequest struct {
	PhoneNumber   string `json:"phoneNumber"`
	OrgName       string `json:"orgName,omitempty"`
	OtpExpiry     int    `json:"otpExpiry,omitempty"` // seconds
	WebhookURL    string `json:"webhookUrl,omitempty"`
	WebhookSecret string `json:"webhookSecret,omitempty"`
}

// HandleSendOtp handles POST /service/sendOtp (protected, metered)
func (h *ServiceHandler) HandleSendOtp(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	sessionID, ok2 := middleware.GetSessionID(r.Context())
	if !ok || !ok2 {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req serviceSendOtpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.PhoneNumber == "" {
		respondWithError(w, http.StatusBadRequest, "phoneNumber is required")
		return
	}

	tid, err := h.gateway.SendOtp(r.Context(), userID, sessionID, req.PhoneNumber, service.SendOtpOptions{
		OrgName:       req.OrgName,
		OtpExpiry:     req.OtpExpiry,
		WebhookURL:    req.WebhookURL,
		WebhookSecret: req.WebhookSecret,
	})
	if err != nil {
		switch {
		case errors.Is(err, credit.ErrInsufficientCredits):
			respondWithError(w, http.StatusPaymentRequired, "insufficient credits")
		case errors.Is(err, auth.ErrRateLimited):
			respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		default:
			logMaskedPhone(req.PhoneNumber, "Failed to dispatch service OTP", err)
			respondWithError(w, http.StatusInternalServerError, "failed to send OTP")
		}
		return
	}

	respondWithJSON(w, http.StatusCreated, sendOtpResponse{Tid: tid.String()})
}

// HandleVerifyOtp handles POST /service/verifyOtp
func (h *ServiceHandler) HandleVerifyOtp(w http.ResponseWriter, r *http.Request) {
	var req verifyOtpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Code = strings.TrimSpace(req.Code)
	tid, err := uuid.Parse(strings.TrimSpace(req.Tid))
	if err != nil || req.Code == "" {
		respondWithError(w, http.StatusBadRequest, "tid and code are required")
		return
	}

	result, err := h.gateway.VerifyOtp(r.Context(), tid, req.Code)
	if err != nil {
		log.Printf("Service OTP verification failed for tid %s: %v", tid, err)
		respondWithError(w, http.StatusInternalServerError, "failed to verify OTP")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// ackRequest is the request body for POST /service/ack
type ackRequest struct {
	Tid string `json:"tid"`
}

// HandleAck handles POST /service/ack (protected, idempotent)
func (h *ServiceHandler) HandleAck(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.GetSessionID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tid, err := uuid.Parse(strings.TrimSpace(req.Tid))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "tid is required")
		return
	}

	result, err := h.gateway.Ack(r.Context(), sessionID, tid)
	if err != nil {
		log.Printf("Failed to acknowledge tid %s: %v", tid, err)
		respondWithError(w, http.StatusInternalServerError, "failed to acknowledge")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// creditsResponse is the JSON response for GET /service/credits
type creditsResponse struct {
	Balance int `json:"balance"`
}

// HandleCredits handles GET /service/credits (protected)
func (h *ServiceHandler) HandleCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	balance, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		log.Printf("Failed to load balance for user %s: %v", userID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to load balance")
		return
	}

	respondWithJSON(w, http.StatusOK, creditsResponse{Balance: balance})
}

// creditModeResponse is the JSON response for the creditMode endpoints
type creditModeResponse struct {
	Mode string `json:"mode"`
}

// HandleGetCreditMode handles GET /service/creditMode (protected). The
// middleware loads the user row per request, so the context copy is current.
func (h *ServiceHandler) HandleGetCreditMode(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	respondWithJSON(w, http.StatusOK, creditModeResponse{Mode: user.CreditMode})
}

// setCreditModeRequest is the request body for PATCH /service/creditMode
type setCreditModeRequest struct {
	Mode string `json:"mode"`
}

// HandleSetCreditMode handles PATCH /service/creditMode (protected)
func (h *ServiceHandler) HandleSetCreditMode(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req setCreditModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mode, err := credit.ParseMode(strings.TrimSpace(req.Mode))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "mode must be direct, moderate or strict")
		return
	}

	if err := h.ledger.SetMode(r.Context(), userID, mode); err != nil {
		log.Printf("Failed to set credit mode for user %s: %v", userID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to set credit mode")
		return
	}

	respondWithJSON(w, http.StatusOK, creditModeResponse{Mode: string(mode)})
}
