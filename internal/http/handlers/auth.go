package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/orvio/server/internal/auth"
	"github.com/orvio/server/internal/cashback"
	"github.com/orvio/server/internal/middleware"
)

// AuthHandler handles the first-party authentication endpoints
type AuthHandler struct {
	authService *auth.AuthService
	sessions    *auth.SessionService
	aggregator  *cashback.Aggregator
	ipLimiter   *middleware.RateLimiter
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(
	authService *auth.AuthService,
	sessions *auth.SessionService,
	aggregator *cashback.Aggregator,
) *AuthHandler {
	// IP limiter for sendOtp; the per-phone cooldown lives in the cooldown store
	return &AuthHandler{
		authService: authService,
		sessions:    sessions,
		aggregator:  aggregator,
		ipLimiter:   middleware.NewRateLimiter(10*time.Minute, 20),
	}
}

// sendOtpRequest is the request body for POST /auth/sendOtp
type sendOtpRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

// sendOtpResponse is the JSON response for sendOtp
type sendOtpResponse struct {
	Tid string `json:"tid"`
}

// verifyOtpRequest is the request body for POST /auth/verifyOtp
type verifyOtpRequest struct {
	Tid  string `json:"tid"`
	Code string `json:"code"`
}

// verifyOtpResponse is the JSON response for verifyOtp
type verifyOtpResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	TokenType    string       `json:"tokenType"`
	User         userResponse `json:"user"`
}

// userResponse is the user object in API responses
type userResponse struct {
	ID             string `json:"id"`
	PhoneNumber    string `json:"phoneNumber"`
	Credits        int    `json:"credits"`
	CreditMode     string `json:"creditMode"`
	CashbackPoints int    `json:"cashbackPoints"`
}

// HandleSendOtp handles POST /auth/sendOtp
func (h *AuthHandler) HandleSendOtp(w http.ResponseWriter, r *http.Request) {
	var req sendOtpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}

	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.PhoneNumber == "" {
		respondWithError(w, http.StatusBadRequest, "phoneNumber is required")
		return
	}

	if !h.ipLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	tid, err := h.authService.SendOtp(r.Context(), req.PhoneNumber)
	if err != nil {
		logMaskedPhone(req.PhoneNumber, "Failed to send OTP", err)
		if errors.Is(err, auth.ErrRateLimited) {
			respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		respondWithError(w, http.StatusInternalServerError, "failed to send OTP")
		return
	}

	respondWithJSON(w, http.StatusCreated, sendOtpResponse{Tid: tid.String()})
}

// HandleVerifyOtp handles POST /auth/verifyOtp
func (h *AuthHandler) HandleVerifyOtp(w http.ResponseWriter, r *http.Request) {
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

	user, accessToken, refreshToken, err := h.authService.VerifyOtpAndCreateSession(r.Context(), tid, req.Code)
	if err != nil {
		log.Printf("OTP verification failed for tid %s: %v", tid, err)
		respondWithError(w, http.StatusUnauthorized, "invalid or expired OTP")
		return
	}

	respondWithJSON(w, http.StatusCreated, verifyOtpResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		User:         toUserResponse(user.ID.String(), user.PhoneNumber, user.Credits, user.CreditMode, user.CashbackPoints),
	})
}

// refreshRequest is the request body for POST /auth/refresh
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refreshResponse is the JSON response for refresh
type refreshResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
}

// HandleRefresh handles POST /auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}

	accessToken, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		respondWithError(w, http.StatusForbidden, "invalid or expired refresh token")
		return
	}

	respondWithJSON(w, http.StatusOK, refreshResponse{
		AccessToken: accessToken,
		TokenType:   "bearer",
	})
}

// registerDeviceRequest is the request body for POST /auth/register
type registerDeviceRequest struct {
	DeviceHash string `json:"deviceHash"`
	FcmToken   string `json:"fcmToken"`
}

// registerDeviceResponse is the JSON response for register
type registerDeviceResponse struct {
	ID         string `json:"id"`
	DeviceHash string `json:"deviceHash"`
	IsActive   bool   `json:"isActive"`
}

// HandleRegisterDevice handles POST /auth/register (protected)
func (h *AuthHandler) HandleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	sessionID, ok2 := middleware.GetSessionID(r.Context())
	if !ok || !ok2 {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.DeviceHash = strings.TrimSpace(req.DeviceHash)
	if req.DeviceHash == "" {
		respondWithError(w, http.StatusBadRequest, "deviceHash is required")
		return
	}

	device, err := h.authService.RegisterDevice(r.Context(), userID, sessionID, req.DeviceHash, req.FcmToken)
	if err != nil {
		if errors.Is(err, auth.ErrDeviceOwnedByOther) {
			respondWithError(w, http.StatusForbidden, "device registered to another user")
			return
		}
		log.Printf("Failed to register device for user %s: %v", userID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to register device")
		return
	}

	respondWithJSON(w, http.StatusCreated, registerDeviceResponse{
		ID:         device.ID.String(),
		DeviceHash: device.DeviceHash,
		IsActive:   device.IsActive,
	})
}

// HandleMe handles GET /auth/me (protected). Returns the authenticated user
// with a fresh balance, not the snapshot loaded by the middleware.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.authService.GetProfile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			respondWithError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		log.Printf("Failed to load profile for user %s: %v", userID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	respondWithJSON(w, http.StatusOK, toUserResponse(
		user.ID.String(), user.PhoneNumber, user.Credits, user.CreditMode, user.CashbackPoints))
}

// HandleStats handles GET /auth/stats (protected)
func (h *AuthHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	sessionID, ok2 := middleware.GetSessionID(r.Context())
	if !ok || !ok2 {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	stats, err := h.aggregator.Stats(r.Context(), userID, sessionID)
	if err != nil {
		log.Printf("Failed to aggregate stats for user %s: %v", userID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	respondWithJSON(w, http.StatusOK, stats)
}

// cashbackEntryResponse is one entry in the cashback history listing
type cashbackEntryResponse struct {
	Tid       string    `json:"tid"`
	Amount    int       `json:"amount"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

// HandleCashbackHistory handles GET /auth/cashback (protected)
func (h *AuthHandler) HandleCashbackHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	entries, err := h.aggregator.History(r.Context(), userID)
	if err != nil {
		log.Printf("Failed to load cashback history for user %s: %v", userID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to load cashback history")
		return
	}

	out := make([]cashbackEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, cashbackEntryResponse{
			Tid:       e.TransactionID.String(),
			Amount:    e.Amount,
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt,
		})
	}

	respondWithJSON(w, http.StatusOK, out)
}

// HandleSignOut handles POST /auth/signOut (protected)
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.GetSessionID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.authService.SignOut(r.Context(), sessionID); err != nil {
		log.Printf("Failed to sign out session %s: %v", sessionID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to sign out")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "signed out"})
}

// HandleSignOutAll handles POST /auth/signOutAll (protected)
func (h *AuthHandler) HandleSignOutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.authService.SignOutAll(r.Context(), userID); err != nil {
		log.Printf("Failed to sign out all sessions for user %s: %v", userID, err)
		respondWithError(w, http.StatusInternalServerError, "failed to sign out")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "signed out everywhere"})
}

func toUserResponse(id, phone string, credits int, mode string, cashback int) userResponse {
	return userResponse{
		ID:             id,
		PhoneNumber:    phone,
		Credits:        credits,
		CreditMode:     mode,
		CashbackPoints: cashback,
	}
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{"error": message})
}

// respondWithJSON writes a JSON response with the given status code
func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// logMaskedPhone logs a message with masked phone number
func logMaskedPhone(phone, message string, err error) {
	log.Printf("Phone %s: %s: %v", maskPhone(phone), message, err)
}

// maskPhone masks a phone number for logging (e.g., +4********89)
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}

	prefix := phone[:2]
	suffix := phone[len(phone)-2:]
	return prefix + strings.Repeat("*", len(phone)-4) + suffix
}
