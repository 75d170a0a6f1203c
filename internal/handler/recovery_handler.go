package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"recovery-service/internal/service"
	"recovery-service/internal/util"
)

// externalIDHeader carries the caller's messaging-platform identity. The
// flood and rate gates key on it.
const externalIDHeader = "X-External-ID"

// adminIDHeader carries the administrative identity on privileged routes.
const adminIDHeader = "X-Admin-ID"

// RecoveryHandler exposes the three-step recovery flow plus the
// administrative surface.
type RecoveryHandler struct {
	recovery *service.RecoveryService
	admin    *service.AdminService
	flood    *service.FloodController
	limiter  *service.RateLimiter
	logger   *zap.Logger
}

func NewRecoveryHandler(
	recovery *service.RecoveryService,
	admin *service.AdminService,
	flood *service.FloodController,
	limiter *service.RateLimiter,
	logger *zap.Logger,
) *RecoveryHandler {
	return &RecoveryHandler{
		recovery: recovery,
		admin:    admin,
		flood:    flood,
		limiter:  limiter,
		logger:   logger,
	}
}

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(code string) Response {
	return Response{
		Success: false,
		Error:   code,
	}
}

// RegisterRoutes registers the recovery and admin routes.
func (h *RecoveryHandler) RegisterRoutes(router chi.Router) {
	router.Route("/recovery", func(r chi.Router) {
		r.Use(h.identityGates)
		r.Post("/request-code", h.RequestCode)
		r.Post("/verify-code", h.VerifyCode)
		r.Post("/verify-pin", h.VerifyPin)
	})

	router.Route("/admin", func(r chi.Router) {
		// Auth for these routes terminates at the gateway; the admin
		// identity arrives as a trusted header
		r.Post("/tokens", h.IssueToken)
		r.Post("/accounts", h.RegisterAccount)
	})
}

// identityGates runs the flood and rate checks for the caller identity
// before any recovery handler.
func (h *RecoveryHandler) identityGates(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		externalID, err := strconv.ParseInt(r.Header.Get(externalIDHeader), 10, 64)
		if err != nil || externalID <= 0 {
			h.respond(w, http.StatusBadRequest, errorResponse("identity_required"))
			return
		}

		decision := h.flood.Check(r.Context(), externalID)
		if !decision.Allowed {
			resp := errorResponse("flood_blocked")
			if decision.SendBlockNotice {
				resp.Message = "temporarily blocked, contact the operator"
			}
			h.respond(w, http.StatusTooManyRequests, resp)
			return
		}

		if !h.limiter.Allow(externalID, true) {
			h.respond(w, http.StatusTooManyRequests, errorResponse("rate_limited"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

type recoveryRequest struct {
	Token string `json:"token"`
	Phone string `json:"phone"`
	Code  string `json:"code,omitempty"`
	Pin   string `json:"pin,omitempty"`
}

func (h *RecoveryHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req recoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse("invalid_request"))
		return
	}

	if err := h.recovery.RequestCode(r.Context(), req.Token, req.Phone); err != nil {
		h.respondFlowError(w, err)
		return
	}

	h.respond(w, http.StatusOK, successResponse(nil, service.NeutralCodeReply))
}

func (h *RecoveryHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req recoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse("invalid_request"))
		return
	}

	if err := h.recovery.VerifyCode(r.Context(), req.Token, req.Phone, req.Code); err != nil {
		h.respondFlowError(w, err)
		return
	}

	h.respond(w, http.StatusOK, successResponse(nil, "code accepted"))
}

func (h *RecoveryHandler) VerifyPin(w http.ResponseWriter, r *http.Request) {
	var req recoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse("invalid_request"))
		return
	}

	if err := h.recovery.VerifyPinAndRecover(r.Context(), req.Token, req.Phone, req.Pin); err != nil {
		h.respondFlowError(w, err)
		return
	}

	h.respond(w, http.StatusOK, successResponse(nil, "recovery complete"))
}

type issueTokenRequest struct {
	TargetID int64 `json:"target_id"`
}

func (h *RecoveryHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	issuerID, err := strconv.ParseInt(r.Header.Get(adminIDHeader), 10, 64)
	if err != nil || issuerID <= 0 {
		h.respond(w, http.StatusUnauthorized, errorResponse("admin_identity_required"))
		return
	}

	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse("invalid_request"))
		return
	}

	raw, err := h.admin.IssueToken(r.Context(), req.TargetID, issuerID)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			h.respond(w, http.StatusBadRequest, errorResponse("invalid_request"))
			return
		}
		h.respondInternal(w, err)
		return
	}

	// The raw token appears in this response and nowhere else
	h.respond(w, http.StatusCreated, successResponse(map[string]string{"token": raw}, "token issued"))
}

type registerAccountRequest struct {
	Phone      string `json:"phone"`
	Pin        string `json:"pin"`
	ExternalID int64  `json:"external_id"`
}

func (h *RecoveryHandler) RegisterAccount(w http.ResponseWriter, r *http.Request) {
	adminID, err := strconv.ParseInt(r.Header.Get(adminIDHeader), 10, 64)
	if err != nil || adminID <= 0 {
		h.respond(w, http.StatusUnauthorized, errorResponse("admin_identity_required"))
		return
	}

	var req registerAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse("invalid_request"))
		return
	}

	account, err := h.admin.RegisterAccount(r.Context(), req.Phone, req.Pin, req.ExternalID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			h.respond(w, http.StatusBadRequest, errorResponse("invalid_request"))
		case errors.Is(err, service.ErrAccountExists):
			h.respond(w, http.StatusConflict, errorResponse("account_exists"))
		default:
			h.respondInternal(w, err)
		}
		return
	}

	h.respond(w, http.StatusCreated, successResponse(map[string]string{
		"account_id": account.AccountID,
	}, "account registered"))
}

// respondFlowError maps orchestrator outcomes onto the wire. The fused
// codes stay fused; no extra detail is added here.
func (h *RecoveryHandler) respondFlowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrTokenInvalid):
		h.respond(w, http.StatusForbidden, errorResponse(err.Error()))
	case errors.Is(err, service.ErrRecoveryLocked),
		errors.Is(err, service.ErrAttemptsExceeded):
		h.respond(w, http.StatusLocked, errorResponse(err.Error()))
	case errors.Is(err, service.ErrSendLimit):
		h.respond(w, http.StatusTooManyRequests, errorResponse(err.Error()))
	case errors.Is(err, service.ErrWrongCode),
		errors.Is(err, service.ErrWrongPin),
		errors.Is(err, service.ErrPhoneNotFound):
		h.respond(w, http.StatusBadRequest, errorResponse(err.Error()))
	default:
		h.respondInternal(w, err)
	}
}

func (h *RecoveryHandler) respondInternal(w http.ResponseWriter, err error) {
	util.Error("Request failed", zap.Error(err))
	h.respond(w, http.StatusInternalServerError, errorResponse("internal_error"))
}

func (h *RecoveryHandler) respond(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		util.Error("Failed to encode response", zap.Error(err))
	}
}
