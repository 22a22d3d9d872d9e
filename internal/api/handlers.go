/**
 * @description
 * This file contains the HTTP handlers for the portal-service's API
 * endpoints. Handlers parse incoming requests, call the appropriate methods
 * on the application service, and write the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sfdconnect/portal-service/internal/app"
	"github.com/sfdconnect/portal-service/internal/domain"
	"github.com/sfdconnect/portal-service/internal/store"
	"github.com/sfdconnect/portal-service/pkg/sfdclient"
)

// PortalHandlers holds the application service that handlers will use.
type PortalHandlers struct {
	service *app.Service
}

// NewPortalHandlers creates a new instance of PortalHandlers.
func NewPortalHandlers(service *app.Service) *PortalHandlers {
	return &PortalHandlers{service: service}
}

type submitTransactionRequest struct {
	AccountID uuid.UUID `json:"account_id"`
	Amount    int64     `json:"amount"`
	Kind      string    `json:"kind,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	SessionID uuid.UUID `json:"session_id,omitempty"`
	Sequence  int       `json:"sequence,omitempty"`
	Direction string    `json:"direction,omitempty"`
}

// authorizeAccount rejects account-scoped requests against accounts the
// caller does not hold. Writes the error response itself; callers bail out on
// false.
func (h *PortalHandlers) authorizeAccount(w http.ResponseWriter, r *http.Request, endpoint string, accountID uuid.UUID) bool {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return false
	}
	if err := h.service.AuthorizeAccountAccess(r.Context(), accountID, userID, GetRole(r.Context())); err != nil {
		h.respondServiceError(w, endpoint, err)
		return false
	}
	return true
}

// ListAccountsHandler returns the authenticated user's accounts with their
// pending amounts.
func (h *PortalHandlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	views, err := h.service.AccountsFor(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_accounts user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to list accounts")
		return
	}
	h.writeJSON(w, http.StatusOK, views)
}

// ListEntriesHandler returns an account's ledger entries, paged.
func (h *PortalHandlers) ListEntriesHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	if !h.authorizeAccount(w, r, "list_entries", accountID) {
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	entries, err := h.service.EntriesFor(r.Context(), accountID, limit, offset)
	if err != nil {
		h.respondServiceError(w, "list_entries", err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// ReconcileHandler runs an on-demand reconciliation for one account.
func (h *PortalHandlers) ReconcileHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	if !h.authorizeAccount(w, r, "reconcile", accountID) {
		return
	}

	result, err := h.service.Reconcile(r.Context(), accountID)
	if err != nil {
		h.respondServiceError(w, "reconcile", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// DirectSubmitHandler submits a direct channel transaction.
func (h *PortalHandlers) DirectSubmitHandler(w http.ResponseWriter, r *http.Request) {
	var req submitTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !h.authorizeAccount(w, r, "direct_submit", req.AccountID) {
		return
	}

	result, err := h.service.DirectChannel().Submit(r.Context(), req.AccountID, req.Amount, app.SubmissionMetadata{Kind: req.Kind})
	h.respondSubmission(w, "direct_submit", result, err)
}

// MomoSubmitHandler runs phase 1 of a mobile money transaction.
func (h *PortalHandlers) MomoSubmitHandler(w http.ResponseWriter, r *http.Request) {
	var req submitTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !h.authorizeAccount(w, r, "momo_submit", req.AccountID) {
		return
	}

	result, err := h.service.MobileMoneyChannel().Submit(r.Context(), req.AccountID, req.Amount, app.SubmissionMetadata{
		Kind:     req.Kind,
		Phone:    req.Phone,
		Provider: req.Provider,
	})
	h.respondSubmission(w, "momo_submit", result, err)
}

// MomoConfirmHandler runs phase 2 of a mobile money transaction.
func (h *PortalHandlers) MomoConfirmHandler(w http.ResponseWriter, r *http.Request) {
	token, err := uuid.Parse(chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid confirmation token")
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.MobileMoneyChannel().Confirm(r.Context(), token, req.Code)
	h.respondSubmission(w, "momo_confirm", result, err)
}

// QRScanHandler resolves a scanned cashier token to its session.
func (h *PortalHandlers) QRScanHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.QRCashierChannel().Scan(r.Context(), userID, req.Token)
	if err != nil {
		h.respondServiceError(w, "qr_scan", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// QRSubmitHandler posts one operator-directed movement against a cashier session.
func (h *PortalHandlers) QRSubmitHandler(w http.ResponseWriter, r *http.Request) {
	var req submitTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !h.authorizeAccount(w, r, "qr_submit", req.AccountID) {
		return
	}

	result, err := h.service.QRCashierChannel().Submit(r.Context(), req.AccountID, req.Amount, app.SubmissionMetadata{
		SessionID: req.SessionID,
		Sequence:  req.Sequence,
		Direction: req.Direction,
	})
	h.respondSubmission(w, "qr_submit", result, err)
}

// CreateAdhesionHandler files a membership request for the authenticated user.
func (h *PortalHandlers) CreateAdhesionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var payload domain.CreateAdhesionRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req, err := h.service.SubmitAdhesionRequest(r.Context(), userID, payload)
	if err != nil {
		h.respondServiceError(w, "create_adhesion", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, req)
}

// ListAdhesionsHandler lists adhesion requests for staff review.
func (h *PortalHandlers) ListAdhesionsHandler(w http.ResponseWriter, r *http.Request) {
	if GetRole(r.Context()) != app.RoleStaff {
		h.writeError(w, http.StatusForbidden, "Staff role required")
		return
	}

	institutionID, err := uuid.Parse(r.URL.Query().Get("institution_id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid institution id")
		return
	}

	status := r.URL.Query().Get("status")
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	requests, err := h.service.ListAdhesionRequests(r.Context(), institutionID, status, limit, offset)
	if err != nil {
		h.respondServiceError(w, "list_adhesions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, requests)
}

// ApproveAdhesionHandler approves a pending request and provisions the member.
func (h *PortalHandlers) ApproveAdhesionHandler(w http.ResponseWriter, r *http.Request) {
	staffID, requestID, payload, ok := h.decodeDecision(w, r)
	if !ok {
		return
	}

	result, err := h.service.ApproveAdhesionRequest(r.Context(), requestID, staffID, payload.Notes)
	if err != nil {
		h.respondServiceError(w, "approve_adhesion", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// RejectAdhesionHandler rejects a pending request.
func (h *PortalHandlers) RejectAdhesionHandler(w http.ResponseWriter, r *http.Request) {
	staffID, requestID, payload, ok := h.decodeDecision(w, r)
	if !ok {
		return
	}

	if err := h.service.RejectAdhesionRequest(r.Context(), requestID, staffID, payload.Notes); err != nil {
		h.respondServiceError(w, "reject_adhesion", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": domain.AdhesionStatusRejected})
}

func (h *PortalHandlers) decodeDecision(w http.ResponseWriter, r *http.Request) (staffID, requestID uuid.UUID, payload domain.DecideAdhesionRequestPayload, ok bool) {
	staffID, found := GetUserID(r.Context())
	if !found {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	if GetRole(r.Context()) != app.RoleStaff {
		h.writeError(w, http.StatusForbidden, "Staff role required")
		return
	}
	requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request id")
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	ok = true
	return
}

// SetAccountVerificationHandler flips an account's verified flag. Staff only.
func (h *PortalHandlers) SetAccountVerificationHandler(w http.ResponseWriter, r *http.Request) {
	if GetRole(r.Context()) != app.RoleStaff {
		h.writeError(w, http.StatusForbidden, "Staff role required")
		return
	}
	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	var req struct {
		Verified bool `json:"verified"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.SetAccountVerification(r.Context(), accountID, req.Verified); err != nil {
		h.respondServiceError(w, "set_account_verification", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"verified": req.Verified})
}

// DeactivateAccountHandler marks an account inactive. Staff only.
func (h *PortalHandlers) DeactivateAccountHandler(w http.ResponseWriter, r *http.Request) {
	if GetRole(r.Context()) != app.RoleStaff {
		h.writeError(w, http.StatusForbidden, "Staff role required")
		return
	}
	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	if err := h.service.DeactivateAccount(r.Context(), accountID); err != nil {
		h.respondServiceError(w, "deactivate_account", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"active": false})
}

// InitiateSwitchHandler starts switching the user's active institution.
func (h *PortalHandlers) InitiateSwitchHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var req struct {
		InstitutionID uuid.UUID `json:"institution_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	status, err := h.service.InitiateSwitch(r.Context(), userID, GetRole(r.Context()), req.InstitutionID)
	if err != nil {
		h.respondServiceError(w, "initiate_switch", err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// CompleteSwitchHandler finishes a switch awaiting a verification code.
func (h *PortalHandlers) CompleteSwitchHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	status, err := h.service.CompleteSwitch(r.Context(), userID, req.Code)
	if err != nil {
		h.respondServiceError(w, "complete_switch", err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// CancelSwitchHandler discards an in-flight switch.
func (h *PortalHandlers) CancelSwitchHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	h.service.CancelSwitch(userID)
	h.writeJSON(w, http.StatusOK, map[string]string{"state": app.SwitchStateIdle})
}

// SwitchStateHandler reports the user's current switch slot.
func (h *PortalHandlers) SwitchStateHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}
	h.writeJSON(w, http.StatusOK, h.service.SwitchState(userID))
}

// ActiveInstitutionHandler resolves the user's active institution.
func (h *PortalHandlers) ActiveInstitutionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	id, err := h.service.ActiveInstitution(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, "active_institution", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]uuid.UUID{"institution_id": id})
}

// TriggerSyncHandler runs a manual synchronization pass for the user.
func (h *PortalHandlers) TriggerSyncHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	report, err := h.service.RunSync(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, "trigger_sync", err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// respondSubmission writes a channel submission outcome. Rejected submissions
// come back with both a result and a validation error; the result carries the
// reason, so it wins.
func (h *PortalHandlers) respondSubmission(w http.ResponseWriter, endpoint string, result *app.SubmissionResult, err error) {
	if result != nil {
		status := http.StatusOK
		if result.Status == app.SubmissionRejected {
			status = http.StatusUnprocessableEntity
		}
		h.writeJSON(w, status, result)
		return
	}
	h.respondServiceError(w, endpoint, err)
}

// respondServiceError maps service errors to HTTP statuses.
func (h *PortalHandlers) respondServiceError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidOrExpiredToken):
		h.writeError(w, http.StatusGone, "Token is invalid or expired")
	case errors.Is(err, app.ErrConfirmationTimeout):
		h.writeError(w, http.StatusGone, "Confirmation window elapsed; the operation was marked failed")
	case errors.Is(err, app.ErrScanRateLimited):
		h.writeError(w, http.StatusTooManyRequests, "Too many scan attempts; retry later")
	case errors.Is(err, app.ErrSwitchInProgress):
		h.writeError(w, http.StatusConflict, "A switch is already in flight")
	case errors.Is(err, app.ErrSyncInProgress):
		h.writeError(w, http.StatusConflict, "A synchronization run is already in progress")
	case errors.Is(err, app.ErrAlreadyDecided):
		h.writeError(w, http.StatusConflict, "Request already decided")
	case errors.Is(err, app.ErrNotApproved):
		h.writeError(w, http.StatusConflict, "Request is not approved")
	case errors.Is(err, app.ErrNotAuthorized):
		h.writeError(w, http.StatusForbidden, "Not authorized")
	case errors.Is(err, store.ErrDuplicateConflict):
		log.Printf("level=error component=api endpoint=%s msg=\"duplicate conflict surfaced\" err=%v", endpoint, err)
		h.writeError(w, http.StatusConflict, "Ledger reference conflict; manual reconciliation required")
	case errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrClientNotFound),
		errors.Is(err, store.ErrInstitutionNotFound),
		errors.Is(err, store.ErrAdhesionRequestNotFound),
		errors.Is(err, store.ErrAssociationNotFound),
		errors.Is(err, store.ErrIntentNotFound),
		errors.Is(err, store.ErrEntryNotFound):
		h.writeError(w, http.StatusNotFound, "Resource not found")
	case errors.Is(err, sfdclient.ErrRemoteUnavailable):
		h.writeError(w, http.StatusBadGateway, "Institution service unavailable; try again later")
	default:
		log.Printf("level=error component=api endpoint=%s err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

// writeJSON is a helper for writing JSON responses.
func (h *PortalHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PortalHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
