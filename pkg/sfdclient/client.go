/**
 * @description
 * This package provides a client for the hosted function endpoints the portal
 * core treats as collaborators: initiating and confirming mobile money
 * operations, validating cashier QR tokens and posting cashier transactions,
 * posting direct transactions, processing loan repayments, and pulling the
 * authoritative per-institution balance during synchronization.
 *
 * @notes
 * - Transient failures (network errors, 5xx) are retried a small bounded
 *   number of times with backoff before surfacing ErrRemoteUnavailable.
 *   4xx responses are never retried; they come back as *APIError.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package sfdclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrRemoteUnavailable is returned once the bounded retry budget for a
// transient failure is exhausted.
var ErrRemoteUnavailable = errors.New("remote endpoint unavailable")

const (
	maxAttempts    = 3
	initialBackoff = 200 * time.Millisecond
)

// Client is a client for the hosted SFD function endpoints.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new SFD functions client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents a non-retryable error response from the functions layer.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sfd functions error: %s - %s (http %d)", e.Code, e.Detail, e.StatusCode)
}

// MomoInitiationRequest is the payload for initiating a mobile money operation.
type MomoInitiationRequest struct {
	Token    string `json:"token"`
	Phone    string `json:"phone"`
	Provider string `json:"provider"`
	Amount   int64  `json:"amount"`
	Kind     string `json:"kind"`
}

// MomoInitiationResponse acknowledges a mobile money initiation.
type MomoInitiationResponse struct {
	InitiationID string `json:"initiation_id"`
	Status       string `json:"status"`
}

// MomoConfirmRequest is the payload for confirming a mobile money operation
// with the code the provider sent to the client's phone.
type MomoConfirmRequest struct {
	Token string `json:"token"`
	Code  string `json:"code"`
}

// MomoConfirmResponse carries the provider transaction id on acceptance.
type MomoConfirmResponse struct {
	ProviderTxnID string `json:"provider_txn_id"`
	Status        string `json:"status"`
}

// CashierTokenResponse describes the cashier session a QR token decodes to.
type CashierTokenResponse struct {
	SessionID    uuid.UUID `json:"session_id"`
	Open         bool      `json:"open"`
	NextSequence int       `json:"next_sequence"`
}

// CashierTransactionRequest posts one operator-directed movement against an
// open cashier session.
type CashierTransactionRequest struct {
	SessionID uuid.UUID `json:"session_id"`
	Sequence  int       `json:"sequence"`
	Amount    int64     `json:"amount"`
	Direction string    `json:"direction"` // 'deposit' | 'withdrawal'
}

// TransactionResponse is the common acknowledgement for posted movements.
type TransactionResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// DirectTransactionRequest posts a synchronous direct-channel movement.
type DirectTransactionRequest struct {
	AccountID uuid.UUID `json:"account_id"`
	Amount    int64     `json:"amount"`
	Kind      string    `json:"kind"`
}

// SwitchVerificationRequest asks the institution side whether switching the
// active institution for this user needs a verification code or staff
// approval.
type SwitchVerificationRequest struct {
	UserID        uuid.UUID `json:"user_id"`
	InstitutionID uuid.UUID `json:"institution_id"`
}

// SwitchVerificationResponse describes what the switch requires.
type SwitchVerificationResponse struct {
	VerificationID       string `json:"verification_id,omitempty"`
	RequiresVerification bool   `json:"requires_verification"`
	RequiresApproval     bool   `json:"requires_approval"`
}

// InstitutionBalanceResponse carries the authoritative balance an institution
// reports for one account during synchronization.
type InstitutionBalanceResponse struct {
	AccountID uuid.UUID `json:"account_id"`
	Balance   int64     `json:"balance"`
	AsOf      time.Time `json:"as_of"`
}

// InitiateMobileMoney starts phase 1 of a mobile money operation.
func (c *Client) InitiateMobileMoney(ctx context.Context, req MomoInitiationRequest) (*MomoInitiationResponse, error) {
	var resp MomoInitiationResponse
	if err := c.post(ctx, "/v1/momo/initiate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConfirmMobileMoney completes phase 2 with the provider confirmation code.
func (c *Client) ConfirmMobileMoney(ctx context.Context, req MomoConfirmRequest) (*MomoConfirmResponse, error) {
	var resp MomoConfirmResponse
	if err := c.post(ctx, "/v1/momo/confirm", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ValidateCashierToken resolves a scanned QR token to its cashier session.
func (c *Client) ValidateCashierToken(ctx context.Context, token string) (*CashierTokenResponse, error) {
	var resp CashierTokenResponse
	if err := c.post(ctx, "/v1/cashier/validate", map[string]string{"token": token}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PostCashierTransaction posts one movement against an open cashier session.
func (c *Client) PostCashierTransaction(ctx context.Context, req CashierTransactionRequest) (*TransactionResponse, error) {
	var resp TransactionResponse
	if err := c.post(ctx, "/v1/cashier/transactions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PostDirectTransaction posts a synchronous direct-channel movement.
func (c *Client) PostDirectTransaction(ctx context.Context, req DirectTransactionRequest) (*TransactionResponse, error) {
	var resp TransactionResponse
	if err := c.post(ctx, "/v1/transactions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProcessLoanRepayment posts a loan repayment through the dedicated endpoint.
func (c *Client) ProcessLoanRepayment(ctx context.Context, req DirectTransactionRequest) (*TransactionResponse, error) {
	var resp TransactionResponse
	if err := c.post(ctx, "/v1/loans/repayments", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestSwitchVerification starts the remote verification check for an
// active-institution switch.
func (c *Client) RequestSwitchVerification(ctx context.Context, req SwitchVerificationRequest) (*SwitchVerificationResponse, error) {
	var resp SwitchVerificationResponse
	if err := c.post(ctx, "/v1/switch/verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConfirmSwitchVerification checks the code the user received for a pending
// switch verification.
func (c *Client) ConfirmSwitchVerification(ctx context.Context, verificationID, code string) error {
	body := map[string]string{"verification_id": verificationID, "code": code}
	return c.post(ctx, "/v1/switch/confirm", body, nil)
}

// FetchInstitutionBalance pulls the authoritative balance an institution
// reports for an account.
func (c *Client) FetchInstitutionBalance(ctx context.Context, institutionID, accountID uuid.UUID) (*InstitutionBalanceResponse, error) {
	var resp InstitutionBalanceResponse
	path := fmt.Sprintf("/v1/institutions/%s/accounts/%s/balance", institutionID, accountID)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do performs the request with bounded retries on transient failures.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
			log.Printf("level=warn component=sfdclient msg=\"request failed\" method=%s path=%s attempt=%d err=%v", method, path, attempt, err)
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil {
				return nil
			}
			return json.Unmarshal(respBody, out)
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: http %d", resp.StatusCode)
			log.Printf("level=warn component=sfdclient msg=\"server error\" method=%s path=%s attempt=%d status=%d", method, path, attempt, resp.StatusCode)
			continue
		default:
			apiErr := &APIError{StatusCode: resp.StatusCode}
			if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Code == "" {
				apiErr.Code = http.StatusText(resp.StatusCode)
				apiErr.Detail = string(respBody)
			}
			return apiErr
		}
	}

	return fmt.Errorf("%w: %v", ErrRemoteUnavailable, lastErr)
}
