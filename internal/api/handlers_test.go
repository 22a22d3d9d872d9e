package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sfdconnect/portal-service/internal/app"
	"github.com/sfdconnect/portal-service/internal/domain"
	"github.com/sfdconnect/portal-service/internal/store"
)

// repoStub covers only the calls the entries endpoint makes.
type repoStub struct {
	store.Repository
	account *domain.Account
	client  *domain.Client
}

func (s *repoStub) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	if s.account != nil && s.account.ID == accountID {
		copy := *s.account
		return &copy, nil
	}
	return nil, store.ErrAccountNotFound
}

func (s *repoStub) FindClientByID(ctx context.Context, clientID uuid.UUID) (*domain.Client, error) {
	if s.client != nil && s.client.ID == clientID {
		copy := *s.client
		return &copy, nil
	}
	return nil, store.ErrClientNotFound
}

func (s *repoStub) FindLedgerEntriesByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, error) {
	return nil, nil
}

func entriesRequest(accountID, callerID uuid.UUID, role string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/accounts/"+accountID.String()+"/entries", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("accountID", accountID.String())
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = context.WithValue(ctx, userIDKey, callerID)
	ctx = context.WithValue(ctx, roleKey, role)
	return req.WithContext(ctx)
}

func TestListEntriesHandler_AccountOwnership(t *testing.T) {
	ownerID := uuid.New()
	clientID := uuid.New()
	account := &domain.Account{ID: uuid.New(), ClientID: clientID, Verified: true, Active: true}
	repo := &repoStub{
		account: account,
		client:  &domain.Client{ID: clientID, UserID: ownerID},
	}
	h := NewPortalHandlers(app.NewService(repo, nil, nil, 5*time.Minute))

	cases := []struct {
		name     string
		callerID uuid.UUID
		role     string
		want     int
	}{
		{"owner allowed", ownerID, "client", http.StatusOK},
		{"other user forbidden", uuid.New(), "client", http.StatusForbidden},
		{"staff allowed", uuid.New(), app.RoleStaff, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ListEntriesHandler(rec, entriesRequest(account.ID, tc.callerID, tc.role))
			if rec.Code != tc.want {
				t.Fatalf("expected status %d, got %d (%s)", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}
