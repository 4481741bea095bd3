package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/bountyhub/escrow/internal/billinggate"
	"github.com/bountyhub/escrow/internal/identity"
	"github.com/bountyhub/escrow/pkg/enums"
	pkgerrors "github.com/bountyhub/escrow/pkg/errors"
)

type stubGate struct {
	principal *identity.Principal
	err       error
	calls     int
}

func (s *stubGate) Identify(context.Context, *billinggate.Session) (*identity.Principal, error) {
	s.calls++
	return s.principal, s.err
}

func sessionRequest() *http.Request {
	orgID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payouts/balance", nil)
	return req.WithContext(WithSession(req.Context(), &billinggate.Session{UserID: uuid.New(), ActiveOrgID: &orgID}))
}

func TestBillingPrincipalAdmitsGatedPrincipal(t *testing.T) {
	want := identity.Principal{ID: uuid.New(), Type: enums.PrincipalOrganization, Email: "billing@example.com"}
	gate := &stubGate{principal: &want}

	var got identity.Principal
	handler := BillingPrincipal(gate, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, sessionRequest())

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got != want {
		t.Fatalf("expected principal %+v, got %+v", want, got)
	}
}

func TestBillingPrincipalRejectsGenerically(t *testing.T) {
	handler := BillingPrincipal(&stubGate{}, nil)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, sessionRequest())

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Details any    `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != string(pkgerrors.CodeForbidden) || body.Error.Details != nil {
		t.Fatalf("expected bare forbidden error, got %+v", body.Error)
	}
}

func TestBillingPrincipalRequiresSession(t *testing.T) {
	gate := &stubGate{}
	handler := BillingPrincipal(gate, nil)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if gate.calls != 0 {
		t.Fatalf("gate should not be consulted without a session")
	}
}

func TestBillingPrincipalSurfacesGateOutage(t *testing.T) {
	gate := &stubGate{err: pkgerrors.New(pkgerrors.CodeDependency, "billing identity unavailable")}
	handler := BillingPrincipal(gate, nil)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, sessionRequest())
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
