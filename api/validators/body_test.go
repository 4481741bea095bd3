package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/bountyhub/escrow/pkg/errors"
)

type releaseBody struct {
	SolverPrincipalID string `json:"solverPrincipalId" validate:"required,uuid"`
	Amount            int64  `json:"amount" validate:"gt=0"`
}

func TestDecodeJSONBodyReportsFieldsByJSONName(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"solverPrincipalId":"nope","amount":0}`))
	var dest releaseBody
	err := DecodeJSONBody(req, &dest)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		t.Fatalf("unexpected details %#v", typed.Details())
	}
	if details["solverPrincipalId"] != "must be a valid uuid" {
		t.Fatalf("unexpected solver detail %q", details["solverPrincipalId"])
	}
	if details["amount"] != "must be greater than 0" {
		t.Fatalf("unexpected amount detail %q", details["amount"])
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":5,"tip":1}`))
	var dest releaseBody
	if err := DecodeJSONBody(req, &dest); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseQueryIntBounds(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500&page=x", nil)
	if v, err := ParseQueryInt(req, "missing", 7, 1, 10); err != nil || v != 7 {
		t.Fatalf("default: got %d, %v", v, err)
	}
	if _, err := ParseQueryInt(req, "limit", 20, 1, 100); err == nil {
		t.Fatalf("expected range error")
	}
	if _, err := ParseQueryInt(req, "page", 1, 1, 1000); err == nil {
		t.Fatalf("expected numeric error")
	}
}
