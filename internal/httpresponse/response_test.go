package httpresponse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	errs "clash_tracker/internal/errors"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errs.Validation("bad tag"), http.StatusBadRequest},
		{&errs.APIError{Kind: errs.ErrAuthentication}, http.StatusUnauthorized},
		{fmt.Errorf("wrapped: %w", errs.ErrSessionExpired), http.StatusUnauthorized},
		{errs.ErrNotAuthenticated, http.StatusUnauthorized},
		{errs.ErrBusy, http.StatusConflict},
		{&errs.APIError{Kind: errs.ErrUpstreamProvider}, http.StatusBadGateway},
		{&errs.APIError{Kind: errs.ErrNetwork}, http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.err); got != tt.want {
			t.Errorf("StatusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, zap.NewNop().Sugar(), "Sync", &errs.APIError{
		Kind:    errs.ErrUpstreamProvider,
		Message: "API Key Invalid or IP blocked by Clash Royale",
	})

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("want 502, got %d", rec.Code)
	}
	var resp Response[ErrorResponse]
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != http.StatusBadGateway || resp.Body.ErrorDescription != "API Key Invalid or IP blocked by Clash Royale" {
		t.Fatalf("unexpected envelope %+v", resp)
	}
}
