package httputil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleError(t *testing.T) {
	errMissing := errors.New("thing not found")
	errBusy := errors.New("thing busy")
	mappings := []ErrorMapping{
		{Error: errMissing, Status: http.StatusNotFound, Message: "not found"},
		{Error: errBusy, Status: http.StatusConflict},
	}

	tests := []struct {
		name string
		err  error
		code int
		body string
	}{
		{"mapped with message", fmt.Errorf("get: %w", errMissing), http.StatusNotFound, `"not found"`},
		{"mapped with error text", fmt.Errorf("lock: %w", errBusy), http.StatusConflict, `"lock: thing busy"`},
		{"unmapped", errors.New("boom"), http.StatusInternalServerError, `"internal error"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HandleError(context.Background(), rec, tt.err, mappings)
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestHandleError_CommonMappings(t *testing.T) {
	rec := httptest.NewRecorder()
	err := fmt.Errorf("query: %w", context.DeadlineExceeded)
	HandleError(context.Background(), rec, err, CommonMappings)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Contains(t, rec.Body.String(), "request timed out")
}
