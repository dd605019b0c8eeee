package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decodeTarget struct {
	Name  string `json:"name" validate:"required"`
	Limit int    `json:"daily_limit" validate:"omitempty,min=1"`
}

func TestDecodeJSON(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name   string
		body   string
		ok     bool
		status int
		field  string
	}{
		{name: "valid", body: `{"name":"q3","daily_limit":5}`, ok: true},
		{name: "malformed", body: `{"name":`, status: http.StatusBadRequest},
		{name: "missing required", body: `{"daily_limit":5}`, status: http.StatusBadRequest, field: "name"},
		{name: "rule uses json name", body: `{"name":"q3","daily_limit":-1}`, status: http.StatusBadRequest, field: "daily_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			var dst decodeTarget
			ok := DecodeJSON(rec, req, &dst, v)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, "q3", dst.Name)
				return
			}
			assert.Equal(t, tt.status, rec.Code)

			if tt.field != "" {
				var body struct {
					Error struct {
						Details []FieldError `json:"details"`
					} `json:"error"`
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				require.Len(t, body.Error.Details, 1)
				assert.Equal(t, tt.field, body.Error.Details[0].Field)
			}
		})
	}
}

func TestDecodeJSON_TooLarge(t *testing.T) {
	rec := httptest.NewRecorder()
	big := `{"name":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))

	var dst decodeTarget
	assert.False(t, DecodeJSON(rec, req, &dst, nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSuccessEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Success(rec, http.StatusCreated, map[string]string{"id": "j1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"id":"j1"}}`, rec.Body.String())
}

func TestErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusConflict, "campaign is running")
	assert.JSONEq(t, `{"error":{"message":"campaign is running"}}`, rec.Body.String())
}
