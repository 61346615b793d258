package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleQuery struct {
	SourceType string `form:"source_type" validate:"required,source_type"`
	Apply      bool   `form:"apply"`
}

type sampleBody struct {
	Name  string   `json:"name" validate:"required,max=5,no_null_bytes"`
	Days  int      `json:"days" validate:"min=1,max=30"`
	Notes *string  `json:"notes" validate:"omitempty,no_null_bytes"`
	Tags  []string `json:"tags" validate:"max=2,dive,max=3"`
}

func TestValidateAndDecodeQueryParams(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/x?source_type=tour&apply=true", nil)

		var q sampleQuery
		require.NoError(t, ValidateAndDecodeQueryParams(r, &q))
		assert.Equal(t, "tour", q.SourceType)
		assert.True(t, q.Apply)
	})

	t.Run("unknown source type", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/x?source_type=emails", nil)

		var q sampleQuery
		err := ValidateAndDecodeQueryParams(r, &q)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "source_type must be one of")
	})

	t.Run("bad bool", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/x?source_type=tour&apply=maybe", nil)

		var q sampleQuery
		assert.Error(t, ValidateAndDecodeQueryParams(r, &q))
	})
}

func TestDecodeAndValidateJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "valid", body: `{"name":"abc","days":3,"tags":["a"]}`},
		{name: "missing name", body: `{"days":3}`, wantErr: "name is required"},
		{name: "days out of range", body: `{"name":"a","days":31}`, wantErr: "days must be at most 30"},
		{name: "null byte", body: `{"name":"a\u0000","days":1}`, wantErr: "name must not contain NULL bytes"},
		{name: "tag too long", body: `{"name":"a","days":1,"tags":["abcd"]}`, wantErr: "tags[0] must be at most 3"},
		{name: "unknown field", body: `{"name":"a","days":1,"extra":1}`, wantErr: "invalid request body"},
		{name: "trailing data", body: `{"name":"a","days":1} {}`, wantErr: "trailing data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(tt.body))

			var b sampleBody

			err := DecodeAndValidateJSON(r, &b)
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRespondValidationError(t *testing.T) {
	err := ValidateStruct(&sampleBody{Days: 0})
	require.Error(t, err)

	rec := httptest.NewRecorder()
	RespondValidationError(rec, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"location":"sampleBody.name"`)
	assert.Len(t, GetValidationErrorDetails(err), 2)
}
