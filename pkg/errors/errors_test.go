package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", ErrInvalidInput, http.StatusBadRequest},
		{"wrapped invalid input", fmt.Errorf("normalizing: %w", ErrInvalidInput), http.StatusBadRequest},
		{"gram range", ErrInvalidGramRange, http.StatusBadRequest},
		{"empty query", ErrEmptyQuery, http.StatusBadRequest},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests},
		{"vocabulary", ErrVocabularyUnavailable, http.StatusServiceUnavailable},
		{"timeout", ErrTimeout, http.StatusServiceUnavailable},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
		{"app error", New(ErrInternal, http.StatusTeapot, "short and stout"), http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrInvalidInput, http.StatusBadRequest, "min_score %q", "abc")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, `invalid input: min_score "abc"`, err.Error())
}
