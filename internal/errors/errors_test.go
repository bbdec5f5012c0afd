package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/victornm/novatest/internal/errors"
)

func TestConvert(t *testing.T) {
	tests := map[string]struct {
		err        error
		wantCode   errors.Code
		wantHTTP   int
		wantRoute  string
		wantUnwrap error
	}{
		"plain error should become internal": {
			err:      stderrors.New("boom"),
			wantCode: errors.CodeInternal,
			wantHTTP: http.StatusInternalServerError,
		},
		"wrapped login required should keep redirect": {
			err:       fmt.Errorf("start test: %w", errors.LoginRequired()),
			wantCode:  errors.CodeUnauthenticated,
			wantHTTP:  http.StatusUnauthorized,
			wantRoute: errors.RouteAuth,
		},
		"insufficient tokens should map to precondition failed": {
			err:      errors.InsufficientTokens(10, 300),
			wantCode: errors.CodeFailedPrecondition,
			wantHTTP: http.StatusPreconditionFailed,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			e := errors.Convert(tt.err)
			assert.Equal(t, tt.wantCode, e.Code)
			assert.Equal(t, tt.wantHTTP, e.HTTPStatusCode())
			assert.Equal(t, tt.wantRoute, e.Redirect)
			assert.True(t, errors.HasCode(tt.err, tt.wantCode) || tt.wantCode == errors.CodeInternal)
		})
	}
}

func TestError_GRPCStatus(t *testing.T) {
	cause := stderrors.New("redis down")
	err := errors.New(errors.CodeUnavailable, errors.WithMessagef("analysis failed"), errors.WithCause(cause))

	s, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Unavailable, s.Code())
	assert.Equal(t, "analysis failed", s.Message())
	assert.ErrorIs(t, err, cause)
}
