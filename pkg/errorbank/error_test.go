package errorbank

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestFromKeepsAppErrorThroughWrapping(t *testing.T) {
	base := BusinessRule("no order details written", WithOrder("SO-1"))
	wrapped := fmt.Errorf("sync: %w", base)

	appErr := From(wrapped)
	require.Same(t, base, appErr)
	require.Equal(t, KindBusinessRule, KindOf(wrapped))
	require.Equal(t, "SO-1", appErr.Details()["order_no"])
}

func TestFromWrapsUnknownErrors(t *testing.T) {
	cause := errors.New("boom")
	appErr := From(cause)

	require.Equal(t, KindInternal, appErr.Kind())
	require.ErrorIs(t, appErr, cause)
	require.Nil(t, From(nil))
	require.Equal(t, Kind(""), KindOf(nil))
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err    *AppError
		status int
		code   codes.Code
		retry  bool
	}{
		{InvalidInput("x"), http.StatusBadRequest, codes.InvalidArgument, false},
		{NotFound("x"), http.StatusNotFound, codes.NotFound, false},
		{BusinessRule("x"), http.StatusUnprocessableEntity, codes.FailedPrecondition, false},
		{WriteFailure("x"), http.StatusInternalServerError, codes.Internal, true},
		{Conflict("x"), http.StatusConflict, codes.Aborted, true},
		{Unavailable("x"), http.StatusServiceUnavailable, codes.Unavailable, true},
	}
	for _, tc := range cases {
		t.Run(string(tc.err.Kind()), func(t *testing.T) {
			require.Equal(t, tc.status, tc.err.StatusCode())
			require.Equal(t, tc.code, tc.err.GRPCCode())
			require.Equal(t, tc.retry, tc.err.Retryable())
		})
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := WriteFailure("insert order header", WithCause(errors.New("duplicate key")))
	require.Equal(t, "insert order header: duplicate key", err.Error())
}
