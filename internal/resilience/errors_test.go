package resilience

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

func tokenError(status int, code string) error {
	return fmt.Errorf("oauth2: cannot fetch token: %w", &oauth2.RetrieveError{
		Response:  &http.Response{StatusCode: status},
		ErrorCode: code,
	})
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("column mapping is empty"), false},
		{"explicit", NewTransientError(errors.New("webhook 503"), 503), true},
		{"explicit wrapped", fmt.Errorf("send alert: %w", NewTransientError(errors.New("x"), 0)), true},
		{"sheets quota", &googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{"sheets backend", fmt.Errorf("values get: %w", &googleapi.Error{Code: http.StatusBadGateway}), true},
		{"sheets not implemented", &googleapi.Error{Code: http.StatusNotImplemented}, false},
		{"sheets missing range", &googleapi.Error{Code: http.StatusBadRequest, Message: "Unable to parse range"}, false},
		{"sheets forbidden", &googleapi.Error{Code: http.StatusForbidden}, false},
		{"token endpoint down", tokenError(http.StatusServiceUnavailable, ""), true},
		{"token revoked", tokenError(http.StatusBadRequest, "invalid_grant"), false},
		{"connection reset", fmt.Errorf("read tcp: %w", syscall.ECONNRESET), true},
		{"connection refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"dns timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"truncated export", fmt.Errorf("read export: %w", io.ErrUnexpectedEOF), true},
		{"no such host", &net.DNSError{Err: "no such host", IsNotFound: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	code, ok := HTTPStatus(fmt.Errorf("wrapped: %w", &googleapi.Error{Code: 404}))
	assert.True(t, ok)
	assert.Equal(t, 404, code)

	code, ok = HTTPStatus(tokenError(http.StatusUnauthorized, "invalid_client"))
	assert.True(t, ok)
	assert.Equal(t, 401, code)

	code, ok = HTTPStatus(NewTransientError(errors.New("x"), 502))
	assert.True(t, ok)
	assert.Equal(t, 502, code)

	_, ok = HTTPStatus(NewTransientError(errors.New("x"), 0))
	assert.False(t, ok)
	_, ok = HTTPStatus(&oauth2.RetrieveError{})
	assert.False(t, ok)
	_, ok = HTTPStatus(errors.New("plain"))
	assert.False(t, ok)
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 501} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("bad gateway")
	te := NewTransientError(inner, 502)

	assert.ErrorIs(t, te, inner)
	assert.Equal(t, "bad gateway", te.Error())
	assert.Equal(t, 502, te.StatusCode)
}
