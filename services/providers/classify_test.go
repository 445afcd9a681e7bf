package providers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyTransportError(t *testing.T) {
	const endpoint = "http://upstream:3030"

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{
			name: "dial timeout is a connect timeout",
			err: &url.Error{Op: "Post", URL: endpoint, Err: &net.OpError{
				Op: "dial", Net: "tcp", Err: timeoutError{},
			}},
			want: ErrorKindConnectTimeout,
		},
		{
			name: "TLS handshake timeout is a connect timeout",
			err:  &url.Error{Op: "Post", URL: endpoint, Err: errTLSHandshakeTimeout{}},
			want: ErrorKindConnectTimeout,
		},
		{
			name: "timeout after connect is a read timeout",
			err: &url.Error{Op: "Post", URL: endpoint, Err: &net.OpError{
				Op: "read", Net: "tcp", Err: timeoutError{},
			}},
			want: ErrorKindReadTimeout,
		},
		{
			name: "context deadline is a read timeout",
			err:  &url.Error{Op: "Post", URL: endpoint, Err: context.DeadlineExceeded},
			want: ErrorKindReadTimeout,
		},
		{
			name: "connection refused is unreachable",
			err: &url.Error{Op: "Post", URL: endpoint, Err: &net.OpError{
				Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED),
			}},
			want: ErrorKindUnreachable,
		},
		{
			name: "dns failure is unreachable",
			err: &url.Error{Op: "Post", URL: endpoint, Err: &net.OpError{
				Op: "dial", Net: "tcp", Err: &net.DNSError{Err: "no such host", Name: "upstream"},
			}},
			want: ErrorKindUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := ClassifyTransportError(tt.err, endpoint)
			require.NotNil(t, f)
			assert.Equal(t, tt.want, f.Kind)
			assert.Contains(t, f.Detail, endpoint)
			assert.ErrorIs(t, f, tt.err)
		})
	}

	assert.Nil(t, ClassifyTransportError(nil, endpoint))
}

type errTLSHandshakeTimeout struct{}

func (errTLSHandshakeTimeout) Error() string   { return "net/http: TLS handshake timeout" }
func (errTLSHandshakeTimeout) Timeout() bool   { return true }
func (errTLSHandshakeTimeout) Temporary() bool { return true }

func TestClassifyTransportError_RefusedAgainstClosedServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	client := NewHTTPClient(StrategyConfig{ConnectTimeout: time.Second, ReadTimeout: time.Second})
	_, err := client.Get(addr)
	require.Error(t, err)

	f := ClassifyTransportError(err, addr)
	assert.Equal(t, ErrorKindUnreachable, f.Kind)
}

func TestClassifyTransportError_ReadTimeoutAgainstSlowServer(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := NewHTTPClient(StrategyConfig{ConnectTimeout: time.Second, ReadTimeout: 50 * time.Millisecond})
	_, err := client.Get(srv.URL)
	require.Error(t, err)

	f := ClassifyTransportError(err, srv.URL)
	assert.Equal(t, ErrorKindReadTimeout, f.Kind)
}

func TestNewHTTPClient(t *testing.T) {
	client := NewHTTPClient(StrategyConfig{ConnectTimeout: 2 * time.Second, ReadTimeout: 5 * time.Second})

	assert.Equal(t, 7*time.Second, client.Timeout)
	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, transport.ResponseHeaderTimeout)
	assert.Equal(t, 2*time.Second, transport.TLSHandshakeTimeout)
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantNil    bool
		wantKind   ErrorKind
		wantDetail string
	}{
		{name: "200 ok", status: 200, wantNil: true},
		{name: "204 ok", status: 204, wantNil: true},
		{name: "401", status: 401, body: `{"error":"expired"}`, wantKind: ErrorKindInvalidCredential},
		{name: "403", status: 403, wantKind: ErrorKindForbidden},
		{name: "500 with message", status: 500, body: `{"message":"model overloaded"}`, wantKind: ErrorKindUpstreamError, wantDetail: "HTTP error: 500 - model overloaded"},
		{name: "502 without body", status: 502, wantKind: ErrorKindUpstreamError, wantDetail: "HTTP error: 502"},
		{name: "404", status: 404, body: "not found", wantKind: ErrorKindUpstreamError, wantDetail: "HTTP error: 404 - not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := ClassifyStatus(tt.status, []byte(tt.body))
			if tt.wantNil {
				assert.Nil(t, f)
				return
			}
			require.NotNil(t, f)
			assert.Equal(t, tt.wantKind, f.Kind)
			assert.Equal(t, tt.status, f.StatusCode)
			if tt.wantDetail != "" {
				assert.Equal(t, tt.wantDetail, f.Detail)
			}
		})
	}
}

func TestClassifyStatus_401MapsToAuthFailure(t *testing.T) {
	f := ClassifyStatus(http.StatusUnauthorized, nil)

	err := f.DomainError()
	assert.Equal(t, "upstream_auth_failure", string(err.Type))
}

func TestExtractErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "empty", body: "", want: ""},
		{name: "error string", body: `{"error":"bad prompt"}`, want: "bad prompt"},
		{name: "message string", body: `{"message":"quota exceeded"}`, want: "quota exceeded"},
		{name: "nested error", body: `{"error":{"message":"invalid key","type":"auth"}}`, want: "invalid key"},
		{name: "plain text", body: "  gateway down  ", want: "gateway down"},
		{name: "json without known keys", body: `{"code":7}`, want: `{"code":7}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractErrorMessage([]byte(tt.body)))
		})
	}
}

func TestExtractErrorMessage_TruncatesLongBodies(t *testing.T) {
	body := strings.Repeat("x", 2000)

	assert.Len(t, ExtractErrorMessage([]byte(body)), maxErrorBody)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "****", MaskSecret("abcd"))
	assert.Equal(t, "abcdefgh...", MaskSecret("abcdefghijklmnop"))
}

func TestFailure_ErrorWrapsCause(t *testing.T) {
	cause := errors.New("boom")
	f := &Failure{Kind: ErrorKindUnreachable, Detail: "down", Cause: cause}

	assert.ErrorIs(t, f, cause)
	assert.Equal(t, "unreachable: down", f.Error())
}
