package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// maxErrorBody bounds how much of an upstream error body is echoed back
const maxErrorBody = 500

// NewHTTPClient builds an HTTP client enforcing the two-phase timeout of a stage:
// ConnectTimeout bounds dialing and the TLS handshake, ReadTimeout bounds the wait
// for the response once connected.
func NewHTTPClient(cfg StrategyConfig) *http.Client {
	cfg = cfg.WithDefaults()
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
	}
}

// ClassifyTransportError maps a failed round trip onto an ErrorKind.
// A dial or TLS handshake that times out is a connect timeout; any other timeout
// happened after the connection was established and is a read timeout.
func ClassifyTransportError(err error, endpoint string) *Failure {
	if err == nil {
		return nil
	}

	var opErr *net.OpError
	isDial := errors.As(err, &opErr) && opErr.Op == "dial"
	handshake := strings.Contains(err.Error(), "TLS handshake timeout")

	switch {
	case (isDial || handshake) && isTimeout(err):
		return &Failure{
			Kind:   ErrorKindConnectTimeout,
			Detail: fmt.Sprintf("could not connect to %s before the connect timeout", endpoint),
			Cause:  err,
		}
	case isTimeout(err):
		return &Failure{
			Kind:   ErrorKindReadTimeout,
			Detail: fmt.Sprintf("%s did not respond before the read timeout", endpoint),
			Cause:  err,
		}
	case errors.Is(err, syscall.ECONNREFUSED):
		return &Failure{
			Kind:   ErrorKindUnreachable,
			Detail: fmt.Sprintf("connection refused: no service is listening at %s", endpoint),
			Cause:  err,
		}
	default:
		return &Failure{
			Kind:   ErrorKindUnreachable,
			Detail: fmt.Sprintf("could not reach %s: %v", endpoint, err),
			Cause:  err,
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ClassifyStatus maps a non-2xx HTTP status onto an ErrorKind.
// It returns nil for 2xx statuses.
func ClassifyStatus(status int, body []byte) *Failure {
	if status >= 200 && status < 300 {
		return nil
	}
	message := ExtractErrorMessage(body)
	switch status {
	case http.StatusUnauthorized:
		return &Failure{
			Kind:       ErrorKindInvalidCredential,
			Detail:     "session credential is invalid or expired",
			StatusCode: status,
			Cause:      errors.New(message),
		}
	case http.StatusForbidden:
		return &Failure{
			Kind:       ErrorKindForbidden,
			Detail:     "access denied, the session credential may lack permission",
			StatusCode: status,
			Cause:      errors.New(message),
		}
	default:
		detail := fmt.Sprintf("HTTP error: %d", status)
		if message != "" {
			detail = fmt.Sprintf("%s - %s", detail, message)
		}
		return &Failure{
			Kind:       ErrorKindUpstreamError,
			Detail:     detail,
			StatusCode: status,
		}
	}
}

// ExtractErrorMessage makes a best effort to pull a human readable message out of an
// upstream error body. It understands {"error": "..."}, {"message": "..."} and
// {"error": {"message": "..."}}, and falls back to the truncated raw text.
func ExtractErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"error", "message"} {
			raw, ok := payload[key]
			if !ok {
				continue
			}
			var s string
			if err := json.Unmarshal(raw, &s); err == nil && s != "" {
				return s
			}
			var nested struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(raw, &nested); err == nil && nested.Message != "" {
				return nested.Message
			}
		}
	}

	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return text
}

// MaskSecret keeps a short prefix of a credential for log correlation
func MaskSecret(secret string) string {
	const visible = 8
	if len(secret) <= visible {
		return strings.Repeat("*", len(secret))
	}
	return secret[:visible] + "..."
}
