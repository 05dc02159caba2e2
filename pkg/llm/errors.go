package llm

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Provider failures are classified so callers can decide retry vs. abort.
// The orchestrating layer retries ErrTransient; the rest are terminal for a
// given attempt.
var (
	ErrAuthentication    = errors.New("provider authentication failed")
	ErrModelUnavailable  = errors.New("model unavailable")
	ErrTransient         = errors.New("transient provider failure")
	ErrMalformedResponse = errors.New("malformed provider response")
)

// classifyErr maps a raw transport or SDK error onto one of the provider
// failure classes. Used for errors coming out of the langchaingo clients,
// which do not expose status codes directly.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTransient, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "api key"):
		return errors.Join(ErrAuthentication, err)
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found") ||
		strings.Contains(msg, "model"):
		return errors.Join(ErrModelUnavailable, err)
	case strings.Contains(msg, "unmarshal") || strings.Contains(msg, "decode") ||
		strings.Contains(msg, "unexpected end"):
		return errors.Join(ErrMalformedResponse, err)
	default:
		return errors.Join(ErrTransient, err)
	}
}
