package reconnect

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"graphlink/internal/domain"
)

// Category says whether another dial can fix a failure.
type Category int

const (
	CategoryUnknown   Category = iota
	CategoryRetryable          // refused, reset, timeouts, 429, 5xx, dropped sessions
	CategoryPermanent          // rejected credentials, 4xx handshakes, bad input
)

func (c Category) String() string {
	switch c {
	case CategoryRetryable:
		return "retryable"
	case CategoryPermanent:
		return "permanent"
	}
	return "unknown"
}

// handshakeStatus matches the HTTP status the websocket dialer reports when
// the server refuses the upgrade.
var handshakeStatus = regexp.MustCompile(`status code 101 but got (\d{3})`)

// Classify sorts a dial or authentication failure. Run stops at the first
// permanent failure; unknown failures are retried.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var reqErr *domain.RequestError
	switch {
	case errors.As(err, &reqErr):
		// The server answered and refused the session, usually its token.
		return CategoryPermanent
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrConfigLoad),
		errors.Is(err, domain.ErrDecryption):
		return CategoryPermanent
	}

	msg := err.Error()
	if m := handshakeStatus.FindStringSubmatch(msg); len(m) == 2 {
		code, _ := strconv.Atoi(m[1])
		return classifyStatus(code)
	}

	if errors.Is(err, domain.ErrTransport) || errors.Is(err, domain.ErrOffline) || errors.Is(err, domain.ErrProtocol) {
		return CategoryRetryable
	}

	lower := strings.ToLower(msg)
	for _, p := range []string{
		"connection refused", "no such host", "timeout",
		"deadline exceeded", "connection reset", "broken pipe",
	} {
		if strings.Contains(lower, p) {
			return CategoryRetryable
		}
	}
	return CategoryUnknown
}

func classifyStatus(code int) Category {
	switch {
	case code == 429, code == 408:
		return CategoryRetryable
	case code >= 500 && code < 600:
		return CategoryRetryable
	default:
		return CategoryPermanent
	}
}
