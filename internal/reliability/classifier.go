package reliability

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRecoverableRealtimeCode reports whether an upstream error code received
// during a live session can be logged and ignored.
func IsRecoverableRealtimeCode(code string) bool {
	switch code {
	case "input_audio_buffer_commit_empty",
		"response_cancel_not_active",
		"conversation_already_has_active_response",
		"rate_limit_exceeded":
		return true
	default:
		return false
	}
}

var transientSignatures = []string{
	"connection",
	"server error",
	"socket",
	"websocket",
	"network",
	"timeout",
	"timed out",
	"deadline exceeded",
	"ice",
	"peer",
	"unexpected eof",
}

var statusPattern = regexp.MustCompile(`\b5\d\d\b`)

// IsTransientFailure reports whether err looks like an infrastructure failure
// that another provider or transport could route around.
func IsTransientFailure(err error) bool {
	if err == nil {
		return false
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	// Upstream codes such as "server_error" match their spaced signature.
	msg := strings.ReplaceAll(strings.ToLower(err.Error()), "_", " ")
	for _, sig := range transientSignatures {
		if containsWord(msg, sig) {
			return true
		}
	}
	return statusPattern.MatchString(msg)
}

// containsWord matches sig on word boundaries so that "ice" does not match
// "device" or "service".
func containsWord(msg, sig string) bool {
	for from := 0; ; {
		idx := strings.Index(msg[from:], sig)
		if idx < 0 {
			return false
		}
		start := from + idx
		end := start + len(sig)
		if (start == 0 || !isLetter(msg[start-1])) && (end == len(msg) || !isLetter(msg[end])) {
			return true
		}
		from = start + 1
	}
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z'
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
