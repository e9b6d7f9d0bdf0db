package channels

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrEmptyContent = errors.New("empty message content")
)

// Last-error codes reported through Status.
const (
	CodeQRScanRequired = "qr_scan_required"
	CodeLoggedOut      = "logged_out_repair_required"
	CodeTemporaryBan   = "temporarily_banned"
	CodeReconnecting   = "disconnected_reconnecting"
	CodeDMOnlyFallback = "disallowed_intents_dm_only_fallback"
	CodeLoginFailed    = "login_failed"
	CodeConnectFailed  = "connect_failed"
)

// ConnectionError is returned from Start when the transport rejects the
// attempt and nothing will retry it.
type ConnectionError struct {
	Channel string
	Code    string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Channel, e.Code, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NotConnected returns an error for channel that wraps ErrNotConnected.
func NotConnected(channel string) error {
	return fmt.Errorf("%s: %w", channel, ErrNotConnected)
}
