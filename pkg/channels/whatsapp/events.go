package whatsapp

import (
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
)

// ConnStatus is the connection part of a ConnectionUpdate.
type ConnStatus int

const (
	ConnUnchanged ConnStatus = iota
	ConnOpen
	ConnClose
)

// DisconnectReason says why a connection closed.
type DisconnectReason int

const (
	ReasonUnknown DisconnectReason = iota
	ReasonConnectionLost
	ReasonReplaced
	ReasonQRTimeout
	ReasonConnectFailure
	ReasonLoggedOut
	ReasonClientOutdated
	ReasonTemporaryBan
	ReasonPairingFailed
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonConnectionLost:
		return "connection_lost"
	case ReasonReplaced:
		return "stream_replaced"
	case ReasonQRTimeout:
		return "qr_timeout"
	case ReasonConnectFailure:
		return "connect_failure"
	case ReasonLoggedOut:
		return "logged_out"
	case ReasonClientOutdated:
		return "client_outdated"
	case ReasonTemporaryBan:
		return "temporary_ban"
	case ReasonPairingFailed:
		return "pairing_failed"
	default:
		return "unknown"
	}
}

// ConnectionUpdate reports a QR challenge and/or a connection open/close.
type ConnectionUpdate struct {
	Status ConnStatus
	QR     string
	Reason DisconnectReason
}

// CredentialsUpdated is emitted when the device credentials changed and
// should be persisted.
type CredentialsUpdated struct{}

// MessagesUpsert carries a batch of inbound messages in receive order.
type MessagesUpsert struct {
	Messages []Message
}

type Message struct {
	ID          string
	Chat        string
	Participant string
	PushName    string
	FromMe      bool
	Time        time.Time
	Payload     *waE2E.Message
}

// Meta is the raw routing metadata carried on WhatsApp envelopes.
type Meta struct {
	RemoteJID   string `json:"remote_jid"`
	MessageID   string `json:"message_id"`
	Participant string `json:"participant,omitempty"`
}
