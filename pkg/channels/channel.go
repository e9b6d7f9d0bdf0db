package channels

import "context"

// InboundHandler receives every normalized inbound envelope an adapter
// produces. It is called in platform receive order and never concurrently
// for messages from the same connection.
type InboundHandler func(ctx context.Context, env InboundEnvelope) error

// Adapter is implemented by every platform channel.
type Adapter interface {
	Name() string

	// SetInboundHandler registers the single handler for inbound envelopes.
	// It must be called before Start.
	SetInboundHandler(h InboundHandler)

	// Start begins connecting and returns once the first attempt has been
	// dispatched. Calling Start on a running adapter is a no-op.
	Start(ctx context.Context) error

	// Stop releases the connection and cancels pending timers. No envelope
	// is delivered after Stop returns. Safe to call more than once.
	Stop(ctx context.Context) error

	Send(ctx context.Context, env OutboundEnvelope) error

	// Status reports in-memory connection state without doing any I/O.
	Status() Status

	SetupSpec() SetupSpec
}

const (
	ModeFull    = "full"
	ModeDMOnly  = "dm_only"
	ModePairing = "pairing"
)

type Status struct {
	Channel     string `json:"channel"`
	State       string `json:"state"`
	Connected   bool   `json:"connected"`
	Mode        string `json:"mode"`
	LastError   string `json:"last_error,omitempty"`
	QRChallenge string `json:"qr_challenge,omitempty"`
}

type SetupField struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Env      string `json:"env,omitempty"`
	Required bool   `json:"required"`
	Secret   bool   `json:"secret"`
}

// SetupSpec describes the configuration an adapter needs.
type SetupSpec struct {
	Channel string       `json:"channel"`
	Fields  []SetupField `json:"fields"`
}
