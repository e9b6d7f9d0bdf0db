package whatsapp

import "github.com/igorsilveira/relay/pkg/channels"

// Machine holds the connection state and applies transitions. It does no
// I/O; the adapter executes the returned Action.
type Machine struct {
	State     channels.State
	Connected bool
	LastError string
	QR        string
	ShouldRun bool
}

// Action tells the caller what side effects a transition requires.
type Action struct {
	Event     string
	RenderQR  string
	Reconnect bool
}

func (m *Machine) Start() {
	m.ShouldRun = true
}

func (m *Machine) Connecting() {
	m.State = channels.StateConnecting
	m.Connected = false
}

func (m *Machine) Stop() {
	m.ShouldRun = false
	m.Connected = false
	m.QR = ""
	m.State = channels.StateDisconnected
}

// Fail records a connect attempt that will not be retried.
func (m *Machine) Fail(code string) {
	m.Stop()
	m.LastError = code
}

func (m *Machine) Apply(u ConnectionUpdate) Action {
	var act Action

	if u.QR != "" {
		m.State = channels.StateQRRequired
		m.QR = u.QR
		m.LastError = channels.CodeQRScanRequired
		act.Event = "qr_challenge"
		act.RenderQR = u.QR
	}

	switch u.Status {
	case ConnOpen:
		m.State = channels.StateConnected
		m.Connected = true
		m.LastError = ""
		m.QR = ""
		act.Event = "connection_open"
		act.RenderQR = ""

	case ConnClose:
		m.State = channels.StateDisconnected
		m.Connected = false
		m.QR = ""
		act.Event = "connection_close"
		act.RenderQR = ""
		switch u.Reason {
		case ReasonLoggedOut:
			m.LastError = channels.CodeLoggedOut
			return act
		case ReasonTemporaryBan:
			m.LastError = channels.CodeTemporaryBan
			return act
		}
		if m.ShouldRun {
			m.LastError = channels.CodeReconnecting
			act.Reconnect = true
		}
	}

	return act
}

func (m *Machine) Mode() string {
	if m.State == channels.StateQRRequired {
		return channels.ModePairing
	}
	return channels.ModeFull
}
