package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// MeowDialer opens sockets backed by whatsmeow clients.
type MeowDialer struct {
	Log waLog.Logger
}

func (d MeowDialer) Dial(_ context.Context, device *store.Device, version store.WAVersionContainer) (Socket, error) {
	if device == nil {
		return nil, errors.New("whatsapp: no device in session store")
	}
	if version != (store.WAVersionContainer{}) {
		store.SetWAVersion(version)
	}

	log := d.Log
	if log == nil {
		log = waLog.Noop
	}

	client := whatsmeow.NewClient(device, log)
	client.EnableAutoReconnect = false
	return &meowSocket{client: client}, nil
}

type meowSocket struct {
	client *whatsmeow.Client

	mu       sync.Mutex
	emit     func(evt any)
	cancelQR context.CancelFunc
}

func (s *meowSocket) OnEvent(fn func(evt any)) {
	s.mu.Lock()
	s.emit = fn
	s.mu.Unlock()

	s.client.AddEventHandler(func(evt any) {
		if out := translate(evt); out != nil {
			fn(out)
		}
	})
}

func (s *meowSocket) Connect(ctx context.Context) error {
	if s.client.Store.ID == nil {
		qrCtx, cancel := context.WithCancel(ctx)
		qrChan, err := s.client.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("opening QR channel: %w", err)
		}
		s.mu.Lock()
		s.cancelQR = cancel
		s.mu.Unlock()
		go s.forwardQR(qrChan)
	}
	return s.client.Connect()
}

func (s *meowSocket) forwardQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		s.mu.Lock()
		emit := s.emit
		s.mu.Unlock()
		if emit == nil {
			continue
		}

		if u, ok := translateQR(item); ok {
			emit(u)
		}
	}
}

// translateQR maps one pairing channel item. Success is reported separately
// through PairSuccess, so only codes and failures produce an update.
func translateQR(item whatsmeow.QRChannelItem) (ConnectionUpdate, bool) {
	switch item.Event {
	case whatsmeow.QRChannelEventCode:
		return ConnectionUpdate{QR: item.Code}, true
	case whatsmeow.QRChannelSuccess.Event:
		return ConnectionUpdate{}, false
	case whatsmeow.QRChannelTimeout.Event:
		return ConnectionUpdate{Status: ConnClose, Reason: ReasonQRTimeout}, true
	case whatsmeow.QRChannelClientOutdated.Event:
		return ConnectionUpdate{Status: ConnClose, Reason: ReasonClientOutdated}, true
	}
	return ConnectionUpdate{Status: ConnClose, Reason: ReasonPairingFailed}, true
}

func (s *meowSocket) Disconnect() {
	s.mu.Lock()
	cancel := s.cancelQR
	s.cancelQR = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.client.Disconnect()
}

func (s *meowSocket) SendText(ctx context.Context, to types.JID, text string) error {
	_, err := s.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	return err
}

// translate maps whatsmeow events onto the adapter's event vocabulary.
// Events the adapter does not react to map to nil.
func translate(evt any) any {
	switch e := evt.(type) {
	case *events.Connected:
		return ConnectionUpdate{Status: ConnOpen}
	case *events.Disconnected:
		return ConnectionUpdate{Status: ConnClose, Reason: ReasonConnectionLost}
	case *events.StreamReplaced:
		return ConnectionUpdate{Status: ConnClose, Reason: ReasonReplaced}
	case *events.LoggedOut:
		return ConnectionUpdate{Status: ConnClose, Reason: ReasonLoggedOut}
	case *events.ConnectFailure:
		if e.Reason.IsLoggedOut() {
			return ConnectionUpdate{Status: ConnClose, Reason: ReasonLoggedOut}
		}
		return ConnectionUpdate{Status: ConnClose, Reason: ReasonConnectFailure}
	case *events.ClientOutdated:
		// whatsmeow sends no Disconnected after this; the reconnect
		// fetches a fresh client version.
		return ConnectionUpdate{Status: ConnClose, Reason: ReasonClientOutdated}
	case *events.TemporaryBan:
		return ConnectionUpdate{Status: ConnClose, Reason: ReasonTemporaryBan}
	case *events.PairSuccess:
		return CredentialsUpdated{}
	case *events.Message:
		return MessagesUpsert{Messages: []Message{fromEvent(e)}}
	}
	return nil
}

func fromEvent(e *events.Message) Message {
	m := Message{
		ID:       e.Info.ID,
		Chat:     e.Info.Chat.String(),
		PushName: e.Info.PushName,
		FromMe:   e.Info.IsFromMe,
		Time:     e.Info.Timestamp,
		Payload:  e.Message,
	}
	if e.Info.IsGroup {
		m.Participant = e.Info.Sender.ToNonAD().String()
	}
	return m
}
