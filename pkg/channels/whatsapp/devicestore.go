package whatsapp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// DeviceStore keeps the device credentials of one adapter in its own
// SQLite database.
type DeviceStore struct {
	container *sqlstore.Container
}

func OpenDeviceStore(ctx context.Context, path string, log waLog.Logger) (*DeviceStore, error) {
	if log == nil {
		log = waLog.Noop
	}
	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", path), log)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: opening session store: %w", err)
	}
	return &DeviceStore{container: container}, nil
}

// Load returns the paired device, or a fresh unpaired one.
func (s *DeviceStore) Load(ctx context.Context, _ string) (*store.Device, error) {
	device, err := s.container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: getting device: %w", err)
	}
	return device, nil
}

func (s *DeviceStore) Save(ctx context.Context, _ string, device *store.Device) error {
	if device.ID == nil {
		return nil
	}
	if err := s.container.PutDevice(ctx, device); err != nil {
		return fmt.Errorf("whatsapp: saving device: %w", err)
	}
	return nil
}

func (s *DeviceStore) Close() error {
	return s.container.Close()
}

// WebVersionSource asks the WhatsApp web endpoint for the current client
// version.
type WebVersionSource struct {
	Client *http.Client
}

func (v WebVersionSource) LatestVersion(ctx context.Context) (store.WAVersionContainer, error) {
	client := v.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	ver, err := whatsmeow.GetLatestVersion(ctx, client)
	if err != nil {
		return store.WAVersionContainer{}, fmt.Errorf("whatsapp: fetching latest version: %w", err)
	}
	return *ver, nil
}
