package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	pkgUtils "github.com/AzielCF/az-crm/pkg/utils"
	"github.com/AzielCF/az-crm/session/domain/session"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

const (
	deviceDBName  = "device.db"
	deviceJIDName = "device.jid"
)

// Options configures where device state lives and how clients identify.
type Options struct {
	// BaseDir holds one folder per (user, label) with its device database.
	BaseDir string
	// PostgresDSN, when set, stores every device in one shared database
	// instead of per-session sqlite files.
	PostgresDSN string
	LogLevel    string
	OSName      string
}

// Factory starts whatsmeow clients for sessions.
type Factory struct {
	opts Options
}

func NewFactory(opts Options) *Factory {
	if opts.LogLevel == "" {
		opts.LogLevel = "ERROR"
	}
	if opts.OSName == "" {
		opts.OSName = "AzCRM"
	}
	configureDeviceProps(opts.OSName)
	return &Factory{opts: opts}
}

func configureDeviceProps(osName string) {
	platform := waCompanionReg.DeviceProps_CHROME
	store.DeviceProps.PlatformType = &platform
	store.DeviceProps.Os = &osName
}

// Create opens the device store of the session and connects. When the device
// was never paired the QR flow starts and codes arrive through OnQRCode.
func (f *Factory) Create(ctx context.Context, req session.CreateRequest) (session.ClientHandle, error) {
	short := shortID(req.SessionID)
	dir := pkgUtils.SessionArtifactsPath(f.opts.BaseDir, req.Key.UserID, req.Key.Label)
	if err := pkgUtils.CreateFolder(dir); err != nil {
		return nil, err
	}

	container, err := f.openStore(ctx, dir, waLog.Stdout("DB-"+short, f.opts.LogLevel, true))
	if err != nil {
		return nil, err
	}

	device, err := f.device(ctx, container, dir)
	if err != nil {
		_ = container.Close()
		return nil, err
	}

	client := whatsmeow.NewClient(device, waLog.Stdout("Client-"+short, f.opts.LogLevel, true))
	client.EnableAutoReconnect = true
	client.AutoTrustIdentity = true

	h := newHandle(client, container, req.Callbacks, req.SessionID)
	if f.opts.PostgresDSN != "" {
		h.jidFile = filepath.Join(dir, deviceJIDName)
	}
	h.handlerID = client.AddEventHandler(h.handleEvent)

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			h.shutdown()
			return nil, fmt.Errorf("failed to open qr channel: %w", err)
		}
		go h.watchQR(qrChan)
	}

	if err := client.Connect(); err != nil {
		h.shutdown()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	logrus.WithField("session_id", req.SessionID).Infof("[WHATSAPP] Client started (paired: %v)", client.Store.ID != nil)
	return h, nil
}

func (f *Factory) openStore(ctx context.Context, dir string, dbLog waLog.Logger) (*sqlstore.Container, error) {
	dialect, uri := "sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(dir, deviceDBName))
	if f.opts.PostgresDSN != "" {
		dialect, uri = "postgres", f.opts.PostgresDSN
	}
	container, err := sqlstore.New(ctx, dialect, uri, dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}
	return container, nil
}

// device loads the paired device of the session. The sqlite store holds one
// device per file; the shared postgres store is indexed by the jid remembered
// in the session folder at pairing time.
func (f *Factory) device(ctx context.Context, container *sqlstore.Container, dir string) (*store.Device, error) {
	if f.opts.PostgresDSN == "" {
		device, err := container.GetFirstDevice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load device: %w", err)
		}
		return device, nil
	}

	raw, err := os.ReadFile(filepath.Join(dir, deviceJIDName))
	if err != nil {
		return container.NewDevice(), nil
	}
	jid, err := types.ParseJID(strings.TrimSpace(string(raw)))
	if err != nil {
		return container.NewDevice(), nil
	}
	device, err := container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("failed to load device: %w", err)
	}
	if device == nil {
		return container.NewDevice(), nil
	}
	return device, nil
}

// ArtifactCleaner removes the on-disk device state of a session.
type ArtifactCleaner struct {
	baseDir string
}

func NewArtifactCleaner(baseDir string) *ArtifactCleaner {
	return &ArtifactCleaner{baseDir: baseDir}
}

func (c *ArtifactCleaner) Clear(key session.Key) error {
	dir := pkgUtils.SessionArtifactsPath(c.baseDir, key.UserID, key.Label)
	if _, err := os.Stat(dir); err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
