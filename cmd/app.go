package cmd

import (
	"context"
	"fmt"
	"time"

	coreconfig "github.com/AzielCF/az-crm/core/config"
	coreDB "github.com/AzielCF/az-crm/core/database"
	domainSession "github.com/AzielCF/az-crm/domains/session"
	"github.com/AzielCF/az-crm/infrastructure/valkey"
	"github.com/AzielCF/az-crm/infrastructure/whatsapp"
	"github.com/AzielCF/az-crm/pkg/msgworker"
	"github.com/AzielCF/az-crm/pkg/utils"
	"github.com/AzielCF/az-crm/session/application"
	"github.com/AzielCF/az-crm/session/repository"
	"github.com/AzielCF/az-crm/ui/websocket"
	"github.com/AzielCF/az-crm/usecase"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const mediaDownloadTimeout = 60 * time.Second

// stores groups the gorm repositories of the bridge.
type stores struct {
	db       *gorm.DB
	sessions *repository.SessionGormRepository
	messages *repository.MessageGormRepository
	contacts *repository.ChatContactGormRepository
}

// openStores connects to the database and migrates every table.
func openStores(ctx context.Context, cfg *coreconfig.Config) (*stores, error) {
	db, err := coreDB.NewDatabase(cfg)
	if err != nil {
		return nil, err
	}

	s := &stores{
		db:       db,
		sessions: repository.NewSessionGormRepository(db),
		messages: repository.NewMessageGormRepository(db),
		contacts: repository.NewChatContactGormRepository(db),
	}
	for name, init := range map[string]func(context.Context) error{
		"sessions":      s.sessions.Init,
		"messages":      s.messages.Init,
		"chat contacts": s.contacts.Init,
	} {
		if err := init(ctx); err != nil {
			_ = coreDB.Close(db)
			return nil, fmt.Errorf("failed to migrate %s: %w", name, err)
		}
	}
	return s, nil
}

// bridge is every long-lived component of the rest command.
type bridge struct {
	cfg      *coreconfig.Config
	stores   *stores
	pool     *msgworker.Pool
	hub      *websocket.Hub
	relay    *websocket.Relay
	vk       *valkey.Client
	registry *application.Registry
	service  domainSession.ISessionUsecase

	ctx    context.Context
	cancel context.CancelFunc
}

func newBridge(cfg *coreconfig.Config) (*bridge, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &bridge{cfg: cfg, ctx: ctx, cancel: cancel}

	st, err := openStores(ctx, cfg)
	if err != nil {
		cancel()
		return nil, err
	}
	b.stores = st

	var pipelineOpts []application.PipelineOption
	if cfg.CRM.ContactsTable != "" {
		linker, err := repository.NewContactLinkerGorm(st.db, cfg.CRM.ContactsTable, cfg.CRM.ContactsIDColumn, cfg.CRM.ContactsPhoneColumn)
		if err != nil {
			_ = coreDB.Close(st.db)
			cancel()
			return nil, err
		}
		pipelineOpts = append(pipelineOpts, application.WithContactLinker(linker))
		logrus.Infof("[CRM] Linking chat contacts against %s.%s", cfg.CRM.ContactsTable, cfg.CRM.ContactsPhoneColumn)
	}

	b.pool = msgworker.NewStartedPool(ctx, cfg.WorkerPool)
	b.hub = websocket.NewHub(cfg.Hub.PingInterval)

	var lock application.Locker
	if cfg.Valkey.Enabled {
		vk, err := valkey.NewClient(cfg.Valkey)
		if err != nil {
			// a single node still works without the relay
			logrus.WithError(err).Error("[VALKEY] Unavailable, running without cross-node fan-out")
		} else {
			b.vk = vk
			serverID := utils.GetPersistentServerID(cfg.App.ServerID, cfg.Paths.Storages)
			b.relay = websocket.NewRelay(vk, b.hub, serverID)
			b.hub.SetRelay(b.relay)
			lock = valkey.NewLocker(vk, cfg.Session.LockTTL)
			logrus.Infof("[VALKEY] Connected to %s as node %s", cfg.Valkey.Address, serverID)
		}
	}

	waOpts := whatsapp.Options{
		BaseDir:  cfg.Paths.BaseDir,
		LogLevel: cfg.Whatsapp.LogLevel,
		OSName:   cfg.Whatsapp.OS,
	}
	if cfg.Database.IsPostgres() {
		waOpts.PostgresDSN = cfg.Database.PostgresDSN()
	}

	owners := application.NewOwnerCache(st.sessions)
	pipeline := application.NewPipeline(st.messages, st.contacts, owners, b.hub, pipelineOpts...)
	b.registry = application.NewRegistry(application.RegistryDeps{
		Repo:        st.sessions,
		Factory:     whatsapp.NewFactory(waOpts),
		Cleaner:     whatsapp.NewArtifactCleaner(cfg.Paths.BaseDir),
		Pipeline:    pipeline,
		Broadcaster: b.hub,
		Queue:       application.NewEventQueue(ctx, b.pool),
		Owners:      owners,
		Lock:        lock,
	}, application.RegistryConfig{CreateTimeout: cfg.Session.CreateTimeout})

	b.service = usecase.NewSessionService(
		b.registry,
		pipeline,
		application.NewSyncer(b.registry),
		owners,
		utils.NewMediaDownloader(cfg.Whatsapp.MaxMediaSize, mediaDownloadTimeout),
		usecase.MediaOptions{Dir: cfg.Paths.SendItems, MaxSize: cfg.Whatsapp.MaxMediaSize},
	)
	return b, nil
}

// start launches the background loops and restores sessions.
func (b *bridge) start() {
	go b.hub.Run(b.ctx)
	if b.relay != nil {
		go b.relay.Run(b.ctx)
	}

	if b.cfg.Session.RestoreOnBoot {
		go func() {
			if _, err := b.registry.RestoreSessions(b.ctx); err != nil {
				logrus.WithError(err).Error("[SESSION] Failed to restore sessions")
			}
		}()
	}
}

func (b *bridge) pingDatabase(ctx context.Context) error {
	sqlDB, err := b.stores.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// stop releases everything in reverse order. Safe to call once.
func (b *bridge) stop() {
	logrus.Info("[APP] Stopping application...")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	b.registry.Shutdown(ctx)
	b.hub.CloseAll()
	b.cancel()
	b.pool.Stop()
	if b.vk != nil {
		b.vk.Close()
	}
	if err := coreDB.Close(b.stores.db); err != nil {
		logrus.WithError(err).Warn("[DB] Close failed")
	}

	logrus.Info("[APP] Application stopped cleanly.")
}
