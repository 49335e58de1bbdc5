package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/api"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/config"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/database"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/domain"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/events"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/imaging"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/logging"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/metrics"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/models"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/network"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/queue"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/remote"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/repository"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/service"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/worker"
)

// assignmentRefreshInterval paces the background cache warmup while online.
const assignmentRefreshInterval = 5 * time.Minute

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg); err != nil {
		logger.Error().Err(err).Msg("prepare directories")
		return err
	}

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, db, err := openStore(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer store.Close()

	monitor := network.NewMonitor(cfg.Network, &logger)
	go monitor.Start(ctx)

	fleet := remote.NewClient(cfg.Remote)

	registry := worker.NewRegistry()
	registerHandlers(registry, fleet, store, &logger)

	syncWorker := worker.NewSyncWorker(store, registry, monitor, cfg.Sync, &logger)
	go syncWorker.Start(ctx)

	manager := queue.NewManager(store, monitor, syncWorker, &logger)

	eventBus := events.NewEventBus()
	subscribeDeliveryEvents(eventBus, &logger)

	compressor := imaging.NewCompressor(cfg.Imaging, &logger)
	deliveries := service.NewDeliveryService(store, fleet, manager, monitor, compressor, eventBus, cfg.Driver.ID, &logger)

	if cfg.API.Enabled {
		apiServer := api.NewHTTPServer(&cfg.API, store, manager, &logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	if cfg.Backup.Enabled && db != nil {
		backupService := database.NewBackupService(db, cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	go watchConnectivity(ctx, monitor, eventBus, deliveries, &logger)
	go refreshAssignments(ctx, deliveries, monitor, &logger)

	logger.Info().
		Str("driver_id", cfg.Driver.ID).
		Str("store", cfg.Store.Backend).
		Msg("agent started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "agent-main").Logger()

	return cfg, logger, closer, nil
}

func prepareDirectories(cfg *config.Config) error {
	if cfg.Store.Backend == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return err
		}
	}
	return nil
}

// openStore builds the configured store backend. The *database.DB return is
// non-nil only for sqlite, where the backup service needs the raw handle.
func openStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.Store, *database.DB, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		db, err := database.NewDB(cfg.Database.Path, logger)
		if err != nil {
			logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
			return nil, nil, err
		}
		return db, db, nil
	case "redis":
		client := repository.NewRedisClient(cfg.Redis)
		if err := repository.Ping(ctx, client); err != nil {
			logger.Error().Err(err).Str("address", cfg.Redis.Address).Msg("redis unavailable")
			return nil, nil, err
		}
		return repository.NewRedisStore(client), nil, nil
	case "memory":
		logger.Warn().Msg("memory store configured, queued actions will not survive a restart")
		return repository.NewMemoryStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// registerHandlers binds every replayable action type to the fleet client.
// Handlers mark the affected local records synced once the remote accepts
// the call, so cache badges clear as the queue drains.
func registerHandlers(registry *worker.Registry, fleet *remote.Client, store domain.Store, logger *zerolog.Logger) {
	registry.Register(models.ActionUpdateStatus, func(ctx context.Context, payload json.RawMessage) error {
		var p models.UpdateStatusPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		if err := fleet.UpdateDeliveryStatus(ctx, p.DeliveryID, p.Status, p.Note); err != nil {
			return err
		}
		markDeliverySynced(ctx, store, p.DeliveryID, logger)
		return nil
	})

	registry.Register(models.ActionAcceptDelivery, func(ctx context.Context, payload json.RawMessage) error {
		var p models.AcceptDeliveryPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		if err := fleet.AcceptDelivery(ctx, p.DeliveryID); err != nil {
			return err
		}
		markDeliverySynced(ctx, store, p.DeliveryID, logger)
		return nil
	})

	registry.Register(models.ActionUpdateLocation, func(ctx context.Context, payload json.RawMessage) error {
		var p models.LocationPing
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		return fleet.UpdateLocation(ctx, &p)
	})

	registry.Register(models.ActionReportIncident, func(ctx context.Context, payload json.RawMessage) error {
		var p models.IncidentReport
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		return fleet.ReportIncident(ctx, &p)
	})

	registry.Register(models.ActionUploadPhoto, func(ctx context.Context, payload json.RawMessage) error {
		var p models.UploadPhotoPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}

		photo, err := store.GetPhoto(ctx, p.PhotoID)
		if errors.Is(err, domain.ErrNotFound) {
			// The capture was pruned locally; nothing left to upload.
			logger.Warn().Str("photo_id", p.PhotoID).Msg("pending photo gone, completing upload action")
			return nil
		}
		if err != nil {
			return err
		}

		if err := fleet.UploadPhoto(ctx, photo); err != nil {
			return err
		}
		return store.MarkPhotoSynced(ctx, p.PhotoID)
	})
}

func markDeliverySynced(ctx context.Context, store domain.Store, deliveryID string, logger *zerolog.Logger) {
	err := store.UpdateDeliverySyncStatus(ctx, deliveryID, models.SyncStatusSynced)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		logger.Warn().Err(err).Str("delivery_id", deliveryID).Msg("mark delivery synced failed")
	}
}

func subscribeDeliveryEvents(bus *events.EventBus, logger *zerolog.Logger) {
	handler := func(ev *events.Event) error {
		var payload events.DeliveryEventPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			logger.Error().Err(err).Str("event", ev.Type).Msg("event bus: decode payload")
			return nil
		}

		logger.Info().
			Str("event", ev.Type).
			Str("delivery_id", payload.DeliveryID).
			Str("status", payload.Status).
			Bool("queued", payload.Queued).
			Msg("delivery event")
		return nil
	}

	for _, eventType := range []string{
		events.EventDeliveryAccepted,
		events.EventStatusChanged,
		events.EventIncidentReported,
		events.EventPhotoAttached,
		events.EventLocationRecorded,
	} {
		bus.Subscribe(eventType, handler)
	}
}

// watchConnectivity republishes monitor edges on the event bus and warms the
// assignment cache as soon as the fleet API comes back.
func watchConnectivity(
	ctx context.Context,
	monitor *network.Monitor,
	bus *events.EventBus,
	deliveries *service.DeliveryService,
	logger *zerolog.Logger,
) {
	edges, unsubscribe := monitor.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-edges:
			if !ok {
				return
			}

			if err := bus.PublishJSON(events.EventConnectivityShift, events.ConnectivityEventPayload{
				Online:     online,
				OccurredAt: time.Now().UTC(),
			}); err != nil {
				logger.Error().Err(err).Msg("publish connectivity event")
			}

			if online {
				if _, err := deliveries.ListAssignedDeliveries(ctx); err != nil {
					logger.Warn().Err(err).Msg("assignment refresh after reconnect failed")
				}
			}
		}
	}
}

// refreshAssignments keeps cached deliveries fresh so offline reads have
// something recent to serve.
func refreshAssignments(
	ctx context.Context,
	deliveries *service.DeliveryService,
	monitor *network.Monitor,
	logger *zerolog.Logger,
) {
	ticker := time.NewTicker(assignmentRefreshInterval)
	defer ticker.Stop()

	refresh := func() {
		if !monitor.IsOnline() {
			return
		}
		got, err := deliveries.ListAssignedDeliveries(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("assignment refresh failed")
			return
		}
		logger.Debug().Int("deliveries", len(got)).Msg("assignment cache refreshed")
	}

	refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}
