package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/config"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/database"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/domain"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/export"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/network"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/queue"
	"github.com/topsucces-code/logitrack-driver-app-sub001/internal/repository"
)

// queuectl inspects and repairs the local action queue while the agent is
// stopped: listing pending work, replaying or dropping dead letters, and
// dumping an xlsx audit of both collections.

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to config.yaml")
		limit      = flag.Int("limit", 20, "max dead letters to list (0 = all)")
		all        = flag.Bool("all", false, "replay: requeue every dead letter")
		dead       = flag.Bool("dead", false, "clear: target the dead letter collection")
	)
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		usage()
		return fmt.Errorf("missing command")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	store, err := openStore(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer store.Close()

	switch command {
	case "status":
		return showStatus(ctx, store, cfg)
	case "pending":
		return listPending(ctx, store)
	case "deadletter":
		return listDeadLetters(ctx, store, *limit)
	case "replay":
		return replay(ctx, store, cfg, flag.Arg(1), *all, &logger)
	case "remove":
		return remove(ctx, store, cfg, flag.Arg(1), &logger)
	case "clear":
		return clear(ctx, store, *dead)
	case "export":
		return runExport(ctx, store, cfg, &logger)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: queuectl [flags] <command> [args]

Commands:
  status            queue, dead letter and photo counts
  pending           list pending actions in replay order
  deadletter        list dead letters, newest first (-limit N)
  replay <id>       requeue one dead letter (-all for every one)
  remove <id>       drop one pending action
  clear             drop all pending actions (-dead for dead letters)
  export            write an xlsx audit of both collections`)
}

// openStore opens the configured backend read-write. Run this against a
// stopped agent; both sqlite and redis tolerate a second writer poorly.
func openStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		return database.NewDB(cfg.Database.Path, logger)
	case "redis":
		client := repository.NewRedisClient(cfg.Redis)
		if err := repository.Ping(ctx, client); err != nil {
			return nil, fmt.Errorf("redis unavailable: %w", err)
		}
		return repository.NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("store backend %q has no durable state to inspect", cfg.Store.Backend)
	}
}

func showStatus(ctx context.Context, store domain.Store, cfg *config.Config) error {
	pending, err := store.CountPendingActions(ctx)
	if err != nil {
		return err
	}
	letters, err := store.CountDeadLetters(ctx)
	if err != nil {
		return err
	}
	photos, err := store.UnsyncedPhotos(ctx)
	if err != nil {
		return err
	}
	deliveries, err := store.ListDeliveries(ctx)
	if err != nil {
		return err
	}

	out := map[string]interface{}{
		"backend":           cfg.Store.Backend,
		"pending_actions":   pending,
		"dead_letters":      letters,
		"unsynced_photos":   len(photos),
		"cached_deliveries": len(deliveries),
	}
	if setting, err := store.GetSetting(ctx, database.SettingLastBackupAt); err == nil {
		out["last_backup_at"] = setting.Value
	}

	return printJSON(out)
}

func listPending(ctx context.Context, store domain.Store) error {
	actions, err := store.PendingActions(ctx)
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		fmt.Println("queue is empty")
		return nil
	}

	for _, action := range actions {
		line := fmt.Sprintf("%s  %-16s  retries=%d  created=%s",
			action.ID, action.Type, action.RetryCount, action.CreatedAt.Format(time.RFC3339))
		if action.LastError != nil {
			line += "  last_error=" + *action.LastError
		}
		fmt.Println(line)
	}
	fmt.Printf("total: %d\n", len(actions))
	return nil
}

func listDeadLetters(ctx context.Context, store domain.Store, limit int) error {
	letters, err := store.DeadLetters(ctx, limit)
	if err != nil {
		return err
	}
	if len(letters) == 0 {
		fmt.Println("dead letter collection is empty")
		return nil
	}

	for _, letter := range letters {
		line := fmt.Sprintf("%s  %-16s  reason=%s  retries=%d  failed=%s",
			letter.ID, letter.Type, letter.Reason, letter.RetryCount, letter.FailedAt.Format(time.RFC3339))
		if letter.LastError != nil {
			line += "  last_error=" + *letter.LastError
		}
		fmt.Println(line)
	}
	fmt.Printf("total: %d\n", len(letters))
	return nil
}

func replay(ctx context.Context, store domain.Store, cfg *config.Config, id string, all bool, logger *zerolog.Logger) error {
	manager := newManager(store, cfg, logger)

	if all {
		replayed, err := manager.ReplayAllDeadLetters(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("replayed: %d\n", replayed)
		return nil
	}

	if id == "" {
		return fmt.Errorf("replay needs a dead letter id or -all")
	}
	if err := manager.ReplayDeadLetter(ctx, id); err != nil {
		return err
	}
	fmt.Printf("replayed: %s\n", id)
	return nil
}

func remove(ctx context.Context, store domain.Store, cfg *config.Config, id string, logger *zerolog.Logger) error {
	if id == "" {
		return fmt.Errorf("remove needs an action id")
	}
	if err := newManager(store, cfg, logger).RemoveFromQueue(ctx, id); err != nil {
		return err
	}
	fmt.Printf("removed: %s\n", id)
	return nil
}

func clear(ctx context.Context, store domain.Store, dead bool) error {
	var (
		count int
		err   error
		what  = "pending actions"
	)
	if dead {
		count, err = store.ClearDeadLetters(ctx)
		what = "dead letters"
	} else {
		count, err = store.ClearActions(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Printf("cleared %d %s\n", count, what)
	return nil
}

func runExport(ctx context.Context, store domain.Store, cfg *config.Config, logger *zerolog.Logger) error {
	path, err := export.NewExporter(store, cfg.Exports, logger).Audit(ctx)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

// newManager builds a queue manager detached from any live worker. The
// monitor is never started, so replays only persist; the agent drains them
// on its next run.
func newManager(store domain.Store, cfg *config.Config, logger *zerolog.Logger) *queue.Manager {
	return queue.NewManager(store, network.NewMonitor(cfg.Network, logger), noopTrigger{}, logger)
}

type noopTrigger struct{}

func (noopTrigger) Kick()            {}
func (noopTrigger) IsDraining() bool { return false }

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
