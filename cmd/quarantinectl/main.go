// Command quarantinectl inspects and restores quarantined bus messages.
// It opens the same bbolt file as the daemon, so run it while the daemon
// is stopped or pointed at a copy of the database.
//
// Usage:
//
//	quarantinectl list
//	quarantinectl show <id>
//	quarantinectl requeue <id>
//	quarantinectl purge <id>
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/campushq/campus-courier/internal/bus"
	"github.com/campushq/campus-courier/internal/config"
	"github.com/campushq/campus-courier/internal/logger"
	"github.com/campushq/campus-courier/internal/storage"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "quarantinectl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: quarantinectl <list|show|requeue|purge> [id]")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := storage.NewStore(cfg.BBoltPath, storage.Options{
		LedgerTTL:       cfg.LedgerTTL,
		CleanupInterval: cfg.LedgerCleanupInterval,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	switch cmd := args[0]; cmd {
	case "list":
		return list(store)
	case "show":
		if len(args) < 2 {
			return fmt.Errorf("usage: quarantinectl show <id>")
		}
		return show(store, args[1])
	case "requeue":
		if len(args) < 2 {
			return fmt.Errorf("usage: quarantinectl requeue <id>")
		}
		return requeue(cfg, store, args[1])
	case "purge":
		if len(args) < 2 {
			return fmt.Errorf("usage: quarantinectl purge <id>")
		}
		return purge(store, args[1])
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func list(store storage.Store) error {
	msgs, err := store.ListQuarantined()
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println("quarantine is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tQUEUE\tQUARANTINED AT\tREASON")
	for _, m := range msgs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.Queue, m.QuarantinedAt.Format(time.RFC3339), m.Reason)
	}
	return w.Flush()
}

func show(store storage.Store, id string) error {
	m, err := store.GetQuarantined(id)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// requeue puts the envelope back on its original queue and removes the
// quarantine record only after the send succeeds.
func requeue(cfg *config.Config, store storage.Store, id string) error {
	// The memory backend lives inside the daemon process; a requeue from
	// here would vanish when this command exits.
	if cfg.BusBackend == config.BusMemory {
		return fmt.Errorf("requeue requires the aws bus backend")
	}

	m, err := store.GetQuarantined(id)
	if err != nil {
		return err
	}

	topo, err := bus.LoadTopology(cfg.TopologyFile)
	if err != nil {
		return fmt.Errorf("load topology: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b, err := bus.New(ctx, cfg, topo, nil, nil, &logger.NopLogger{})
	if err != nil {
		return fmt.Errorf("init bus: %w", err)
	}
	defer b.Close()

	if err := b.Requeue(ctx, m.Queue, m.Envelope); err != nil {
		return fmt.Errorf("requeue %s to %s: %w", id, m.Queue, err)
	}
	if err := store.DeleteQuarantined(id); err != nil {
		return fmt.Errorf("requeued but could not remove record: %w", err)
	}
	fmt.Printf("requeued %s to %s\n", id, m.Queue)
	return nil
}

func purge(store storage.Store, id string) error {
	if _, err := store.GetQuarantined(id); err != nil {
		return err
	}
	if err := store.DeleteQuarantined(id); err != nil {
		return err
	}
	fmt.Printf("purged %s\n", id)
	return nil
}
