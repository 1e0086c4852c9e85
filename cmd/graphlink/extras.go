package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"graphlink/internal/adapter/discovery"
	"graphlink/internal/adapter/graphclient"
	"graphlink/internal/adapter/journal"
	"graphlink/internal/domain"
	"graphlink/internal/usecase/scheduling"
)

// defaultJournal is where subscribe --record and history look when no
// path is given.
const defaultJournal = "graphlink-journal.db"

// runPoll repeats a query on a cron expression or interval until ctx ends
// or the session dies.
func runPoll(ctx context.Context, conn *graphclient.Conn, log *slog.Logger, flags cliFlags, out io.Writer) error {
	if len(flags.Args) != 1 {
		return usageError("query takes exactly one TEXT argument")
	}
	fatal := make(chan error, 1)
	sched := scheduling.New(log)
	err := sched.Add(scheduling.Task{
		Name:     "query",
		Schedule: flags.Every,
		Run: func(ctx context.Context) error {
			data, err := conn.Query(ctx, flags.Args[0], flags.Params)
			if err != nil {
				if domain.IsSessionFatal(err) {
					select {
					case fatal <- err:
					default:
					}
				}
				return err
			}
			fmt.Fprintln(out, string(data))
			return nil
		},
	})
	if err != nil {
		return usageError("--every: %v", err)
	}
	sched.Start(ctx)
	defer sched.Stop()

	select {
	case <-ctx.Done():
		return nil
	case err := <-fatal:
		return err
	case <-conn.Done():
		return conn.Err()
	}
}

// recorder appends pushes for one subscription to the journal.
type recorder struct {
	store *journal.Store
	log   *slog.Logger
	id    string
}

func (r *recorder) data(data json.RawMessage) {
	if r == nil {
		return
	}
	if _, err := r.store.Record(context.Background(), journal.Entry{Subscription: r.id, Kind: journal.KindData, Data: data}); err != nil {
		r.log.Warn("journal write failed", "subscription", r.id, "error", err)
	}
}

func (r *recorder) fail(cause error) {
	if r == nil {
		return
	}
	if _, err := r.store.Record(context.Background(), journal.Entry{Subscription: r.id, Kind: journal.KindError, Error: cause.Error()}); err != nil {
		r.log.Warn("journal write failed", "subscription", r.id, "error", err)
	}
}

func journalPath(flags cliFlags) string {
	if flags.Record != "" {
		return flags.Record
	}
	return defaultJournal
}

// runHistory prints recorded pushes as JSON lines, oldest first.
func runHistory(args []string) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}
	store, err := journal.Open(journalPath(flags))
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	if flags.Prune > 0 {
		n, err := store.Prune(ctx, time.Now().Add(-flags.Prune))
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, styleOK(fmt.Sprintf("pruned %d entries", n)))
	}

	entries, err := store.List(ctx, flags.ID, flags.Limit)
	if err != nil {
		return err
	}
	return writeEntries(os.Stdout, entries)
}

func writeEntries(w io.Writer, entries []journal.Entry) error {
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

// runDiscover lists graph services announced over mDNS.
func runDiscover() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := discovery.NewMDNS(slog.Default(), 0).Scan(ctx)
	if err != nil {
		return err
	}
	if len(services) == 0 {
		fmt.Fprintln(os.Stderr, styleWarn("no graph services found"))
		return nil
	}
	for _, svc := range services {
		fmt.Printf("%s\t%s\n", svc.Instance, svc.Endpoint())
	}
	return nil
}
