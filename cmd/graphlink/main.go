package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"graphlink/internal/domain"
	"graphlink/internal/infra/config"
	"graphlink/internal/infra/logger"
	"graphlink/internal/infra/tracer"
	"graphlink/internal/usecase/eventbus"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "--help", "-h", "help":
		showUsage()
		return
	case "version", "--version":
		fmt.Println("graphlink", version)
		return
	case "encrypt":
		err = runEncrypt(os.Args[2:])
	case "doctor":
		err = runDoctor()
	case "history":
		err = runHistory(os.Args[2:])
	case "discover":
		err = runDiscover()
	case "query", "exec", "subscribe", "commit",
		"set-node", "remove-nodes", "set-edge", "remove-edges", "set-type":
		err = runClientCommand(cmd, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'graphlink --help' for usage information.\n", cmd)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, styleError(os.Args[1], err))
		os.Exit(exitCode(err))
	}
}

func showUsage() {
	fmt.Println(`graphlink - multiplexing client for the graph query service

USAGE:
    graphlink COMMAND [FLAGS]

COMMANDS:
    query TEXT            Run a read query (bare selection sets are wrapped)
    exec DOC              Send a mutation document
    subscribe TEXT        Stream pushes for a subscription until interrupted
    set-node              Create or overwrite a node (--id, --type, --attr k=v)
    remove-nodes ID...    Delete nodes by id
    set-edge              Create or overwrite an edge (--from, --to, --type)
    remove-edges          Delete edges (--edge from:to:type, repeatable)
    set-type              Declare a node type (--name, --attr-def name:Type[!])
    commit                Persist pending mutations
    history               Print pushes recorded by subscribe --record
    discover              List graph services announced over mDNS
    encrypt VALUE         Encrypt a secret with GRAPHLINK_CONFIG_KEY
    doctor                Check config and connectivity
    version               Print the version

FLAGS:
    --config PATH         Config file (default: ./graphlink.yaml)
    --param k=v           Query parameter; "true"/"false" become booleans
    --json-param k=JSON   Parameter with a JSON value; needs --hint
    --hint k=Type         Declared type for a parameter
    --select FIELDS       Selection returned by the mutation helpers
    --id ID               Subscription id for subscribe (default: generated)
    --commit              Commit after a successful mutation
    --every SCHEDULE      Repeat a query ("30s", "@every 1m", "*/5 * * * *")
    --record PATH         Journal file for subscribe and history
    --limit N             Most recent entries printed by history
    --prune DURATION      Drop history entries older than DURATION

CONFIGURATION:
    Config file: ./graphlink.yaml
    Environment: GRAPHLINK_* variables override config

EXAMPLES:
    graphlink query 'nodes { id }'
    graphlink set-node --id alice --type Author --attr name="alice alison" --commit
    graphlink subscribe 'nodes { id }' --id feed --record feed.db
    graphlink query 'nodes { id }' --every 30s`)
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("GRAPHLINK_CONFIG"); p != "" {
		return p
	}
	return "graphlink.yaml"
}

// app bundles what every client command needs.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	bus     *eventbus.Bus
	cleanup []func()
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	rt := &app{cfg: cfg, log: log}
	rt.cleanup = append(rt.cleanup, func() { _ = logCloser() })

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	rt.cleanup = append(rt.cleanup, func() { _ = tracerShutdown(context.Background()) })

	rt.bus = eventbus.New(log)
	rt.cleanup = append(rt.cleanup, rt.bus.Close)
	rt.bus.SubscribeAll(func(_ context.Context, ev domain.Event) {
		log.Debug("event", "type", string(ev.Type), "endpoint", ev.Endpoint, "error", ev.Err)
	})
	return rt, nil
}

func (rt *app) close() {
	for i := len(rt.cleanup) - 1; i >= 0; i-- {
		rt.cleanup[i]()
	}
}

func runClientCommand(cmd string, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if cmd == "subscribe" {
		return runSubscribe(ctx, rt, flags)
	}
	if cmd == "query" && flags.Every != "" {
		conn, err := connect(ctx, rt)
		if err != nil {
			return err
		}
		defer conn.Close()
		return runPoll(ctx, conn, rt.log, flags, os.Stdout)
	}

	conn, err := connect(ctx, rt)
	if err != nil {
		return err
	}
	defer conn.Close()

	out, err := runOnce(ctx, conn, cmd, flags)
	if err != nil {
		return err
	}
	if out != nil {
		fmt.Println(string(out))
	}
	if flags.Commit && cmd != "commit" && cmd != "query" {
		if err := conn.Commit(ctx); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		fmt.Fprintln(os.Stderr, styleOK("committed"))
	}
	return nil
}

func runEncrypt(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: graphlink encrypt VALUE")
	}
	passphrase := os.Getenv("GRAPHLINK_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("GRAPHLINK_CONFIG_KEY must be set")
	}
	enc, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	fmt.Println("enc:" + enc)
	return nil
}

// exitCode maps error categories to process exit codes.
func exitCode(err error) int {
	switch domain.ErrorCodeOf(err) {
	case domain.CodeInvalidInput, domain.CodeParamType, domain.CodeSubscriptionDup:
		return 2
	case domain.CodeTransport, domain.CodeOffline, domain.CodeProtocol, domain.CodeReconnectLimit:
		return 3
	}
	return 1
}
