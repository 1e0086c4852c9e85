package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"graphlink/internal/adapter/graphclient"
	"graphlink/internal/adapter/journal"
	"graphlink/internal/adapter/transport"
	"graphlink/internal/domain"
	"graphlink/internal/infra/config"
	"graphlink/internal/usecase/querydoc"
	"graphlink/internal/usecase/reconnect"
)

// endpointFor builds the connect URL. Only the query auth mode puts the
// session token in the URL.
func endpointFor(c config.ClientConfig) string {
	token := ""
	if c.AuthMode == config.AuthModeQuery {
		token = c.SessionToken
	}
	return transport.Endpoint(c.Host, c.Path, token, c.Secure)
}

func clientOptions(rt *app) []graphclient.Option {
	c := rt.cfg.Client
	opts := []graphclient.Option{
		graphclient.WithLogger(rt.log),
		graphclient.WithStrictFrames(c.StrictFrames),
		graphclient.WithTransportOptions(
			transport.WithDialTimeout(c.DialTimeout),
			transport.WithWriteTimeout(c.WriteTimeout),
			transport.WithReadLimit(c.ReadLimit),
			transport.WithRateLimit(c.SendRate, c.SendBurst),
		),
	}
	if rt.bus != nil {
		opts = append(opts, graphclient.WithBus(rt.bus))
	}
	switch c.AuthMode {
	case config.AuthModeLogin:
		opts = append(opts, graphclient.WithAuth(graphclient.TypeLogin, c.SessionToken))
	case config.AuthModeToken:
		opts = append(opts, graphclient.WithAuth(graphclient.TypeToken, c.SessionToken))
	}
	return opts
}

func connect(ctx context.Context, rt *app) (*graphclient.Conn, error) {
	return graphclient.Dial(ctx, endpointFor(rt.cfg.Client), clientOptions(rt)...)
}

func usageError(format string, args ...any) error {
	return domain.NewDomainError("graphlink", domain.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// runOnce executes a single request/reply command and returns what to print.
func runOnce(ctx context.Context, conn *graphclient.Conn, cmd string, flags cliFlags) (json.RawMessage, error) {
	switch cmd {
	case "query":
		if len(flags.Args) != 1 {
			return nil, usageError("query takes exactly one TEXT argument")
		}
		return conn.Query(ctx, flags.Args[0], flags.Params)

	case "exec":
		if len(flags.Args) != 1 {
			return nil, usageError("exec takes exactly one DOC argument")
		}
		doc := flags.Args[0]
		if flags.Name != "" {
			// Treat the argument as a body and declare the parameters.
			built, err := querydoc.Build(querydoc.KindMutation, flags.Name, doc, flags.Hints, flags.Params)
			if err != nil {
				return nil, err
			}
			doc = built
		}
		return conn.Exec(ctx, doc, flags.Params)

	case "commit":
		if err := conn.Commit(ctx); err != nil {
			return nil, err
		}
		fmt.Fprintln(os.Stderr, styleOK("committed"))
		return nil, nil

	case "set-node":
		return conn.SetNode(ctx, domain.NodeInput{ID: flags.ID, Type: flags.Type, Values: flags.Attrs}, flags.Select)

	case "remove-nodes":
		return conn.RemoveNodes(ctx, flags.Args, flags.Select)

	case "set-edge":
		return conn.SetEdge(ctx, domain.EdgeInput{From: flags.From, To: flags.To, Type: flags.Type, Values: flags.Attrs}, flags.Select)

	case "remove-edges":
		return conn.RemoveEdges(ctx, flags.Edges, flags.Select)

	case "set-type":
		return conn.SetType(ctx, domain.TypeInput{Name: flags.Name, Attrs: flags.AttrDefs}, flags.Select)
	}
	return nil, usageError("unknown command %s", cmd)
}

// runSubscribe streams pushes until interrupted. With reconnect enabled, a
// dropped connection is re-dialed and the subscription re-registered under
// the same id.
func runSubscribe(ctx context.Context, rt *app, flags cliFlags) error {
	if len(flags.Args) != 1 {
		return usageError("subscribe takes exactly one TEXT argument")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	text := flags.Args[0]
	id := flags.ID
	if id == "" {
		id = graphclient.NewSubscriptionID()
	}
	var rec *recorder
	if flags.Record != "" {
		store, err := journal.Open(flags.Record)
		if err != nil {
			return err
		}
		defer store.Close()
		rec = &recorder{store: store, log: rt.log, id: id}
	}
	subscribeOn := func(ctx context.Context, conn *graphclient.Conn) error {
		_, err := conn.Subscribe(ctx, id, text, flags.Params,
			graphclient.WithOnData(func(data json.RawMessage) {
				fmt.Println(string(data))
				rec.data(data)
			}),
			graphclient.WithOnError(func(err error) {
				fmt.Fprintln(os.Stderr, styleWarn(err.Error()))
				rec.fail(err)
			}),
		)
		return err
	}

	conn, err := connect(ctx, rt)
	if err != nil {
		return err
	}
	if err := subscribeOn(ctx, conn); err != nil {
		conn.Close()
		return err
	}
	fmt.Fprintln(os.Stderr, styleOK("subscribed "+id))

	next := make(chan *graphclient.Conn, 1)
	exhausted := make(chan struct{}, 1)
	if rt.cfg.Reconnect.Enabled {
		r := rt.cfg.Reconnect
		policy := reconnect.New[*graphclient.Conn](
			func(ctx context.Context) (*graphclient.Conn, error) { return connect(ctx, rt) },
			reconnect.Settings{
				MaxAttempts:    r.MaxAttempts,
				BaseDelay:      r.BaseDelay,
				MaxDelay:       r.MaxDelay,
				BreakerTimeout: r.BreakerTimeout,
			},
			reconnect.WithBus(rt.bus),
			reconnect.WithLogger(rt.log),
		)
		policy.OnReconnect(func(c *graphclient.Conn) {
			if err := subscribeOn(ctx, c); err != nil {
				rt.log.Error("resubscribe failed", "subscription", id, "error", err)
				c.Close()
				return
			}
			select {
			case next <- c:
			case <-ctx.Done():
				c.Close()
			}
		})
		defer policy.Watch(ctx, rt.bus, conn.Endpoint())()
		defer rt.bus.Subscribe(domain.EventReconnectExhausted, func(context.Context, domain.Event) {
			select {
			case exhausted <- struct{}{}:
			default:
			}
		})()
	}

	lost := conn.Done()
	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return nil
		case c := <-next:
			conn, lost = c, c.Done()
			fmt.Fprintln(os.Stderr, styleOK("reconnected, resubscribed "+id))
		case <-exhausted:
			return domain.NewDomainError("graphlink subscribe", domain.ErrReconnectLimit, "")
		case <-lost:
			err := conn.Err()
			if !rt.cfg.Reconnect.Enabled {
				if errors.Is(err, domain.ErrClosedByCaller) {
					return nil
				}
				return err
			}
			fmt.Fprintln(os.Stderr, styleWarn("connection lost: "+err.Error()))
			lost = nil
		}
	}
}
