package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/77mdias/barbershop-hub/auth"
	"github.com/77mdias/barbershop-hub/broker"
	"github.com/77mdias/barbershop-hub/config"
	"github.com/77mdias/barbershop-hub/event"
	"github.com/77mdias/barbershop-hub/push"
	"github.com/77mdias/barbershop-hub/realtime"
	"github.com/77mdias/barbershop-hub/relay"
)

const summaryTimeout = 10 * time.Second

func newWatchCmd(a *app) *cobra.Command {
	var (
		types     []string
		relayTabs bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print realtime events, polling the summary while push is unavailable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := parseTypes(types)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return a.watch(ctx, cmd.OutOrStdout(), filter, relayTabs)
		},
	}

	flags := cmd.Flags()
	flags.String("server-url", "http://localhost:8080", "push server base URL")
	flags.String("transport", "sse", "push transport: sse or websocket")
	flags.String("token", "", "session token")
	flags.Duration("poll-interval", realtime.DefaultPollInterval, "fallback polling interval")
	flags.StringSliceVar(&types, "types", []string{string(event.Wildcard)}, "event types to print")
	flags.BoolVar(&relayTabs, "relay", false, "share events with other rtwatch instances of the same user over Redis")

	for key, flag := range map[string]string{
		config.KeyServerURL:    "server-url",
		config.KeyTransport:    "transport",
		config.KeyToken:        "token",
		config.KeyPollInterval: "poll-interval",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}
	return cmd
}

func (a *app) watch(ctx context.Context, out io.Writer, filter []event.Type, relayTabs bool) error {
	cfg := a.cfg
	session := auth.NewTokenSession(cfg.Token)
	if !session.Authenticated() {
		a.logger.Warn().Msg("No valid session token, polling only")
	}

	opts := realtime.Options{
		Transport:    newTransport(cfg),
		Session:      session,
		MaxAttempts:  cfg.MaxReconnectAttempts,
		PollInterval: cfg.PollInterval,
		SeenCapacity: cfg.SeenCapacity,
		Logger:       &a.logger,
	}

	if relayTabs && session.Authenticated() {
		mb, err := broker.NewRedisBroker(cfg.RedisAddr, a.logger)
		if err != nil {
			a.logger.Warn().Err(err).Msg("Relay unavailable, continuing without it")
		} else {
			defer mb.Close()
			opts.Relay = relay.NewBrokerChannel(mb, relay.ChannelName(session.UserID()), a.logger)
		}
	}

	manager := realtime.NewManager(opts)
	printer := &printer{enc: json.NewEncoder(out)}
	summaries := push.NewSummaryClient(cfg.ServerURL, nil)

	unsubscribe := manager.Subscribe(realtime.Subscription{
		Events:  filter,
		Handler: printer.event,
		OnFallback: func() {
			if !session.Authenticated() {
				return
			}
			fetchCtx, cancel := context.WithTimeout(ctx, summaryTimeout)
			defer cancel()
			summary, err := summaries.Fetch(fetchCtx, session.Token())
			if err != nil {
				a.logger.Warn().Err(err).Msg("Summary poll failed")
				return
			}
			printer.summary(summary)
		},
	})
	defer unsubscribe()

	a.logger.Info().Str("tab_id", manager.TabID()).Str("transport", cfg.Transport).Msg("Watching")
	manager.Start(ctx)
	stopExpiry := refreshOnExpiry(session, manager)
	defer stopExpiry()
	<-ctx.Done()
	manager.Stop()
	return nil
}

// refreshOnExpiry makes the manager re-read the session once the token's exp
// passes, which closes the push connection.
func refreshOnExpiry(session *auth.TokenSession, manager interface{ Refresh() }) (stop func()) {
	expires := session.ExpiresAt()
	if expires.IsZero() {
		return func() {}
	}
	timer := time.AfterFunc(time.Until(expires), manager.Refresh)
	return func() { timer.Stop() }
}

func newTransport(cfg *config.Config) push.Transport {
	if cfg.Transport == "websocket" {
		return push.NewWebSocket(websocketURL(cfg.ServerURL) + "/ws")
	}
	return push.NewSSE(cfg.ServerURL+"/events", nil)
}

func websocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

func parseTypes(raw []string) ([]event.Type, error) {
	types := make([]event.Type, 0, len(raw))
	for _, r := range raw {
		t := event.Type(strings.TrimSpace(r))
		if t != event.Wildcard && !event.Known(t) {
			return nil, fmt.Errorf("%w: %q", event.ErrUnknownType, t)
		}
		types = append(types, t)
	}
	return types, nil
}

// printer writes one JSON document per line; handlers and fallbacks may run
// on different goroutines.
type printer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (p *printer) event(ev event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.enc.Encode(ev)
}

func (p *printer) summary(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.enc.Encode(map[string]any{"summary": v})
}
