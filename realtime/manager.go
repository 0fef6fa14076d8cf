// Package realtime keeps a client ("tab") up to date with server-pushed
// events.
//
// A Manager owns at most one push connection. Failed connections are retried
// with capped exponential backoff; after MaxAttempts consecutive failures the
// manager settles in fallback mode and polls through the subscribers'
// fallback callbacks instead. Events received directly are relayed to sibling
// tabs of the same session, and every event id is dispatched at most once per
// tab whichever path it arrives on.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/77mdias/barbershop-hub/event"
	"github.com/77mdias/barbershop-hub/push"
	"github.com/77mdias/barbershop-hub/relay"
)

// Session is the authentication state a Manager connects with.
type Session interface {
	Authenticated() bool
	UserID() string
	Token() string
}

// Options configure a Manager. Only Transport and Session are needed for push
// delivery; without either the manager goes straight to fallback.
type Options struct {
	Transport push.Transport
	Session   Session
	// Relay links sibling tabs. Nil disables the cross-tab relay.
	Relay relay.Channel

	MaxAttempts  int
	PollInterval time.Duration
	// SeenCapacity bounds the remembered event ids. Zero selects
	// DefaultSeenCapacity, a negative value keeps every id.
	SeenCapacity int
	TabID        string
	// BackOff overrides the reconnect schedule of NewReconnectBackOff.
	BackOff backoff.BackOff
	Logger  *zerolog.Logger
}

// Manager is safe for concurrent use. Handlers and fallbacks run outside the
// manager's lock, possibly on different goroutines.
type Manager struct {
	transport    push.Transport
	session      Session
	relay        relay.Channel
	maxAttempts  int
	pollInterval time.Duration
	tabID        string
	logger       zerolog.Logger

	mu       sync.Mutex
	status   Status
	attempts int
	bo       backoff.BackOff
	registry registry
	seen     *seenSet
	ctx      context.Context
	cancel   context.CancelFunc
	// gen identifies the current connection; callbacks of older ones are ignored.
	gen    uint64
	stream push.Stream
	timer  *time.Timer
	poller *poller
}

func NewManager(opts Options) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.TabID == "" {
		opts.TabID = uuid.NewString()
	}
	if opts.BackOff == nil {
		opts.BackOff = NewReconnectBackOff()
	}

	var capacity uint64
	switch {
	case opts.SeenCapacity == 0:
		capacity = DefaultSeenCapacity
	case opts.SeenCapacity > 0:
		capacity = uint64(opts.SeenCapacity)
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Manager{
		transport:    opts.Transport,
		session:      opts.Session,
		relay:        opts.Relay,
		maxAttempts:  opts.MaxAttempts,
		pollInterval: opts.PollInterval,
		tabID:        opts.TabID,
		logger:       logger.With().Str("component", "realtime").Str("tab_id", opts.TabID).Logger(),
		status:       StatusConnecting,
		bo:           opts.BackOff,
		seen:         newSeenSet(capacity),
	}
}

// TabID returns the random identifier of this tab.
func (m *Manager) TabID() string {
	return m.tabID
}

// Status returns the current delivery mode.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Start mounts the manager: it joins the relay and either opens the push
// connection or, without a transport or an authenticated session, enters
// fallback. Start on a started manager is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.ctx, m.cancel = runCtx, cancel
	m.mu.Unlock()

	if m.relay != nil {
		inbox, err := m.relay.Listen(runCtx)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Cross-tab relay unavailable")
		} else {
			go m.listenRelay(inbox)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx != runCtx {
		return
	}
	m.beginLocked()
}

// Stop unmounts the manager: the connection is closed, a pending reconnect
// is cancelled and polling stops. Subscriptions are kept.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return
	}
	m.teardownLocked()
	m.cancel()
	m.ctx, m.cancel = nil, nil
	if m.poller != nil {
		m.poller.halt()
		m.poller = nil
	}
	m.status = StatusConnecting
	m.logger.Debug().Msg("Realtime manager stopped")
}

// Refresh re-reads the session. A signed-out session drops the connection and
// falls back to polling; a signed-in session in fallback tries push again.
// Call it when the session changes. A reconnect also re-reads the session and
// goes to fallback instead of dialing with a signed-out one.
func (m *Manager) Refresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return
	}

	if !m.signedInLocked() {
		m.teardownLocked()
		if m.status != StatusFallback {
			m.logger.Info().Msg("Session ended, closing push connection")
			m.setStatusLocked(StatusFallback)
		}
		return
	}
	if m.status == StatusFallback {
		m.beginLocked()
	}
}

// Subscribe registers sub and returns the function that removes it. When the
// manager is in fallback, sub.OnFallback runs once before Subscribe returns.
//
// Once unsubscribe returns, no dispatch or poll tick that starts afterwards
// calls sub. A call that already passed the subscription check on another
// goroutine may still run, and may start just after unsubscribe returns.
func (m *Manager) Subscribe(sub Subscription) (unsubscribe func()) {
	m.mu.Lock()
	e := m.registry.add(sub)
	immediate := m.status == StatusFallback
	m.mu.Unlock()

	if immediate {
		e.refresh()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.registry.remove(e.id)
			m.mu.Unlock()
		})
	}
}

func (m *Manager) beginLocked() {
	if m.transport == nil {
		m.logger.Info().Msg("Push transport unsupported, polling instead")
		m.setStatusLocked(StatusFallback)
		return
	}
	if !m.signedInLocked() {
		m.logger.Info().Msg("No authenticated session, polling instead")
		m.setStatusLocked(StatusFallback)
		return
	}

	m.attempts = 0
	m.bo.Reset()
	m.setStatusLocked(StatusConnecting)
	m.connectLocked()
}

func (m *Manager) signedInLocked() bool {
	return m.session != nil && m.session.Authenticated()
}

func (m *Manager) connectLocked() {
	m.gen++
	go m.run(m.ctx, m.gen, m.session.Token())
}

func (m *Manager) run(ctx context.Context, gen uint64, token string) {
	stream, err := m.transport.Connect(ctx, token)
	if err != nil {
		m.fail(gen, nil, err)
		return
	}
	if !m.opened(gen, stream) {
		_ = stream.Close()
		return
	}

	for {
		data, err := stream.Recv()
		if err != nil {
			m.fail(gen, stream, err)
			return
		}
		ev, err := event.Parse(data)
		if err != nil {
			m.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Dropping malformed event")
			continue
		}
		m.dispatch(ev, false)
	}
}

func (m *Manager) opened(gen uint64, stream push.Stream) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	m.stream = stream
	m.attempts = 0
	m.bo.Reset()
	m.setStatusLocked(StatusConnected)
	return true
}

func (m *Manager) fail(gen uint64, stream push.Stream, err error) {
	if stream != nil {
		_ = stream.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.stream = nil

	if !m.signedInLocked() {
		m.logger.Info().Err(err).Msg("Session ended, polling instead of reconnecting")
		m.setStatusLocked(StatusFallback)
		return
	}
	m.attempts++

	if m.attempts >= m.maxAttempts {
		m.logger.Warn().
			Err(err).
			Int("attempts", m.attempts).
			Msg("Push connection failed repeatedly, switching to polling")
		m.setStatusLocked(StatusFallback)
		return
	}

	delay := m.bo.NextBackOff()
	if delay == backoff.Stop {
		m.setStatusLocked(StatusFallback)
		return
	}
	m.setStatusLocked(StatusReconnecting)
	m.logger.Warn().
		Err(err).
		Int("attempt", m.attempts).
		Dur("delay", delay).
		Msg("Push connection lost, reconnecting")

	m.timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if gen != m.gen {
			return
		}
		m.timer = nil
		if !m.signedInLocked() {
			m.logger.Info().Msg("Session ended before reconnect, polling instead")
			m.setStatusLocked(StatusFallback)
			return
		}
		m.connectLocked()
	})
}

// teardownLocked closes the live connection and cancels a pending reconnect.
func (m *Manager) teardownLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.stream != nil {
		_ = m.stream.Close()
		m.stream = nil
	}
}

func (m *Manager) setStatusLocked(s Status) {
	if m.status == s {
		return
	}
	prev := m.status
	m.status = s
	m.logger.Debug().Str("from", string(prev)).Str("to", string(s)).Msg("Realtime status changed")

	switch {
	case s == StatusFallback:
		m.poller = startPoller(m.pollInterval, m.pollFallbacks)
	case prev == StatusFallback && m.poller != nil:
		m.poller.halt()
		m.poller = nil
	}
}

func (m *Manager) pollFallbacks() {
	m.mu.Lock()
	if m.status != StatusFallback {
		m.mu.Unlock()
		return
	}
	entries := m.registry.fallbacks()
	m.mu.Unlock()

	for _, e := range entries {
		e.refresh()
	}
}

func (m *Manager) listenRelay(inbox <-chan relay.Envelope) {
	for env := range inbox {
		if env.TabID == m.tabID {
			continue
		}
		m.dispatch(env.Event, true)
	}
}

// dispatch hands ev to every matching subscription unless its id was seen
// before. Events received directly are then relayed to sibling tabs.
func (m *Manager) dispatch(ev event.Event, relayed bool) {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return
	}
	if !m.seen.markNew(ev.ID) {
		m.mu.Unlock()
		m.logger.Debug().Str("event_id", ev.ID).Bool("relayed", relayed).Msg("Duplicate event dropped")
		return
	}
	targets := m.registry.match(ev.Type)
	ctx := m.ctx
	m.mu.Unlock()

	for _, e := range targets {
		e.deliver(ev)
	}

	if relayed || m.relay == nil {
		return
	}
	if err := m.relay.Post(ctx, relay.Envelope{TabID: m.tabID, Event: ev}); err != nil {
		m.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("Cross-tab relay failed")
	}
}
