package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lanonasis/memory-client-go/auth"
	"github.com/viant/jsonrpc"
	"go.uber.org/zap"
)

// Preference selects how the Manager orders its fallback chain.
type Preference string

const (
	PreferWebSocket Preference = "websocket"
	PreferHTTP      Preference = "http"
	PreferAuto      Preference = "auto"
)

// Health summarizes the manager's view of its active channel.
type Health string

const (
	HealthHealthy      Health = "healthy"
	HealthDegraded     Health = "degraded"
	HealthDisconnected Health = "disconnected"
)

const (
	defaultFailureWindow    = time.Minute
	defaultFailureThreshold = 3
	defaultHealthInterval   = 30 * time.Second
	defaultRecoveryInterval = 5 * time.Minute
)

// ErrAllTransportsFailed is wrapped into the aggregate Connect failure.
var ErrAllTransportsFailed = errors.New("all transports failed")

// ManagerConfig configures a Manager. URLs are independently configurable per
// channel; a kind without a URL is excluded from the fallback chain.
type ManagerConfig struct {
	Preference       Preference
	WebSocketURL     string
	HTTPURL          string
	Headers          map[string]string
	Credentials      auth.Store
	Timeout          time.Duration
	Reconnect        ReconnectPolicy
	DisableRealTime  bool
	FailureWindow    time.Duration
	FailureThreshold int
	HealthInterval   time.Duration
	RecoveryInterval time.Duration
	Logger           *zap.Logger
}

func (c *ManagerConfig) init() {
	if c.Preference == "" {
		c.Preference = PreferAuto
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = defaultFailureWindow
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = defaultHealthInterval
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = defaultRecoveryInterval
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Validate checks the manager config.
func (c *ManagerConfig) Validate() error {
	switch c.Preference {
	case PreferWebSocket, PreferHTTP, PreferAuto:
	default:
		return &ConfigurationError{Field: "preference", Reason: fmt.Sprintf("unsupported value %q", c.Preference)}
	}
	if c.WebSocketURL == "" && c.HTTPURL == "" {
		return &ConfigurationError{Field: "url", Reason: "at least one transport URL is required"}
	}
	if c.Preference == PreferWebSocket && c.WebSocketURL == "" {
		return &ConfigurationError{Field: "websocketURL", Reason: "required for websocket preference"}
	}
	if c.Preference == PreferHTTP && c.HTTPURL == "" {
		return &ConfigurationError{Field: "httpURL", Reason: "required for http preference"}
	}
	return nil
}

// failureRecord tracks failures for one transport kind inside the sliding
// window. Entries older than the window reset rather than accumulate.
type failureRecord struct {
	count int
	first time.Time
	last  time.Time
}

// ManagerStatus is a point-in-time snapshot; it is recomputed on demand and
// never cached stale.
type ManagerStatus struct {
	ActiveTransport     string   `json:"activeTransport"`
	AvailableTransports []string `json:"availableTransports"`
	ConnectionHealth    Health   `json:"connectionHealth"`
	RealTimeCapable     bool     `json:"realTimeCapable"`
}

// Manager owns exactly one active Transport at a time, executes the fallback
// chain and runs the health-check and recovery timers. Each Manager owns its
// own timers; instances never share state.
type Manager struct {
	config  ManagerConfig
	logger  *zap.Logger
	factory func(Config) (Transport, error)
	now     func() time.Time

	mux       sync.Mutex
	active    Transport
	failures  map[Kind]*failureRecord
	exhausted bool
	closed    bool

	healthStop   chan struct{}
	recoveryStop chan struct{}

	connectMux sync.Mutex
}

// NewManager creates a transport manager.
func NewManager(config ManagerConfig) (*Manager, error) {
	config.init()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		config:   config,
		logger:   config.Logger.With(zap.String("component", "transport.Manager")),
		factory:  New,
		now:      time.Now,
		failures: make(map[Kind]*failureRecord),
	}, nil
}

// TransportOrder returns the fallback chain for the configured preference.
func (m *Manager) TransportOrder() []Kind {
	var order []Kind
	switch m.config.Preference {
	case PreferWebSocket:
		order = []Kind{KindWebSocket, KindHTTP}
	case PreferHTTP:
		order = []Kind{KindHTTP}
	default: // auto: real-time first unless disabled
		if m.config.DisableRealTime {
			order = []Kind{KindHTTP, KindWebSocket}
		} else {
			order = []Kind{KindWebSocket, KindHTTP}
		}
	}
	available := order[:0]
	for _, kind := range order {
		if m.urlFor(kind) != "" {
			available = append(available, kind)
		}
	}
	return available
}

func (m *Manager) urlFor(kind Kind) string {
	switch kind {
	case KindWebSocket:
		return m.config.WebSocketURL
	case KindHTTP:
		return m.config.HTTPURL
	default:
		return ""
	}
}

func (m *Manager) configFor(kind Kind) Config {
	return Config{
		Kind:        kind,
		URL:         m.urlFor(kind),
		Headers:     m.config.Headers,
		Credentials: m.config.Credentials,
		Reconnect:   m.config.Reconnect,
		Timeout:     m.config.Timeout,
		Logger:      m.config.Logger,
	}
}

// Connect tries each transport in preference order; the first success wins,
// clears that kind's failure record and starts health monitoring. When every
// kind fails the aggregate error is returned and no partial state is kept.
func (m *Manager) Connect(ctx context.Context) error {
	m.connectMux.Lock()
	defer m.connectMux.Unlock()

	m.mux.Lock()
	if m.closed {
		m.mux.Unlock()
		return &ConfigurationError{Field: "manager", Reason: "was closed"}
	}
	if m.active != nil && m.active.IsConnected() {
		m.mux.Unlock()
		return nil
	}
	m.mux.Unlock()

	order := m.TransportOrder()
	var errs []error
	for _, kind := range order {
		candidate, err := m.factory(m.configFor(kind))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := candidate.Connect(ctx); err != nil {
			_ = candidate.Close()
			errs = append(errs, err)
			m.logger.Debug("transport connect failed", zap.String("kind", kind.String()), zap.Error(err))
			continue
		}
		m.adopt(candidate)
		m.logger.Info("transport connected", zap.String("kind", kind.String()))
		return nil
	}
	errs = append([]error{ErrAllTransportsFailed}, errs...)
	return errors.Join(errs...)
}

// adopt swaps in the new active transport, disposing the previous one first so
// no orphaned socket survives, and (re)arms the background timers.
func (m *Manager) adopt(candidate Transport) {
	kind := candidate.Kind()
	m.mux.Lock()
	previous := m.active
	m.active = candidate
	delete(m.failures, kind)
	m.exhausted = false
	preferred := m.preferredKind()
	m.startHealthMonitorLocked()
	if kind != preferred {
		m.startRecoveryLoopLocked()
	} else {
		m.stopRecoveryLoopLocked()
	}
	m.mux.Unlock()
	if previous != nil && previous != candidate {
		_ = previous.Close()
	}
}

func (m *Manager) preferredKind() Kind {
	order := m.TransportOrder()
	if len(order) == 0 {
		return KindUnknown
	}
	return order[0]
}

// Send delegates to the active transport, connecting first if needed. Errors
// are returned, never thrown: a network-class failure additionally feeds the
// failure window and may trigger fallback.
func (m *Manager) Send(ctx context.Context, request *jsonrpc.Request) (*jsonrpc.Response, error) {
	m.mux.Lock()
	closed := m.closed
	active := m.active
	m.mux.Unlock()
	if closed {
		return nil, &ConfigurationError{Field: "manager", Reason: "was closed"}
	}
	if active == nil || !active.IsConnected() {
		if err := m.Connect(ctx); err != nil {
			return nil, fmt.Errorf("send failed: %w", err)
		}
		m.mux.Lock()
		active = m.active
		m.mux.Unlock()
	}
	response, err := active.Send(ctx, request)
	if err != nil {
		if IsConnectionError(err) {
			m.recordFailure(active.Kind())
			m.checkFallback(ctx)
		}
		return nil, err
	}
	m.mux.Lock()
	m.exhausted = false
	m.mux.Unlock()
	return response, nil
}

// recordFailure counts a failure for the kind inside the sliding window. A
// record older than the window restarts instead of incrementing.
func (m *Manager) recordFailure(kind Kind) {
	now := m.now()
	m.mux.Lock()
	defer m.mux.Unlock()
	record, ok := m.failures[kind]
	if !ok || now.Sub(record.first) > m.config.FailureWindow {
		m.failures[kind] = &failureRecord{count: 1, first: now, last: now}
		return
	}
	record.count++
	record.last = now
}

// shouldFallback reports whether the kind crossed the threshold with its
// oldest counted failure still inside the window.
func (m *Manager) shouldFallback(kind Kind) bool {
	m.mux.Lock()
	defer m.mux.Unlock()
	record, ok := m.failures[kind]
	if !ok {
		return false
	}
	if m.now().Sub(record.first) > m.config.FailureWindow {
		return false
	}
	return record.count >= m.config.FailureThreshold
}

// checkFallback switches to the next transport in the order once the active
// kind crosses the failure threshold. When no later transport connects, the
// degraded transport is left attached and the condition is logged.
func (m *Manager) checkFallback(ctx context.Context) {
	m.mux.Lock()
	active := m.active
	m.mux.Unlock()
	if active == nil || !m.shouldFallback(active.Kind()) {
		return
	}
	order := m.TransportOrder()
	index := -1
	for i, kind := range order {
		if kind == active.Kind() {
			index = i
			break
		}
	}
	for _, kind := range order[index+1:] {
		candidate, err := m.factory(m.configFor(kind))
		if err != nil {
			continue
		}
		if err := candidate.Connect(ctx); err != nil {
			_ = candidate.Close()
			m.logger.Debug("fallback transport failed", zap.String("kind", kind.String()), zap.Error(err))
			continue
		}
		m.logger.Warn("falling back",
			zap.String("from", active.Kind().String()),
			zap.String("to", kind.String()))
		m.adopt(candidate)
		return
	}
	// Nothing left after the current kind: keep serving best-effort on the
	// attached transport and report disconnected health until a check passes.
	m.logger.Error("all fallback transports failed", zap.String("active", active.Kind().String()))
	m.mux.Lock()
	m.exhausted = true
	m.mux.Unlock()
}

// startHealthMonitorLocked (re)starts the periodic connectivity check.
func (m *Manager) startHealthMonitorLocked() {
	m.stopHealthMonitorLocked()
	stop := make(chan struct{})
	m.healthStop = stop
	go m.healthLoop(stop)
}

func (m *Manager) healthLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.config.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mux.Lock()
			active := m.active
			m.mux.Unlock()
			if active == nil {
				continue
			}
			if active.IsConnected() {
				m.mux.Lock()
				m.exhausted = false
				m.mux.Unlock()
				continue
			}
			m.logger.Warn("health check failed", zap.String("kind", active.Kind().String()))
			m.recordFailure(active.Kind())
			m.checkFallback(context.Background())
		}
	}
}

func (m *Manager) stopHealthMonitorLocked() {
	if m.healthStop != nil {
		close(m.healthStop)
		m.healthStop = nil
	}
}

// startRecoveryLoopLocked arms the periodic retry of the preferred transport;
// it only runs while connected via a non-preferred kind.
func (m *Manager) startRecoveryLoopLocked() {
	if m.recoveryStop != nil {
		return
	}
	stop := make(chan struct{})
	m.recoveryStop = stop
	go m.recoveryLoop(stop)
}

func (m *Manager) recoveryLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.config.RecoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			preferred := m.preferredKind()
			m.mux.Lock()
			active := m.active
			m.mux.Unlock()
			if active == nil || active.Kind() == preferred {
				return
			}
			cfg := m.configFor(preferred)
			candidate, err := m.factory(cfg)
			if err != nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout())
			err = candidate.Connect(ctx)
			cancel()
			if err != nil {
				_ = candidate.Close()
				m.logger.Debug("recovery attempt failed", zap.String("kind", preferred.String()), zap.Error(err))
				continue
			}
			m.logger.Info("recovered preferred transport", zap.String("kind", preferred.String()))
			m.adopt(candidate)
			return
		}
	}
}

func (m *Manager) stopRecoveryLoopLocked() {
	if m.recoveryStop != nil {
		close(m.recoveryStop)
		m.recoveryStop = nil
	}
}

// IsConnected reports whether a live transport is attached.
func (m *Manager) IsConnected() bool {
	m.mux.Lock()
	active := m.active
	m.mux.Unlock()
	return active != nil && active.IsConnected()
}

// Active returns the currently attached transport, if any.
func (m *Manager) Active() Transport {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.active
}

// Status recomputes the manager snapshot on demand; it never fails.
func (m *Manager) Status() ManagerStatus {
	order := m.TransportOrder()
	available := make([]string, 0, len(order))
	for _, kind := range order {
		available = append(available, kind.String())
	}
	status := ManagerStatus{AvailableTransports: available, ConnectionHealth: HealthDisconnected}

	m.mux.Lock()
	active := m.active
	exhausted := m.exhausted
	recentFailures := false
	if active != nil {
		if record, ok := m.failures[active.Kind()]; ok {
			recentFailures = m.now().Sub(record.first) <= m.config.FailureWindow && record.count > 0
		}
	}
	m.mux.Unlock()

	if active == nil || !active.IsConnected() {
		return status
	}
	status.ActiveTransport = active.Kind().String()
	status.RealTimeCapable = active.Kind() == KindWebSocket
	switch {
	case exhausted:
		status.ConnectionHealth = HealthDisconnected
	case active.Kind() != m.preferredKind() || recentFailures:
		status.ConnectionHealth = HealthDegraded
	default:
		status.ConnectionHealth = HealthHealthy
	}
	return status
}

// TransportStatus exposes the active transport's own snapshot.
func (m *Manager) TransportStatus() Status {
	m.mux.Lock()
	active := m.active
	m.mux.Unlock()
	if active == nil {
		return Status{Kind: KindUnknown, KindName: KindUnknown.String()}
	}
	return active.Status()
}

// Close stops both timers, disconnects the active transport and clears the
// failure-tracking state. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mux.Lock()
	if m.closed {
		m.mux.Unlock()
		return nil
	}
	m.closed = true
	active := m.active
	m.active = nil
	m.failures = make(map[Kind]*failureRecord)
	m.exhausted = false
	m.stopHealthMonitorLocked()
	m.stopRecoveryLoopLocked()
	m.mux.Unlock()
	if active != nil {
		return active.Close()
	}
	return nil
}
