package local

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/viant/afs"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

const stopGracePeriod = 5 * time.Second

// readiness markers the server prints once it accepts connections.
var readinessMarkers = []string{"ready", "listening"}

// ConnectionStatus is an on-demand snapshot of the local server connection.
type ConnectionStatus struct {
	IsConnected        bool       `json:"isConnected"`
	ConnectionAttempts int        `json:"connectionAttempts"`
	ServerPath         string     `json:"serverPath,omitempty"`
	LastConnected      *time.Time `json:"lastConnected,omitempty"`
	LastError          string     `json:"lastError,omitempty"`
}

// AutoConfigureResult is the structured outcome of AutoConfigure; detection
// failure is a result, not an exception.
type AutoConfigureResult struct {
	Configured bool   `json:"configured"`
	ServerPath string `json:"serverPath,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Option configures a Manager.
type Option func(m *Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithConfigStore overrides the on-disk config location.
func WithConfigStore(store *ConfigStore) Option {
	return func(m *Manager) {
		m.store = store
	}
}

// WithLogDir sets the directory holding per-instance server logs.
func WithLogDir(dir string) Option {
	return func(m *Manager) {
		m.logDir = dir
	}
}

// Manager owns the one live ServerInstance slot. Acquiring a new instance
// always disposes the previous one first.
type Manager struct {
	logger *zap.Logger
	fs     afs.Service
	store  *ConfigStore
	logDir string

	mux           sync.Mutex
	config        Config
	instance      *ServerInstance
	attempts      int
	lastConnected time.Time
	lastErr       error
	starting      bool
	startCh       chan struct{}
	closed        bool
}

// NewManager creates a local server manager, loading any persisted config.
func NewManager(ctx context.Context, options ...Option) (*Manager, error) {
	m := &Manager{
		logger: zap.NewNop(),
		fs:     afs.New(),
	}
	for _, option := range options {
		option(m)
	}
	if m.store == nil {
		m.store = NewConfigStore("")
	}
	if m.logDir == "" {
		m.logDir = filepath.Join(filepath.Dir(m.store.URL()), "logs")
	}
	config, err := m.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	m.config = config
	m.logger = m.logger.With(zap.String("component", "local.Manager"))
	return m, nil
}

// Config returns a copy of the current config.
func (m *Manager) Config() Config {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.config
}

// UpdateConfig applies a partial update; the merged config is validated
// before it replaces the current one and is persisted.
func (m *Manager) UpdateConfig(ctx context.Context, update ConfigUpdate) error {
	m.mux.Lock()
	merged, err := m.config.merge(update)
	if err != nil {
		m.mux.Unlock()
		return err
	}
	m.config = merged
	m.mux.Unlock()
	return m.store.Save(ctx, merged)
}

// AutoConfigure detects the server entry point and persists a config built
// from it. Failures come back as a structured result with a readable reason.
func (m *Manager) AutoConfigure(ctx context.Context) *AutoConfigureResult {
	path := m.DetectServerPath(ctx)
	if path == "" {
		return &AutoConfigureResult{
			Configured: false,
			Reason:     "no embedded server entry point found in any candidate location",
		}
	}
	m.mux.Lock()
	config := m.config
	config.ServerPath = path
	config.ApplyDefaults()
	m.config = config
	m.mux.Unlock()
	if err := m.store.Save(ctx, config); err != nil {
		return &AutoConfigureResult{
			Configured: false,
			ServerPath: path,
			Reason:     fmt.Sprintf("failed to persist configuration: %v", err),
		}
	}
	m.logger.Info("auto-configured local server", zap.String("path", path))
	return &AutoConfigureResult{Configured: true, ServerPath: path}
}

// Start spawns the local server and waits for readiness. The wait is bounded
// by the connection timeout; a spawn failure or an exit before readiness sets
// the instance status to error and fails the call.
func (m *Manager) Start(ctx context.Context) error {
	m.mux.Lock()
	if m.closed {
		m.mux.Unlock()
		return &ConfigError{Field: "manager", Reason: "was closed"}
	}
	config := m.config
	m.mux.Unlock()
	if config.ServerPath == "" {
		return &ConfigError{Field: "serverPath", Reason: "is not configured; run auto-configure first"}
	}

	instance, err := m.spawn(config)
	if err != nil {
		return err
	}

	m.mux.Lock()
	previous := m.instance
	m.instance = instance
	m.mux.Unlock()
	previous.dispose()

	timeout := config.ConnectionTimeout()
	select {
	case <-instance.readyCh():
		instance.setStatus(StatusRunning)
		m.logger.Info("local server running",
			zap.Int("pid", instance.PID),
			zap.Int("port", instance.Port),
			zap.String("log", instance.LogPath))
		return nil
	case <-instance.exited:
		instance.setStatus(StatusError)
		err := &ProcessError{Op: "exited before readiness", PID: instance.PID, Err: instance.ExitError()}
		m.setLastError(err)
		return err
	case <-time.After(timeout):
		// The readiness marker never showed but the process is up; declare
		// running rather than killing a slow-booting server.
		if instance.Alive() {
			instance.setStatus(StatusRunning)
			m.logger.Warn("local server readiness signal missed, assuming running",
				zap.Int("pid", instance.PID), zap.Duration("timeout", timeout))
			return nil
		}
		instance.setStatus(StatusError)
		err := &ProcessError{Op: "readiness wait timed out", PID: instance.PID, Err: fmt.Errorf("no process after %v", timeout)}
		m.setLastError(err)
		return err
	case <-ctx.Done():
		instance.setStatus(StatusError)
		_ = instance.cmd.Process.Kill()
		err := &ProcessError{Op: "start canceled", PID: instance.PID, Err: ctx.Err()}
		m.setLastError(err)
		return err
	}
}

// spawn builds the command, wires its output into a fresh append-only log and
// launches it as a new instance in the starting state.
func (m *Manager) spawn(config Config) (*ServerInstance, error) {
	if err := os.MkdirAll(m.logDir, 0o755); err != nil {
		return nil, &ProcessError{Op: "create log dir", Err: err}
	}
	id := uuid.New().String()
	logPath := filepath.Join(m.logDir, defaultInstanceLogPrefix+id+".log")
	sink := &lumberjack.Logger{Filename: logPath, MaxSize: 20, MaxBackups: 2}

	name, args := serverCommand(config)
	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(),
		"MEMORY_SERVER_PORT="+strconv.Itoa(config.Port),
		"LOG_LEVEL="+config.LogLevel,
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = sink.Close()
		return nil, &ProcessError{Op: "pipe stdout", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = sink.Close()
		return nil, &ProcessError{Op: "pipe stderr", Err: err}
	}
	if err := cmd.Start(); err != nil {
		_ = sink.Close()
		return nil, &ProcessError{Op: "spawn", Err: err}
	}

	instance := &ServerInstance{
		ID:        id,
		PID:       cmd.Process.Pid,
		Port:      config.Port,
		StartTime: time.Now(),
		LogPath:   logPath,
		cmd:       cmd,
		logSink:   sink,
		exited:    make(chan struct{}),
		status:    StatusStarting,
		ready:     make(chan struct{}),
	}
	go instance.pump(stdout)
	go instance.pump(stderr)
	go func() {
		err := cmd.Wait()
		instance.mux.Lock()
		instance.exitErr = err
		instance.mux.Unlock()
		close(instance.exited)
		// An exit after running is a stop, not an error.
		if instance.Status() == StatusRunning {
			instance.setStatus(StatusStopped)
		}
	}()
	m.logger.Debug("spawned local server", zap.Int("pid", instance.PID), zap.String("log", logPath))
	return instance, nil
}

// Stop terminates the live instance: SIGTERM first, bounded wait, then a
// forced kill. The instance ends in the stopped state.
func (m *Manager) Stop(ctx context.Context) error {
	m.mux.Lock()
	instance := m.instance
	m.mux.Unlock()
	if instance == nil {
		return nil
	}
	if !instance.Alive() {
		instance.setStatus(StatusStopped)
		return nil
	}
	if err := instance.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = instance.cmd.Process.Kill()
	}
	select {
	case <-instance.exited:
	case <-time.After(stopGracePeriod):
		m.logger.Warn("local server ignored SIGTERM, killing", zap.Int("pid", instance.PID))
		_ = instance.cmd.Process.Kill()
		select {
		case <-instance.exited:
		case <-time.After(stopGracePeriod):
		}
	case <-ctx.Done():
		_ = instance.cmd.Process.Kill()
	}
	instance.setStatus(StatusStopped)
	if instance.logSink != nil {
		_ = instance.logSink.Close()
	}
	m.logger.Info("local server stopped", zap.Int("pid", instance.PID))
	return nil
}

// Verify reports whether the instance backing path is connectable: it must
// exist, be in the running state and pass an OS-level liveness probe. The
// starting, stopped and error states all report false.
func (m *Manager) Verify(path string) bool {
	m.mux.Lock()
	instance := m.instance
	configured := m.config.ServerPath
	m.mux.Unlock()
	if instance == nil {
		return false
	}
	if path != "" && path != configured {
		return false
	}
	if instance.Status() != StatusRunning {
		return false
	}
	return instance.Alive()
}

// ConnectLocal ensures a verified local server, starting one when needed.
// Concurrent callers coalesce onto a single in-flight start; every caller
// settles. Exactly one instance slot survives.
func (m *Manager) ConnectLocal(ctx context.Context) error {
	for {
		m.mux.Lock()
		if m.closed {
			m.mux.Unlock()
			return &ConfigError{Field: "manager", Reason: "was closed"}
		}
		if m.instance != nil && m.instance.Status() == StatusRunning && m.instance.Alive() {
			m.mux.Unlock()
			return nil
		}
		if m.starting {
			waitCh := m.startCh
			m.mux.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-waitCh:
				continue
			}
		}
		m.starting = true
		m.startCh = make(chan struct{})
		m.mux.Unlock()

		err := m.connectOnce(ctx)

		m.mux.Lock()
		m.starting = false
		close(m.startCh)
		m.attempts++
		if err != nil {
			m.lastErr = err
		} else {
			m.lastConnected = time.Now()
			m.lastErr = nil
		}
		m.mux.Unlock()
		return err
	}
}

func (m *Manager) connectOnce(ctx context.Context) error {
	m.mux.Lock()
	config := m.config
	m.mux.Unlock()
	if config.ServerPath == "" {
		result := m.AutoConfigure(ctx)
		if !result.Configured {
			return &ConfigError{Field: "serverPath", Reason: result.Reason}
		}
	}
	var err error
	for attempt := 1; attempt <= config.RetryAttempts; attempt++ {
		if err = m.Start(ctx); err == nil {
			return nil
		}
		var configErr *ConfigError
		if errors.As(err, &configErr) || ctx.Err() != nil {
			return err
		}
		m.logger.Debug("start attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	return err
}

// Status returns a consistent snapshot; it never fails, even mid-failure.
func (m *Manager) Status() ConnectionStatus {
	m.mux.Lock()
	defer m.mux.Unlock()
	status := ConnectionStatus{
		ConnectionAttempts: m.attempts,
		ServerPath:         m.config.ServerPath,
	}
	if m.instance != nil && m.instance.Status() == StatusRunning && m.instance.Alive() {
		status.IsConnected = true
	}
	if !m.lastConnected.IsZero() {
		connected := m.lastConnected
		status.LastConnected = &connected
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	return status
}

// Instance returns the current server instance, if any.
func (m *Manager) Instance() *ServerInstance {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.instance
}

func (m *Manager) setLastError(err error) {
	m.mux.Lock()
	m.lastErr = err
	m.mux.Unlock()
}

// Close stops the live instance and refuses further starts. Safe to call
// more than once.
func (m *Manager) Close() error {
	m.mux.Lock()
	if m.closed {
		m.mux.Unlock()
		return nil
	}
	m.closed = true
	m.mux.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 2*stopGracePeriod)
	defer cancel()
	return m.Stop(ctx)
}

// serverCommand resolves the executable and arguments for the entry point:
// JavaScript entry points run under node, anything else executes directly.
func serverCommand(config Config) (string, []string) {
	args := []string{"--port", strconv.Itoa(config.Port), "--log-level", config.LogLevel}
	if strings.HasSuffix(config.ServerPath, ".js") || strings.HasSuffix(config.ServerPath, ".mjs") {
		return "node", append([]string{config.ServerPath}, args...)
	}
	return config.ServerPath, args
}

// pump copies one process stream into the instance log, line-buffered, and
// fires the readiness signal when a marker shows up.
func (i *ServerInstance) pump(stream io.Reader) {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		_, _ = i.logSink.Write([]byte(line + "\n"))
		if i.Status() == StatusStarting && isReadinessLine(line) {
			i.signalReady()
		}
	}
}

func isReadinessLine(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range readinessMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
