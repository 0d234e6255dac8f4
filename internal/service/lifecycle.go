package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/user/llm-proxy-go/internal/models"
	"github.com/user/llm-proxy-go/internal/repository"
	"go.uber.org/zap"
)

// lifecycleState is one of the controller's three states.
type lifecycleState int

const (
	stateIdle lifecycleState = iota
	stateBound
	stateServing
)

// lifecycleCommand is a tagged message sent through the controller's
// mailbox channel.
type lifecycleCommand struct {
	kind   commandKind
	cfg    models.ProxyConfig
	result chan error
}

type commandKind int

const (
	cmdRestart commandKind = iota
	cmdShutdown
)

// Lifecycle owns the net.Listener and http.Server for the proxy ingress
// and drives Idle -> Bound -> Serving transitions from a single goroutine,
// so two control-plane calls can never race a listener bind/close. Every
// transition is written through to the status repository; at process
// start is_running is forced false in case a previous run crashed mid-serve.
type Lifecycle struct {
	handler http.Handler
	logger  *zap.Logger
	repo    repository.AppConfigRepository

	mu       sync.Mutex
	state    lifecycleState
	addr     string
	listener net.Listener
	server   *http.Server

	commands chan lifecycleCommand
	stopped  chan struct{}
}

// NewLifecycle creates a controller. Call SetHandler before the first
// Restart, then Run to start its goroutine.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		logger:   logger,
		state:    stateIdle,
		commands: make(chan lifecycleCommand, 8),
		stopped:  make(chan struct{}),
	}
}

// SetHandler attaches the HTTP handler the controller serves once bound.
// Exists to break the construction cycle between the lifecycle and the
// gin engine it ends up serving, which itself depends on the lifecycle
// for status/restart endpoints.
func (l *Lifecycle) SetHandler(handler http.Handler) {
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()
}

// Run starts the controller's owning goroutine. It returns once Shutdown
// is processed.
func (l *Lifecycle) Run() {
	defer close(l.stopped)
	for cmd := range l.commands {
		var err error
		switch cmd.kind {
		case cmdRestart:
			err = l.doRestart(cmd.cfg)
		case cmdShutdown:
			err = l.doShutdown()
		}
		if cmd.result != nil {
			cmd.result <- err
		}
		if cmd.kind == cmdShutdown {
			return
		}
	}
}

// Restart binds a new listener at cfg's address and begins serving,
// closing any previous listener first. Safe to call while already
// serving, to change the listen address.
func (l *Lifecycle) Restart(cfg models.ProxyConfig) error {
	result := make(chan error, 1)
	l.commands <- lifecycleCommand{kind: cmdRestart, cfg: cfg, result: result}
	return <-result
}

// Shutdown stops serving and terminates the controller's goroutine.
func (l *Lifecycle) Shutdown() error {
	result := make(chan error, 1)
	select {
	case l.commands <- lifecycleCommand{kind: cmdShutdown, result: result}:
	default:
		return fmt.Errorf("lifecycle command mailbox full")
	}
	err := <-result
	<-l.stopped
	return err
}

func (l *Lifecycle) doRestart(cfg models.ProxyConfig) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = l.server.Shutdown(ctx)
		l.server = nil
		l.listener = nil
		l.state = stateIdle
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		l.writeStatus(models.ProxyStatus{IsRunning: false, Addr: addr, LastError: err.Error()})
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	l.listener = ln
	l.state = stateBound
	l.addr = addr

	srv := &http.Server{
		Handler:      l.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	l.server = srv

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			if l.logger != nil {
				l.logger.Error("proxy listener stopped", zap.Error(err))
			}
		}
	}()

	l.state = stateServing
	now := time.Now().UTC()
	l.writeStatus(models.ProxyStatus{IsRunning: true, Addr: addr, StartedAt: &now})
	if l.logger != nil {
		l.logger.Info("proxy listening", zap.String("addr", addr))
	}
	return nil
}

func (l *Lifecycle) doShutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = l.server.Shutdown(ctx)
	}
	l.server = nil
	l.listener = nil
	l.state = stateIdle
	l.writeStatus(models.ProxyStatus{IsRunning: false, Addr: l.addr})
	return nil
}

// Status returns the controller's current view, without touching the
// repository (for a cheap in-process read).
func (l *Lifecycle) Status() models.ProxyStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return models.ProxyStatus{IsRunning: l.state == stateServing, Addr: l.addr}
}

func (l *Lifecycle) writeStatus(status models.ProxyStatus) {
	if l.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.repo.SaveProxyStatus(ctx, &status); err != nil && l.logger != nil {
		l.logger.Error("failed to persist proxy status", zap.Error(err))
	}
}

// WithStatusRepo attaches the repository used for status persistence.
func (l *Lifecycle) WithStatusRepo(repo repository.AppConfigRepository) *Lifecycle {
	l.repo = repo
	return l
}

// ResetStatusOnStartup forces is_running=false so a status row stranded
// by a previous crash never reports the proxy as running when nothing is
// actually listening.
func ResetStatusOnStartup(ctx context.Context, repo repository.AppConfigRepository) error {
	status, err := repo.LoadProxyStatus(ctx)
	if err != nil {
		return err
	}
	status.IsRunning = false
	return repo.SaveProxyStatus(ctx, status)
}
