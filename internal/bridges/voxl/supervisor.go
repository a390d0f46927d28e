package voxl

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
)

// Connection states.
const (
	StateDisconnected = "disconnected"
	StateConnected    = "connected"
)

// Connection events.
const (
	eventConnectOK     = "connect_ok"
	eventConnectFailed = "connect_failed"
	eventConnLost      = "connection_lost"
)

// Supervisor defaults.
const (
	// DefaultCheckInterval is how often the loop looks at the connection.
	DefaultCheckInterval = time.Second

	// DefaultReconnectDelay is the pause before each reconnect attempt.
	DefaultReconnectDelay = 5 * time.Second
)

// Connector opens the broker connection.
type Connector interface {
	Connect(ctx context.Context) error
}

// SupervisorConfig holds configuration for the connection supervisor.
type SupervisorConfig struct {
	// Connector is asked to reconnect while the state is disconnected.
	Connector Connector

	// CheckInterval is the supervision cadence. Default: 1 second.
	CheckInterval time.Duration

	// ReconnectDelay is slept before each attempt. Default: 5 seconds.
	ReconnectDelay time.Duration

	// OnReconnectAttempt is called before each attempt (optional).
	OnReconnectAttempt func()

	// OnStateChange is called after every state transition (optional).
	OnStateChange func(state string)

	Logger Logger
}

// Supervisor tracks the broker connection state and keeps reconnecting while
// it is down. It never gives up; only Stop ends the loop.
//
// Thread Safety: All methods are safe for concurrent use.
type Supervisor struct {
	connector     Connector
	checkInterval time.Duration
	delay         time.Duration
	onAttempt     func()
	onChange      func(string)
	logger        Logger

	machine   *fsm.FSM
	connected atomic.Bool
	attempts  atomic.Uint64

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewSupervisor creates a supervisor in the disconnected state.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	s := &Supervisor{
		connector:     cfg.Connector,
		checkInterval: cfg.CheckInterval,
		delay:         cfg.ReconnectDelay,
		onAttempt:     cfg.OnReconnectAttempt,
		onChange:      cfg.OnStateChange,
		logger:        cfg.Logger,
	}
	if s.checkInterval <= 0 {
		s.checkInterval = DefaultCheckInterval
	}
	if s.delay <= 0 {
		s.delay = DefaultReconnectDelay
	}

	both := []string{StateDisconnected, StateConnected}
	s.machine = fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: eventConnectOK, Src: both, Dst: StateConnected},
			{Name: eventConnectFailed, Src: both, Dst: StateDisconnected},
			{Name: eventConnLost, Src: both, Dst: StateDisconnected},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.connected.Store(e.Dst == StateConnected)
			},
		},
	)
	return s
}

// HandleConnect records the outcome of a connection attempt. A nil err means
// the broker accepted the connection.
func (s *Supervisor) HandleConnect(err error) {
	if err != nil {
		s.fire(eventConnectFailed)
		return
	}
	s.fire(eventConnectOK)
}

// HandleDisconnect records a lost connection.
func (s *Supervisor) HandleDisconnect(_ error) {
	s.fire(eventConnLost)
}

func (s *Supervisor) fire(event string) {
	err := s.machine.Event(context.Background(), event)
	if err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) && s.logger != nil {
			s.logger.Warn("connection state transition rejected", "event", event, "error", err)
		}
		return
	}
	state := StateDisconnected
	if event == eventConnectOK {
		state = StateConnected
	}
	if s.logger != nil {
		s.logger.Info("broker connection state changed", "state", state)
	}
	if s.onChange != nil {
		s.onChange(state)
	}
}

// IsConnected reports whether the broker connection is up.
func (s *Supervisor) IsConnected() bool {
	return s.connected.Load()
}

// State returns the current state name.
func (s *Supervisor) State() string {
	if s.connected.Load() {
		return StateConnected
	}
	return StateDisconnected
}

// Attempts returns the number of reconnect attempts made.
func (s *Supervisor) Attempts() uint64 {
	return s.attempts.Load()
}

// Start spawns the supervision loop. Starting a running supervisor does
// nothing.
func (s *Supervisor) Start() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running || s.connector == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop cancels the loop, including an attempt in progress, and waits for it
// to exit. Safe to call multiple times and concurrently.
func (s *Supervisor) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.running = false
}

func (s *Supervisor) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.IsConnected() {
			continue
		}

		if s.logger != nil {
			s.logger.Info("broker disconnected, reconnecting", "delay", s.delay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.delay):
		}

		n := s.attempts.Add(1)
		if s.onAttempt != nil {
			s.onAttempt()
		}
		err := s.connector.Connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil && s.logger != nil {
			s.logger.Warn("broker reconnect failed", "attempt", n, "error", err)
		}
		s.HandleConnect(err)
	}
}
