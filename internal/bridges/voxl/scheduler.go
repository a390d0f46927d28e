package voxl

import (
	"fmt"
	"sync"
	"time"
)

// Publish interval limits.
const (
	// DefaultPublishInterval is used when SchedulerConfig.Interval is zero.
	DefaultPublishInterval = time.Second

	// MinPublishInterval is the shortest accepted interval.
	MinPublishInterval = time.Second
)

// Publisher sends one message to the broker.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// SchedulerConfig holds configuration for the publish scheduler.
type SchedulerConfig struct {
	// Interval between drains. Default: 1 second. Minimum: 1 second.
	Interval time.Duration

	// Buffer is drained on every tick.
	Buffer *Buffer

	// Publisher receives each drained record.
	Publisher Publisher

	// OnPublished is called after each successful publish (optional).
	OnPublished func(Record)

	// OnPublishFailed is called when the publisher rejects a record
	// (optional). The record is dropped either way.
	OnPublishFailed func(Record, error)

	Logger Logger
}

// Scheduler drains the buffer at a fixed interval and publishes what it
// finds.
//
// Thread Safety: Start and Stop may be called from any goroutine. Stop waits
// for an in-flight tick to finish, and a later Start begins a new cycle.
type Scheduler struct {
	interval  time.Duration
	buffer    *Buffer
	publisher Publisher
	onOK      func(Record)
	onFail    func(Record, error)
	logger    Logger

	// lifecycleMu is held across the join in Stop so concurrent callers all
	// return after the loop has exited.
	lifecycleMu sync.Mutex
	running     bool
	done        chan struct{}
	wg          sync.WaitGroup
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Buffer == nil {
		return nil, fmt.Errorf("buffer is required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultPublishInterval
	}
	if interval < MinPublishInterval {
		return nil, fmt.Errorf("%w: %v is below %v", ErrInvalidInterval, interval, MinPublishInterval)
	}

	return &Scheduler{
		interval:  interval,
		buffer:    cfg.Buffer,
		publisher: cfg.Publisher,
		onOK:      cfg.OnPublished,
		onFail:    cfg.OnPublishFailed,
		logger:    cfg.Logger,
	}, nil
}

// Start spawns the publish loop. Starting a running scheduler does nothing.
func (s *Scheduler) Start() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running {
		return
	}
	s.done = make(chan struct{})
	s.running = true

	s.wg.Add(1)
	go s.loop(s.done)
}

// Stop signals the loop and waits for it to exit. Safe to call multiple
// times and concurrently.
func (s *Scheduler) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running {
		return
	}
	close(s.done)
	s.wg.Wait()
	s.running = false
}

// Running reports whether the publish loop is active.
func (s *Scheduler) Running() bool {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.running
}

// Interval returns the tick interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

func (s *Scheduler) loop(done <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick publishes one drained snapshot. A failed record is reported and
// dropped; the rest of the snapshot is still published.
func (s *Scheduler) tick() {
	for _, rec := range s.buffer.Drain() {
		if err := s.publisher.Publish(rec.Topic, rec.Payload, rec.QoS, false); err != nil {
			if s.logger != nil {
				s.logger.Warn("publish failed, dropping record",
					"topic", rec.Topic,
					"channel", rec.Channel,
					"error", err)
			}
			if s.onFail != nil {
				s.onFail(rec, err)
			}
			continue
		}
		if s.onOK != nil {
			s.onOK(rec)
		}
	}
}
