package modalpipe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Client defaults.
const (
	// defaultReadBufferSize is used when ClientConfig.ReadBufferSize is zero.
	defaultReadBufferSize = 4096

	// defaultDialTimeout bounds a single connection attempt.
	defaultDialTimeout = 2 * time.Second

	// defaultReconnectInitial is the first backoff delay after a server drops.
	defaultReconnectInitial = 500 * time.Millisecond

	// defaultReconnectMax caps the backoff delay.
	defaultReconnectMax = 5 * time.Second
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ClientConfig describes one outbound channel: which pipe to read, what it
// must carry, and where to deliver the data.
type ClientConfig struct {
	// Channel is the caller's identifier for this connection. It is passed
	// back unchanged in every callback.
	Channel int

	// Name is the pipe name ("imu_apps") or full path ("/run/mpa/imu_apps/").
	Name string

	// BaseDir resolves short names. Default: /run/mpa.
	BaseDir string

	// ClientName is announced to the server when connecting.
	ClientName string

	// ExpectedType rejects servers advertising a different payload type.
	// Empty accepts any type.
	ExpectedType string

	// ReadBufferSize is the largest packet this client can receive.
	ReadBufferSize int

	// OnData receives each packet. The slice is only valid for the duration
	// of the call. Calls for one client are never concurrent.
	OnData func(channel int, data []byte)

	// OnConnect is called after every successful (re)connection.
	OnConnect func(channel int)

	// OnDisconnect is called when the server goes away.
	OnDisconnect func(channel int)

	// ReconnectMax caps the reconnect backoff. Default: 5s.
	ReconnectMax time.Duration

	Logger Logger
}

// ClientStats holds per-channel counters.
type ClientStats struct {
	PacketsRx       uint64
	BytesRx         uint64
	ReconnectsTotal uint64
	LastActivity    time.Time
	Connected       bool
}

// Client reads packets from one pipe server.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Callbacks run on the client's single receive goroutine.
//
// Auto-Reconnection:
//   - When the server goes away the client retries with exponential backoff
//     until Close is called. Type mismatches stop the retries.
type Client struct {
	cfg  ClientConfig
	dir  string
	conn net.Conn

	connMu    sync.RWMutex
	connected bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	packetsRx       atomic.Uint64
	bytesRx         atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64
}

// Open connects to the pipe server named in cfg and starts delivering data.
//
// Open fails when the name is invalid, no server is present, or the server
// advertises a payload type other than cfg.ExpectedType. Once open, a lost
// server is handled by reconnecting in the background.
func Open(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.BaseDir == "" {
		cfg.BaseDir = "/run/mpa"
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = defaultReconnectMax
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "modalpipe-client"
	}

	dir, err := ResolvePath(cfg.BaseDir, cfg.Name)
	if err != nil {
		return nil, err
	}

	if ctx == nil {
		ctx = context.Background()
	}

	conn, err := dial(ctx, dir, cfg.ExpectedType, cfg.ClientName)
	if err != nil {
		return nil, err
	}

	clientCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:       cfg,
		dir:       dir,
		conn:      conn,
		connected: true,
		ctx:       clientCtx,
		cancel:    cancel,
	}
	c.lastActivity.Store(time.Now().Unix())

	if cfg.OnConnect != nil {
		cfg.OnConnect(cfg.Channel)
	}

	c.wg.Add(1)
	go c.receiveLoop()

	return c, nil
}

// dial checks the server description and connects, announcing clientName.
func dial(ctx context.Context, dir, expectedType, clientName string) (net.Conn, error) {
	info, err := ReadInfo(dir)
	if err != nil {
		return nil, err
	}
	if expectedType != "" && info.Type != expectedType {
		return nil, fmt.Errorf("%w: %s carries %q, want %q", ErrTypeMismatch, dir, info.Type, expectedType)
	}

	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "unixpacket", filepath.Join(dir, socketFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrServerNotAvailable, err)
	}

	if _, err := conn.Write([]byte(clientName)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: announcing client: %w", ErrServerNotAvailable, err)
	}
	return conn, nil
}

// receiveLoop delivers packets until Close, reconnecting when the server drops.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, c.cfg.ReadBufferSize)

	for {
		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()

		n, err := conn.Read(buf)
		if err != nil || n == 0 {
			if c.isClosed() {
				return
			}
			c.handleDisconnect(err)
			if !c.reconnect() {
				return
			}
			continue
		}

		c.packetsRx.Add(1)
		c.bytesRx.Add(uint64(n))
		c.lastActivity.Store(time.Now().Unix())

		if c.cfg.OnData != nil {
			c.cfg.OnData(c.cfg.Channel, buf[:n])
		}
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()

	if !wasConnected {
		return
	}
	c.logInfo("pipe server disconnected", "pipe", c.dir, "channel", c.cfg.Channel, "error", err)
	if c.cfg.OnDisconnect != nil {
		c.cfg.OnDisconnect(c.cfg.Channel)
	}
}

// reconnect retries with exponential backoff. It returns false when the
// client was closed or the server became permanently unusable.
func (c *Client) reconnect() bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultReconnectInitial
	b.MaxInterval = c.cfg.ReconnectMax
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		conn, err := dial(c.ctx, c.dir, c.cfg.ExpectedType, c.cfg.ClientName)
		if err != nil {
			if errors.Is(err, ErrTypeMismatch) {
				return backoff.Permanent(err)
			}
			c.logDebug("pipe reconnect failed", "pipe", c.dir, "attempt", attempt, "error", err)
			return err
		}

		c.connMu.Lock()
		if c.isClosed() {
			c.connMu.Unlock()
			conn.Close()
			return backoff.Permanent(ErrClosed)
		}
		c.conn = conn
		c.connected = true
		c.connMu.Unlock()
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(b, c.ctx)); err != nil {
		if !c.isClosed() {
			c.logError("giving up on pipe", "pipe", c.dir, "error", err)
		}
		return false
	}

	c.reconnectsTotal.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	c.logInfo("pipe reconnected", "pipe", c.dir, "channel", c.cfg.Channel, "attempts", attempt)
	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect(c.cfg.Channel)
	}
	return true
}

func (c *Client) isClosed() bool {
	return c.ctx.Err() != nil
}

// Close stops the receive loop and waits for it to exit. Safe to call
// multiple times.
func (c *Client) Close() error {
	c.once.Do(func() {
		c.cancel()

		c.connMu.Lock()
		c.connected = false
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()

		c.wg.Wait()
	})
	return nil
}

// IsConnected reports whether the server is currently attached.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Channel returns the channel id this client was opened with.
func (c *Client) Channel() int {
	return c.cfg.Channel
}

// Path returns the resolved pipe directory.
func (c *Client) Path() string {
	return c.dir
}

// Stats returns current operational statistics.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		PacketsRx:       c.packetsRx.Load(),
		BytesRx:         c.bytesRx.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		Connected:       c.IsConnected(),
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Info(msg, keysAndValues...)
	}
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, keysAndValues ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Error(msg, keysAndValues...)
	}
}
