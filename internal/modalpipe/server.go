package modalpipe

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Server defaults.
const (
	// defaultServerBufferSize is used when ServerConfig.BufferSize is zero.
	defaultServerBufferSize = 64 * 1024

	// helloTimeout bounds how long a new client has to announce itself.
	helloTimeout = 2 * time.Second

	// writeTimeout bounds a write to one client; slow clients are dropped.
	writeTimeout = 500 * time.Millisecond

	// maxClientNameLen caps the announced client name.
	maxClientNameLen = 64
)

// ServerConfig describes an inbound endpoint.
type ServerConfig struct {
	// Name is the pipe name or full path.
	Name string

	// Location resolves short names. Default: /run/mpa.
	Location string

	// ServerName is recorded in the info file.
	ServerName string

	// Type is the advertised payload type (TypeText for broker payloads).
	Type string

	// BufferSize is the largest payload Write accepts.
	BufferSize int

	Logger Logger
}

// ServerStats holds per-endpoint counters.
type ServerStats struct {
	PacketsTx      uint64
	BytesTx        uint64
	ClientsDropped uint64
	Clients        int
}

// Server publishes packets to every attached pipe client.
//
// Thread Safety: All methods are safe for concurrent use.
type Server struct {
	cfg      ServerConfig
	dir      string
	listener *net.UnixListener

	clients   map[*serverClient]struct{}
	pending   map[net.Conn]struct{} // accepted, awaiting hello
	clientsMu sync.Mutex

	closed atomic.Bool
	wg     sync.WaitGroup
	once   sync.Once

	packetsTx      atomic.Uint64
	bytesTx        atomic.Uint64
	clientsDropped atomic.Uint64
}

type serverClient struct {
	name string
	conn net.Conn
}

// NewServer creates the pipe directory, advertises it, and starts accepting
// clients.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Location == "" {
		cfg.Location = "/run/mpa"
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultServerBufferSize
	}
	if cfg.Type == "" {
		cfg.Type = TypeText
	}

	dir, err := ResolvePath(cfg.Location, cfg.Name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating pipe directory: %w", err)
	}

	sockPath := filepath.Join(dir, socketFileName)
	// A previous run may have left its socket behind.
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket: %w", err)
	}

	listener, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: sockPath, Net: "unixpacket"})
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", sockPath, err)
	}

	info := Info{
		Name:       filepath.Base(filepath.Clean(dir)),
		Location:   dir,
		Type:       cfg.Type,
		ServerName: cfg.ServerName,
		SizeBytes:  cfg.BufferSize,
		ServerPID:  os.Getpid(),
	}
	if err := writeInfo(dir, info); err != nil {
		listener.Close()
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		dir:      dir,
		listener: listener,
		clients:  make(map[*serverClient]struct{}),
		pending:  make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return s, nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logWarn("pipe accept failed", "pipe", s.dir, "error", err)
			continue
		}

		s.clientsMu.Lock()
		if s.closed.Load() {
			s.clientsMu.Unlock()
			conn.Close()
			return
		}
		s.pending[conn] = struct{}{}
		s.clientsMu.Unlock()

		s.wg.Add(1)
		go s.handshake(conn)
	}
}

// handshake reads the client's name and attaches it. Each connection gets
// its own goroutine so a silent client cannot stall other registrations.
func (s *Server) handshake(conn net.Conn) {
	defer s.wg.Done()

	name, err := readHello(conn)

	s.clientsMu.Lock()
	delete(s.pending, conn)
	if err != nil || s.closed.Load() {
		s.clientsMu.Unlock()
		conn.Close()
		if err != nil && !s.closed.Load() {
			s.logWarn("pipe client handshake failed", "pipe", s.dir, "error", err)
		}
		return
	}
	s.clients[&serverClient{name: name, conn: conn}] = struct{}{}
	s.clientsMu.Unlock()

	s.logInfo("pipe client connected", "pipe", s.dir, "client", name)
}

func readHello(conn net.Conn) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(helloTimeout)); err != nil {
		return "", err
	}
	buf := make([]byte, maxClientNameLen)
	n, err := conn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("reading client name: %w", err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// Write sends p as one packet to every attached client. Having no clients is
// not an error. Clients that cannot keep up are disconnected.
func (s *Server) Write(p []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(p) > s.cfg.BufferSize {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(p), s.cfg.BufferSize)
	}
	if len(p) == 0 {
		return nil
	}

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	for sc := range s.clients {
		//nolint:errcheck // write error below drops the client
		sc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := sc.conn.Write(p); err != nil {
			s.logInfo("dropping pipe client", "pipe", s.dir, "client", sc.name, "error", err)
			sc.conn.Close()
			delete(s.clients, sc)
			s.clientsDropped.Add(1)
			continue
		}
		s.packetsTx.Add(1)
		s.bytesTx.Add(uint64(len(p)))
	}
	return nil
}

// Close disconnects every client, stops accepting, and removes the pipe
// directory. Safe to call multiple times.
func (s *Server) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		s.listener.Close()

		s.clientsMu.Lock()
		for sc := range s.clients {
			sc.conn.Close()
			delete(s.clients, sc)
		}
		for conn := range s.pending {
			conn.Close()
		}
		s.clientsMu.Unlock()

		s.wg.Wait()

		os.Remove(filepath.Join(s.dir, socketFileName))
		os.Remove(filepath.Join(s.dir, infoFileName))
		os.Remove(s.dir)
	})
	return nil
}

// ClientCount returns the number of attached clients.
func (s *Server) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

// Path returns the resolved pipe directory.
func (s *Server) Path() string {
	return s.dir
}

// Stats returns current operational statistics.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		PacketsTx:      s.packetsTx.Load(),
		BytesTx:        s.bytesTx.Load(),
		ClientsDropped: s.clientsDropped.Load(),
		Clients:        s.ClientCount(),
	}
}

func (s *Server) logInfo(msg string, keysAndValues ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Info(msg, keysAndValues...)
	}
}

func (s *Server) logWarn(msg string, keysAndValues ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Warn(msg, keysAndValues...)
	}
}
