package dpc

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/pixcache/cache"
	"github.com/hupe1980/pixcache/internal/hash"
	"github.com/hupe1980/pixcache/pixel"
)

// Server serves pixel caches to remote clients. Each authenticated
// connection owns at most one cache, allocated from the server's Manager
// under the server's own resource ceilings.
type Server struct {
	mgr    *cache.Manager
	secret []byte
	logger *slog.Logger

	nextConn atomic.Uint64
	closing  atomic.Bool
	done     chan struct{}

	mu       sync.Mutex
	ln       net.Listener
	conns    map[net.Conn]struct{}
	sessions map[uint64]map[uint64]*cache.Store // session key -> connection id -> store
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a server allocating caches from mgr. Clients must
// prove knowledge of secret.
func NewServer(mgr *cache.Manager, secret []byte, opts ...ServerOption) *Server {
	s := &Server{
		mgr:      mgr,
		secret:   secret,
		logger:   slog.New(slog.DiscardHandler),
		done:     make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
		sessions: make(map[uint64]map[uint64]*cache.Store),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe listens on addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections on ln. Concurrent connections are bounded by
// the accountant's worker slots; further clients wait in the accept
// backlog.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	defer close(s.done)

	var g errgroup.Group
	g.SetLimit(s.mgr.Accountant().Workers())

	s.logger.Info("distributed pixel cache listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			_ = g.Wait()
			if s.closing.Load() {
				return ErrServerClosed
			}
			return err
		}
		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		id := s.nextConn.Add(1)
		g.Go(func() error {
			defer s.untrack(conn)
			if err := s.handle(conn, id); err != nil && !errors.Is(err, io.EOF) && !s.closing.Load() {
				s.logger.Warn("connection failed", "conn", id, "remote", conn.RemoteAddr().String(), "error", err)
			}
			return nil
		})
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

// Sessions returns the number of open caches.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, byConn := range s.sessions {
		n += len(byConn)
	}
	return n
}

// Shutdown stops accepting, closes every connection and waits for the
// handlers to release their caches.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing.Store(true)
	ln := s.ln
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	_ = ln.Close()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) register(key, conn uint64, st *cache.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byConn, ok := s.sessions[key]
	if !ok {
		byConn = make(map[uint64]*cache.Store)
		s.sessions[key] = byConn
	}
	byConn[conn] = st
}

func (s *Server) unregister(key, conn uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions[key], conn)
	if len(s.sessions[key]) == 0 {
		delete(s.sessions, key)
	}
}

// session is the per-connection state.
type session struct {
	srv   *Server
	id    uint64
	key   uint64
	store *cache.Store
	r     *bufio.Reader
	w     *bufio.Writer
	buf   []byte
}

func (s *Server) handle(conn net.Conn, id uint64) error {
	ctx := context.Background()

	nonce := make([]byte, hash.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	if _, err := conn.Write(nonce); err != nil {
		return err
	}
	want := hash.SessionKey(s.secret, nonce)

	sess := &session{srv: s, id: id, key: want, r: bufio.NewReader(conn), w: bufio.NewWriter(conn)}
	defer sess.release(ctx)

	var got uint64
	if err := binary.Read(sess.r, binary.LittleEndian, &got); err != nil {
		return err
	}
	if got != want {
		s.logger.Warn("session key mismatch", "conn", id, "remote", conn.RemoteAddr().String())
		return nil
	}
	s.logger.Debug("session authenticated", "conn", id, "remote", conn.RemoteAddr().String())

	for {
		cmd, err := sess.r.ReadByte()
		if err != nil {
			return err
		}
		var key uint64
		if err := binary.Read(sess.r, binary.LittleEndian, &key); err != nil {
			return err
		}
		if key != want {
			return ErrRejected
		}

		var ok bool
		switch cmd {
		case cmdOpen:
			ok, err = sess.open(ctx)
		case cmdRead:
			ok, err = sess.read(ctx)
		case cmdWrite:
			ok, err = sess.write(ctx)
		case cmdDestroy:
			sess.release(ctx)
			ok, err = true, sess.status(statusOK)
		default:
			err = ErrRejected
		}
		if err != nil {
			return err
		}
		if !ok {
			if err := sess.status(statusFailure); err != nil {
				return err
			}
		}
		if err := sess.w.Flush(); err != nil {
			return err
		}
		if cmd == cmdDestroy {
			return nil
		}
	}
}

func (c *session) status(b byte) error { return c.w.WriteByte(b) }

func (c *session) open(ctx context.Context) (bool, error) {
	var req openRequest
	if err := binary.Read(c.r, binary.LittleEndian, &req); err != nil {
		return false, err
	}
	if c.store != nil {
		return false, nil
	}
	l, err := layoutFor(req.Channels)
	if err != nil || req.Columns > 1<<31 || req.Rows > 1<<31 {
		return false, nil
	}
	st, err := c.srv.mgr.Acquire(ctx, cache.Geometry{Columns: int(req.Columns), Rows: int(req.Rows), Layout: l})
	if err != nil {
		c.srv.logger.Warn("unable to open pixel cache", "conn", c.id, "error", err)
		return false, nil
	}
	c.store = st
	c.srv.register(c.key, c.id, st)
	c.srv.logger.Debug("pixel cache opened", "conn", c.id,
		"columns", req.Columns, "rows", req.Rows, "type", st.Type().String(),
		"bytes", humanize.IBytes(uint64(st.Geometry().Bytes())))
	return true, c.status(statusOK)
}

func (c *session) region(req regionRequest) (cache.Region, bool) {
	if c.store == nil || req.Width > 1<<31 || req.Height > 1<<31 ||
		req.X < 0 || req.X > 1<<31 || req.Y < 0 || req.Y > 1<<31 {
		return cache.Region{}, false
	}
	r := cache.Rect(int(req.X), int(req.Y), int(req.Width), int(req.Height))
	if r.Empty() || !r.Inside(c.store.Columns(), c.store.Rows()) {
		return cache.Region{}, false
	}
	if req.Length != uint64(c.store.Geometry().Samples(r))*pixel.SampleSize {
		return cache.Region{}, false
	}
	return r, true
}

func (c *session) scratch(n int) []byte {
	if cap(c.buf) < n {
		c.buf = make([]byte, n)
	}
	return c.buf[:n]
}

func (c *session) read(ctx context.Context) (bool, error) {
	var req regionRequest
	if err := binary.Read(c.r, binary.LittleEndian, &req); err != nil {
		return false, err
	}
	r, ok := c.region(req)
	if !ok {
		return false, nil
	}
	pix := make([]pixel.Quantum, c.store.Geometry().Samples(r))
	if err := c.store.ReadRegion(ctx, r, pix); err != nil {
		c.srv.logger.Warn("read failed", "conn", c.id, "region", r.String(), "error", err)
		return false, nil
	}
	if err := c.srv.mgr.Accountant().AcquireIO(ctx, int(req.Length)); err != nil {
		return false, err
	}
	payload := c.scratch(int(req.Length))
	encodeQuanta(payload, pix)
	if err := c.status(statusOK); err != nil {
		return false, err
	}
	_, err := c.w.Write(payload)
	return true, err
}

func (c *session) write(ctx context.Context) (bool, error) {
	var req regionRequest
	if err := binary.Read(c.r, binary.LittleEndian, &req); err != nil {
		return false, err
	}
	r, ok := c.region(req)
	if !ok {
		// The payload cannot be skipped safely; drop the connection.
		return false, ErrRejected
	}
	payload := c.scratch(int(req.Length))
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return false, err
	}
	if err := c.srv.mgr.Accountant().AcquireIO(ctx, len(payload)); err != nil {
		return false, err
	}
	pix := make([]pixel.Quantum, len(payload)/pixel.SampleSize)
	decodeQuanta(pix, payload)
	if err := c.store.WriteRegion(ctx, r, pix); err != nil {
		c.srv.logger.Warn("write failed", "conn", c.id, "region", r.String(), "error", err)
		return false, nil
	}
	return true, c.status(statusOK)
}

func (c *session) release(ctx context.Context) {
	if c.store == nil {
		return
	}
	c.srv.unregister(c.key, c.id)
	if err := c.store.Close(ctx); err != nil {
		c.srv.logger.Warn("unable to close pixel cache", "conn", c.id, "error", err)
	}
	c.store = nil
}
