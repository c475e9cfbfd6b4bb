package dpc

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/pixcache/cache"
	"github.com/hupe1980/pixcache/exception"
	"github.com/hupe1980/pixcache/internal/hash"
	"github.com/hupe1980/pixcache/internal/resource"
	"github.com/hupe1980/pixcache/pixel"
)

// Client opens pixel caches on dpc servers. It implements cache.Remote.
type Client struct {
	hosts  []string
	secret []byte
	dialer net.Dialer
	acct   *resource.Accountant
	logger *slog.Logger
	next   atomic.Uint64
}

var _ cache.Remote = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDialTimeout bounds connection setup.
func WithDialTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.dialer.Timeout = d
	}
}

// WithAccountant applies the accountant's IO rate limit to transfers.
func WithAccountant(a *resource.Accountant) ClientOption {
	return func(c *Client) {
		c.acct = a
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client that spreads sessions over hosts round-robin.
func NewClient(hosts []string, secret []byte, opts ...ClientOption) *Client {
	c := &Client{
		hosts:  hosts,
		secret: secret,
		dialer: net.Dialer{Timeout: 10 * time.Second},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) pick() string {
	if len(c.hosts) == 0 {
		return net.JoinHostPort("127.0.0.1", fmt.Sprint(DefaultPort))
	}
	return c.hosts[(c.next.Add(1)-1)%uint64(len(c.hosts))]
}

// Open authenticates against the next host and opens a cache there.
func (c *Client) Open(ctx context.Context, columns, rows, channels int) (cache.RemoteSession, error) {
	host := c.pick()
	conn, err := c.dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, exception.Wrap(exception.ErrCache, "DistributedPixelCache", host, err)
	}

	s := &clientSession{
		client:   c,
		host:     host,
		conn:     conn,
		r:        bufio.NewReader(conn),
		w:        bufio.NewWriter(conn),
		columns:  columns,
		channels: channels,
	}
	if err := s.handshake(ctx, openRequest{Columns: uint64(columns), Rows: uint64(rows), Channels: uint64(channels)}); err != nil {
		_ = conn.Close()
		return nil, exception.Wrap(exception.ErrCache, "DistributedPixelCache", host, err)
	}
	c.logger.Debug("remote pixel cache opened", "host", host, "columns", columns, "rows", rows)
	return s, nil
}

type clientSession struct {
	client   *Client
	host     string
	key      uint64
	columns  int
	channels int

	mu     sync.Mutex
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	buf    []byte
	closed bool
}

// bind applies ctx's deadline and cancellation to the connection.
func (s *clientSession) bind(ctx context.Context) func() {
	if d, ok := ctx.Deadline(); ok {
		_ = s.conn.SetDeadline(d)
	} else {
		_ = s.conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { _ = s.conn.SetDeadline(time.Now()) })
	return func() { stop() }
}

func (s *clientSession) handshake(ctx context.Context, req openRequest) error {
	defer s.bind(ctx)()

	nonce := make([]byte, hash.NonceSize)
	if _, err := io.ReadFull(s.r, nonce); err != nil {
		return err
	}
	s.key = hash.SessionKey(s.client.secret, nonce)
	var keyBuf [8]byte
	binary.LittleEndian.PutUint64(keyBuf[:], s.key)
	if _, err := s.w.Write(keyBuf[:]); err != nil {
		return err
	}
	if err := writeRequest(s.w, cmdOpen, s.key, &req); err != nil {
		return err
	}
	return s.finish()
}

// finish flushes the request and reads the status byte.
func (s *clientSession) finish() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	st, err := s.r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: connection closed by server", ErrRejected)
		}
		return err
	}
	if st != statusOK {
		return ErrRejected
	}
	return nil
}

func (s *clientSession) payload(n int) []byte {
	if cap(s.buf) < n {
		s.buf = make([]byte, n)
	}
	return s.buf[:n]
}

func (s *clientSession) request(r cache.Region, samples int) regionRequest {
	return regionRequest{
		X:      int64(r.X),
		Y:      int64(r.Y),
		Width:  uint64(r.Width),
		Height: uint64(r.Height),
		Length: uint64(samples * pixel.SampleSize),
	}
}

// ReadRegion fetches r from the server.
func (s *clientSession) ReadRegion(ctx context.Context, r cache.Region, dst []pixel.Quantum) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return exception.New(exception.ErrCache, "PixelCacheIsNotOpen", s.host)
	}
	defer s.bind(ctx)()

	n := r.Area() * s.channels
	req := s.request(r, n)
	if err := writeRequest(s.w, cmdRead, s.key, &req); err != nil {
		return s.fail("UnableToReadPixelCache", err)
	}
	if err := s.finish(); err != nil {
		return s.fail("UnableToReadPixelCache", err)
	}
	p := s.payload(int(req.Length))
	if _, err := io.ReadFull(s.r, p); err != nil {
		return s.fail("UnableToReadPixelCache", err)
	}
	if err := s.client.acct.AcquireIO(ctx, len(p)); err != nil {
		return err
	}
	decodeQuanta(dst[:n], p)
	return nil
}

// WriteRegion stores src at r on the server.
func (s *clientSession) WriteRegion(ctx context.Context, r cache.Region, src []pixel.Quantum) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return exception.New(exception.ErrCache, "PixelCacheIsNotOpen", s.host)
	}
	defer s.bind(ctx)()

	n := r.Area() * s.channels
	req := s.request(r, n)
	if err := s.client.acct.AcquireIO(ctx, int(req.Length)); err != nil {
		return err
	}
	if err := writeRequest(s.w, cmdWrite, s.key, &req); err != nil {
		return s.fail("UnableToWritePixelCache", err)
	}
	p := s.payload(int(req.Length))
	encodeQuanta(p, src[:n])
	if _, err := s.w.Write(p); err != nil {
		return s.fail("UnableToWritePixelCache", err)
	}
	if err := s.finish(); err != nil {
		return s.fail("UnableToWritePixelCache", err)
	}
	return nil
}

func (s *clientSession) fail(reason string, err error) error {
	return exception.Wrap(exception.ErrCache, reason, s.host, err)
}

// Close destroys the remote cache and closes the connection.
func (s *clientSession) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	stop := s.bind(ctx)
	err := writeRequest(s.w, cmdDestroy, s.key, nil)
	if err == nil {
		err = s.finish()
	}
	stop()
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return s.fail("UnableToDestroyPixelCache", err)
	}
	return nil
}
