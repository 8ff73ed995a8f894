package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/matheus3301/fieldchat/internal/logging"
	"github.com/matheus3301/fieldchat/internal/status"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotConnected is returned by Emit while no namespace connection is up.
	ErrNotConnected = errors.New("socket.io: not connected")
	// ErrQueueFull is returned by Emit when the writer is not keeping up.
	ErrQueueFull = errors.New("socket.io: send queue full")

	errServerClose = errors.New("server closed the transport")
	errServerLeave = errors.New("server disconnected the namespace")
)

const (
	sendQueueSize   = 64
	readLimit       = 8 << 20
	defaultPingWait = 45 * time.Second
	closeTimeout    = time.Second
)

// Handler receives connection lifecycle callbacks and inbound events. Calls
// are made from the read goroutine, one at a time.
type Handler interface {
	HandleConnect()
	HandleDisconnect(reason string)
	HandleEvent(name string, payload json.RawMessage)
}

// Config configures a Client.
type Config struct {
	URL              string // http(s) or ws(s) base URL of the server
	UserID           string
	Token            string
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// Client is a Socket.IO v5 client over the Engine.IO v4 websocket transport.
// It keeps one connection up, reconnecting with exponential backoff.
type Client struct {
	cfg     Config
	machine *status.Machine
	logger  *zap.Logger

	mu      sync.Mutex
	handler Handler
	out     chan []byte // nil unless the namespace is connected

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a client. The state machine must be in Idle.
func New(cfg Config, machine *status.Machine, logger *zap.Logger) *Client {
	logger = logging.OrNop(logger)
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = 500 * time.Millisecond
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	return &Client{
		cfg:     cfg,
		machine: machine,
		logger:  logger,
		closed:  make(chan struct{}),
	}
}

// SetHandler installs the callback target. It must be called before Run.
func (c *Client) SetHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Emit queues an event for the writer. It never blocks on the network.
func (c *Client) Emit(event string, payload any) error {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out == nil {
		return ErrNotConnected
	}
	select {
	case c.out <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Connected reports whether the namespace connection is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out != nil
}

// Close stops Run. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Run connects and keeps reconnecting until ctx is cancelled or Close is
// called. Connection errors are logged, not returned.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectInitial
	b.MaxInterval = c.cfg.ReconnectMax
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		c.setState(status.Connecting)
		err := c.session(ctx, b)
		if ctx.Err() != nil {
			c.setState(status.Closed)
			return nil
		}
		c.setState(status.Disconnected)

		delay := b.NextBackOff()
		c.logger.Warn("connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("delay", delay),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			c.setState(status.Closed)
			return nil
		}
	}
}

// session runs one websocket connection from dial to close.
func (c *Client) session(ctx context.Context, b backoff.BackOff) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}
	var opts websocket.DialOptions
	if c.cfg.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.cfg.Token}}
	}
	conn, _, err := websocket.Dial(ctx, endpoint, &opts)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	hs, err := readHandshake(ctx, conn)
	if err != nil {
		return err
	}
	c.logger.Debug("engine.io open",
		zap.String("sid", hs.SID),
		zap.Int("ping_interval_ms", hs.PingInterval),
		zap.Int("ping_timeout_ms", hs.PingTimeout),
	)

	auth := map[string]any{"userId": c.cfg.UserID}
	if c.cfg.Token != "" {
		auth["token"] = c.cfg.Token
	}
	connectFrame, err := encodeConnect(auth)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, connectFrame); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	out := make(chan []byte, sendQueueSize)
	l := &link{conn: conn, out: out, pingWait: pingWait(hs)}

	// The loops outlive ctx so the namespace disconnect can still be written
	// on shutdown; conn.Close then ends the read loop.
	loopCtx, stopLoops := context.WithCancel(context.Background())
	defer stopLoops()
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error { return l.writeLoop(gctx) })
	g.Go(func() error { return c.readLoop(gctx, l, b) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-ctx.Done():
		}
		wctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = conn.Write(wctx, websocket.MessageText, disconnectFrame)
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return ctx.Err()
	})
	err = g.Wait()

	if c.detach() {
		reason := "transport close"
		if ctx.Err() != nil {
			reason = "client disconnect"
		} else if err != nil {
			reason = err.Error()
		}
		if h := c.getHandler(); h != nil {
			h.HandleDisconnect(reason)
		}
	}
	return err
}

func readHandshake(ctx context.Context, conn *websocket.Conn) (handshake, error) {
	var hs handshake
	_, frame, err := conn.Read(ctx)
	if err != nil {
		return hs, fmt.Errorf("read open packet: %w", err)
	}
	p, err := decodeFrame(frame)
	if err != nil {
		return hs, fmt.Errorf("read open packet: %w", err)
	}
	if p.eio != eioOpen {
		return hs, fmt.Errorf("expected open packet, got type %q", p.eio)
	}
	if err := json.Unmarshal(p.data, &hs); err != nil {
		return hs, fmt.Errorf("decode open packet: %w", err)
	}
	return hs, nil
}

// link is one live websocket with its write queue.
type link struct {
	conn     *websocket.Conn
	out      chan []byte
	pingWait time.Duration
}

func (l *link) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-l.out:
			if err := l.conn.Write(ctx, websocket.MessageText, frame); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

// read waits for the next frame. The server pings every pingInterval; a
// silent link is treated as dead after pingInterval+pingTimeout.
func (l *link) read(ctx context.Context) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, l.pingWait)
	defer cancel()
	_, frame, err := l.conn.Read(rctx)
	if err != nil {
		if ctx.Err() == nil && rctx.Err() != nil {
			return nil, fmt.Errorf("no ping within %s", l.pingWait)
		}
		return nil, fmt.Errorf("read: %w", err)
	}
	return frame, nil
}

func (l *link) send(ctx context.Context, frame []byte) error {
	select {
	case l.out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) readLoop(ctx context.Context, l *link, b backoff.BackOff) error {
	for {
		frame, err := l.read(ctx)
		if err != nil {
			return err
		}
		p, err := decodeFrame(frame)
		if err != nil {
			c.logger.Debug("skipping frame", zap.Error(err))
			continue
		}

		switch p.eio {
		case eioPing:
			if err := l.send(ctx, pongFrame); err != nil {
				return err
			}
		case eioClose:
			return errServerClose
		case eioNoop, eioPong, eioUpgrade, eioOpen:
		case eioMessage:
			if err := c.handleMessage(p, l, b); err != nil {
				return err
			}
		default:
			c.logger.Debug("unknown engine.io packet", zap.String("type", string(p.eio)))
		}
	}
}

func (c *Client) handleMessage(p packet, l *link, b backoff.BackOff) error {
	switch p.sio {
	case sioConnect:
		c.attach(l.out)
		b.Reset()
		c.setState(status.Connected)
		c.logger.Info("connected", zap.String("user_id", c.cfg.UserID))
		if h := c.getHandler(); h != nil {
			h.HandleConnect()
		}
	case sioDisconnect:
		return errServerLeave
	case sioConnectError:
		cerr := decodeConnectError(p.data)
		if h := c.getHandler(); h != nil {
			msg, _ := json.Marshal(cerr.Message)
			h.HandleEvent("connect_error", msg)
		}
		return cerr
	case sioEvent:
		name, payload, err := decodeEvent(p.data)
		if err != nil {
			c.logger.Warn("malformed event", zap.Error(err))
			return nil
		}
		if h := c.getHandler(); h != nil {
			h.HandleEvent(name, payload)
		}
	case sioAck:
	case sioBinaryEvent, sioBinaryAck:
		c.logger.Warn("binary packets are not supported, dropping")
	default:
		c.logger.Debug("unknown socket.io packet", zap.String("type", string(p.sio)))
	}
	return nil
}

func (c *Client) attach(out chan []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = out
}

// detach clears the write queue and reports whether it was attached.
func (c *Client) detach() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.out != nil
	c.out = nil
	return was
}

func (c *Client) getHandler() Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

func (c *Client) setState(to status.State) {
	if c.machine == nil || c.machine.Current() == to {
		return
	}
	if err := c.machine.Transition(to); err != nil {
		c.logger.Warn("state transition rejected", zap.Error(err))
	}
}

// endpoint builds the websocket URL for the Engine.IO v4 transport.
func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	} else if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	if c.cfg.UserID != "" {
		q.Set("userId", c.cfg.UserID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func pingWait(hs handshake) time.Duration {
	if hs.PingInterval <= 0 {
		return defaultPingWait
	}
	return time.Duration(hs.PingInterval+hs.PingTimeout) * time.Millisecond
}
