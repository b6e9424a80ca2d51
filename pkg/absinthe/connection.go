package absinthe

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// transportEventKind tags the internal events the connection driver emits
// into the Session (spec.md §4.1): connected, disconnected(reason), or an
// inbound frame to dispatch.
type transportEventKind int

const (
	evConnected transportEventKind = iota
	evDisconnected
	evFrame
	evFatal
)

type transportEvent struct {
	kind         transportEventKind
	fr           *frame
	err          error
	unauthorized bool
}

// connectionDriver owns a single underlying WebSocket and its
// connect/disconnect/reconnect-with-backoff lifecycle (spec.md §4.1).
// Grounded on other_examples/82ca918b_InoiOy-go-graphql-client's
// websocketHandler (nhooyr.io/websocket + wsjson, single read loop) for the
// transport shape, and nasnet-community-nasnet-panel's
// internal/connection/manager_reconnect.go for the backoff-driven retry
// loop and 403-triggers-one-immediate-retry behavior.
type connectionDriver struct {
	cfg    *Config
	logger *zap.Logger
	events chan transportEvent

	mu         sync.Mutex
	conn       *websocket.Conn
	reconnectN int

	closed    atomic.Bool
	closeCh   chan struct{}
	closeOnce sync.Once
}

// errDriverClosed signals that connectLoop gave up because disconnect was
// called, not because of a real connection failure; run treats it as a
// quiet shutdown rather than a fatal error.
var errDriverClosed = errors.New("connection driver closed")

func newConnectionDriver(cfg *Config) *connectionDriver {
	return &connectionDriver{
		cfg:     cfg,
		logger:  cfg.logger(),
		events:  make(chan transportEvent, 8),
		closeCh: make(chan struct{}),
	}
}

// run dials, reads frames until disconnected, and reconnects with backoff,
// until ctx is cancelled or disconnect is called.
func (d *connectionDriver) run(ctx context.Context) {
	defer close(d.events)
	for {
		if ctx.Err() != nil || d.closed.Load() {
			return
		}

		conn, err := d.connectLoop(ctx)
		if err != nil {
			if errors.Is(err, errDriverClosed) {
				return
			}
			d.events <- transportEvent{kind: evFatal, err: err}
			return
		}

		// Re-check closed under mu: a disconnect that ran after connectLoop's
		// own check but before this install found no conn to close.
		d.mu.Lock()
		if d.closed.Load() {
			d.mu.Unlock()
			_ = conn.Close(websocket.StatusNormalClosure, "session closed")
			return
		}
		d.conn = conn
		d.mu.Unlock()
		d.events <- transportEvent{kind: evConnected}

		d.readLoop(ctx, conn)

		d.mu.Lock()
		d.conn = nil
		d.mu.Unlock()
	}
}

// connectLoop dials with exponential backoff. A 403 on the upgrade triggers
// one immediate re-evaluation of ConnectParams (to refresh a short-lived
// token) before falling back to the normal backoff schedule (spec.md §4.1,
// §7 UnauthorizedUpgrade).
func (d *connectionDriver) connectLoop(ctx context.Context) (*websocket.Conn, error) {
	b := newExponentialBackoffWithContext(ctx, d.cfg.Backoff)
	usedImmediateRetry := false

	for {
		select {
		case <-d.closeCh:
			return nil, errDriverClosed
		default:
		}

		conn, unauthorized, err := d.dial(ctx)
		if err == nil {
			// disconnect() may have been called while dial was in flight;
			// don't hand run() a live socket it will never be told to close.
			if d.closed.Load() {
				_ = conn.Close(websocket.StatusNormalClosure, "session closed")
				return nil, errDriverClosed
			}
			d.reconnectN++
			return conn, nil
		}
		if errors.Is(err, ErrConfigurationInvalid) {
			return nil, err
		}

		d.logger.Warn("connection attempt failed", zap.Error(err), zap.Bool("unauthorized", unauthorized))

		if unauthorized && !usedImmediateRetry {
			usedImmediateRetry = true
			d.reconnectN++
			continue
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.closeCh:
			return nil, errDriverClosed
		case <-time.After(wait):
		}
	}
}

func (d *connectionDriver) dial(ctx context.Context) (conn *websocket.Conn, unauthorized bool, err error) {
	params, err := resolveConnectParams(d.cfg.ConnectParams, d.reconnectN)
	if err != nil {
		return nil, false, err
	}

	dialURL, err := buildDialURL(d.cfg.URI, params)
	if err != nil {
		return nil, false, WrapError("dial", ErrConfigurationInvalid, err.Error())
	}

	opts := &websocket.DialOptions{HTTPHeader: d.cfg.Headers}
	conn, resp, err := websocket.Dial(ctx, dialURL, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusForbidden {
			return nil, true, WrapError("dial", ErrUnauthorizedUpgrade, err.Error())
		}
		return nil, false, WrapError("dial", ErrTransportClosed, err.Error())
	}
	return conn, false, nil
}

func (d *connectionDriver) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var fr frame
		err := wsjson.Read(ctx, conn, &fr)
		if err != nil {
			if ctx.Err() != nil || d.closed.Load() {
				return
			}
			d.events <- transportEvent{kind: evDisconnected, err: WrapError("readLoop", ErrTransportClosed, err.Error())}
			return
		}
		d.events <- transportEvent{kind: evFrame, fr: &fr}
	}
}

// send transmits a frame on the current connection. Returns ErrTransportClosed
// if no connection is currently live.
func (d *connectionDriver) send(ctx context.Context, fr *frame) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return ErrTransportClosed
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.receiveTimeout())
	defer cancel()
	if err := wsjson.Write(sendCtx, conn, fr); err != nil {
		return WrapError("send", ErrTransportClosed, err.Error())
	}
	return nil
}

// disconnect initiates an orderly local shutdown of the socket (spec.md
// §4.1 "disconnect()").
func (d *connectionDriver) disconnect() {
	d.closed.Store(true)
	d.closeOnce.Do(func() { close(d.closeCh) })
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
	}
}
