// Package ipc implements the sample socket layer: a local byte-stream
// socket at a fixed path that clients connect to, identify their session
// on, and then receive raw sample payloads over. One session maps to
// exactly one receiving stream.
package ipc

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

const (
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 2 * time.Second
)

// Handler owns the sample socket and the per-session connections. Writes
// are driven by the manager's pipe drain; lost connections are reported
// through the OnLost callback so the manager can reap the session.
type Handler struct {
	mu       sync.Mutex
	logger   golog.Logger
	path     string
	listener *net.UnixListener
	conns    map[int64]*net.UnixConn
	onLost   func(sessionID int64)

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewHandler returns a handler for the socket at the given path. Call
// Listen to start accepting clients.
func NewHandler(path string, logger golog.Logger) *Handler {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &Handler{
		logger:     logger,
		path:       path,
		conns:      map[int64]*net.UnixConn{},
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
}

// OnLost sets the callback run when a session's socket closes from the
// client side. Must be set before Listen. The callback runs on the
// connection's goroutine without any handler lock held.
func (h *Handler) OnLost(fn func(sessionID int64)) {
	h.mu.Lock()
	h.onLost = fn
	h.mu.Unlock()
}

// Listen binds the socket path, opens it up to all local users and starts
// accepting clients. A stale socket file from a previous run is removed.
func (h *Handler) Listen() error {
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "cannot remove stale socket %q", h.path)
	}
	addr, err := net.ResolveUnixAddr("unix", h.path)
	if err != nil {
		return err
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return errors.Wrapf(err, "cannot listen on %q", h.path)
	}
	if err := os.Chmod(h.path, 0o777); err != nil {
		h.logger.Warnw("error setting socket permissions", "path", h.path, "error", err)
	}
	h.mu.Lock()
	h.listener = listener
	h.mu.Unlock()

	h.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(h.acceptLoop, h.activeBackgroundWorkers.Done)
	return nil
}

func (h *Handler) acceptLoop() {
	for {
		conn, err := h.listener.AcceptUnix()
		if err != nil {
			select {
			case <-h.cancelCtx.Done():
				return
			default:
			}
			h.logger.Warnw("accept error", "error", err)
			return
		}
		h.activeBackgroundWorkers.Add(1)
		utils.PanicCapturingGo(func() {
			defer h.activeBackgroundWorkers.Done()
			h.serveConn(conn)
		})
	}
}

// serveConn runs the session handshake and then watches the connection for
// client-side closure. The client identifies itself by writing its session
// id as a little-endian int32; the handler acks with one newline byte.
func (h *Handler) serveConn(conn *net.UnixConn) {
	if err := conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		utils.UncheckedError(conn.Close())
		return
	}
	var raw [4]byte
	if _, err := io.ReadFull(conn, raw[:]); err != nil {
		h.logger.Warnw("session handshake failed", "error", err)
		utils.UncheckedError(conn.Close())
		return
	}
	sessionID := int64(int32(binary.LittleEndian.Uint32(raw[:])))
	if sessionID <= 0 {
		h.logger.Warnw("rejecting bogus session id", "session", sessionID)
		utils.UncheckedError(conn.Close())
		return
	}
	utils.UncheckedError(conn.SetReadDeadline(time.Time{}))

	h.mu.Lock()
	if old, ok := h.conns[sessionID]; ok {
		h.logger.Warnw("replacing existing connection for session", "session", sessionID)
		utils.UncheckedError(old.Close())
	}
	h.conns[sessionID] = conn
	h.mu.Unlock()

	// the ack tells the client the session is ready to receive
	if _, err := conn.Write([]byte{'\n'}); err != nil {
		h.logger.Warnw("session handshake ack failed", "session", sessionID, "error", err)
		h.RemoveSession(sessionID)
		return
	}

	h.logger.Debugw("session connected", "session", sessionID)
	h.watch(conn, sessionID)
}

// watch blocks until the connection dies. Clients never send payload after
// the handshake, so any read result other than success means the socket is
// gone.
func (h *Handler) watch(conn *net.UnixConn, sessionID int64) {
	var scratch [1]byte
	for {
		if _, err := conn.Read(scratch[:]); err != nil {
			break
		}
	}

	h.mu.Lock()
	current := h.conns[sessionID] == conn
	if current {
		delete(h.conns, sessionID)
	}
	lost := h.onLost
	h.mu.Unlock()

	utils.UncheckedError(conn.Close())
	// only a client-side loss is reported; explicit removal is not
	if current && lost != nil {
		select {
		case <-h.cancelCtx.Done():
		default:
			h.logger.Debugw("lost session", "session", sessionID)
			lost(sessionID)
		}
	}
}

// Write delivers one payload on the session's socket.
func (h *Handler) Write(sessionID int64, payload []byte) bool {
	h.mu.Lock()
	conn, ok := h.conns[sessionID]
	h.mu.Unlock()
	if !ok {
		h.logger.Debugw("no socket for session", "session", sessionID)
		return false
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return false
	}
	if _, err := conn.Write(payload); err != nil {
		h.logger.Warnw("socket write failed", "session", sessionID, "error", err)
		return false
	}
	return true
}

// RemoveSession drops a session's socket. Removal is not reported through
// OnLost.
func (h *Handler) RemoveSession(sessionID int64) {
	h.mu.Lock()
	conn, ok := h.conns[sessionID]
	if ok {
		delete(h.conns, sessionID)
	}
	h.mu.Unlock()
	if ok {
		utils.UncheckedError(conn.Close())
	}
}

// PID translates a session to its peer process id.
func (h *Handler) PID(sessionID int64) (int, error) {
	h.mu.Lock()
	conn, ok := h.conns[sessionID]
	h.mu.Unlock()
	if !ok {
		return 0, errors.Errorf("no socket for session %d", sessionID)
	}
	return peerPID(conn)
}

// Close stops accepting, drops every connection and waits for the
// background workers.
func (h *Handler) Close() error {
	h.cancelFunc()
	h.mu.Lock()
	listener := h.listener
	conns := make([]*net.UnixConn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = map[int64]*net.UnixConn{}
	h.mu.Unlock()

	var err error
	if listener != nil {
		err = multierr.Combine(err, listener.Close())
	}
	for _, conn := range conns {
		err = multierr.Combine(err, conn.Close())
	}
	h.activeBackgroundWorkers.Wait()
	return err
}
