package lrcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"
)

// TickInterval is how often the Manager ticks every live session (spec
// §4.3: "~10 Hz").
const TickInterval = 100 * time.Millisecond

// recvBufferPool provides reusable receive buffers sized to the LRCP
// datagram ceiling, avoiding a fresh allocation per inbound packet.
//
// Pattern: gVisor netstack sync.Pool, as used by the teacher's
// bfd.PacketPool. The pool stores *[]byte to avoid an interface
// allocation on Get()/Put().
var recvBufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, MaxDatagramSize)
		return &buf
	},
}

// ErrNoPacketConn is returned by Run when the Manager was constructed
// without a bound socket.
var ErrNoPacketConn = errors.New("lrcp: manager has no packet connection")

// Manager owns the UDP socket for one LRCP listener and every session
// bound to it (spec §4.3 "Server"). All session access happens from the
// single goroutine running Run, so Manager needs no internal locking for
// its session map — only Sessions() (used by the admin/metrics surface
// from other goroutines) takes the mutex.
type Manager struct {
	conn      net.PacketConn
	appFunc   func() Application
	logger    *slog.Logger
	onDropped func(reason string)

	onReceived   func()
	onSent       func()
	onRetransmit func()

	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewManager constructs a Manager bound to conn. appFunc is called once
// per new session to obtain the Application that will consume its
// received bytes — a factory rather than a shared instance because
// LineApp is stateless, but a future Application implementation might not
// be.
func NewManager(conn net.PacketConn, appFunc func() Application, logger *slog.Logger) *Manager {
	return &Manager{
		conn:     conn,
		appFunc:  appFunc,
		logger:   logger.With(slog.String("component", "lrcp.manager")),
		sessions: make(map[int64]*Session),
	}
}

// SetDroppedHook registers a callback invoked whenever an inbound datagram
// is dropped, receiving a short reason string for metrics labeling. Nil by
// default.
func (m *Manager) SetDroppedHook(fn func(reason string)) { m.onDropped = fn }

// SetMetricsHooks registers callbacks for the admin/metrics surface,
// invoked whenever a datagram is accepted for dispatch, a session sends a
// packet, or a session retransmits after a timeout. Any argument may be
// nil. Must be called before Run.
func (m *Manager) SetMetricsHooks(onReceived, onSent, onRetransmit func()) {
	m.onReceived = onReceived
	m.onSent = onSent
	m.onRetransmit = onRetransmit
}

// Sessions returns the number of currently live sessions. Safe to call
// from any goroutine (used by the admin/status endpoint).
func (m *Manager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Run drains pending datagrams and then ticks every live session, once per
// TickInterval, until ctx is cancelled — a single-threaded cooperative
// loop (spec §4.3: "each iteration: drain all pending datagrams then call
// tick on every live session"). Everything reachable from dispatch and
// Tick runs on this one goroutine, so Session needs no internal locking.
// It returns nil on clean shutdown.
func (m *Manager) Run(ctx context.Context) error {
	if m.conn == nil {
		return ErrNoPacketConn
	}

	next := time.Now().Add(TickInterval)
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := m.conn.SetReadDeadline(next); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		m.drainPending(ctx)

		now := time.Now()
		m.tickAll(now)

		next = next.Add(TickInterval)
		if !next.After(now) {
			next = now.Add(TickInterval)
		}
	}
}

// drainPending reads and dispatches datagrams until the socket's read
// deadline — set by Run to the next tick boundary — is reached. Errors
// other than the deadline itself are logged and the read is retried.
func (m *Manager) drainPending(ctx context.Context) {
	for {
		err := m.recvOne()
		if err == nil {
			continue
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("recv error", slog.String("error", err.Error()))
	}
}

// recvOne performs a single receive-parse-dispatch cycle. The buffer from
// recvBufferPool is returned after dispatch regardless of outcome.
func (m *Manager) recvOne() error {
	bufp, _ := recvBufferPool.Get().(*[]byte)
	defer recvBufferPool.Put(bufp)

	n, addr, err := m.conn.ReadFrom(*bufp)
	if err != nil {
		return fmt.Errorf("recv: %w", err)
	}

	peer, ok := addr.(*net.UDPAddr)
	if !ok {
		m.drop("bad-addr")
		return nil
	}
	peerAddr, ok := netip.AddrFromSlice(peer.IP)
	if !ok {
		m.drop("bad-addr")
		return nil
	}
	peerAddr = peerAddr.Unmap()

	if m.onReceived != nil {
		m.onReceived()
	}
	m.dispatch((*bufp)[:n], netip.AddrPortFrom(peerAddr, uint16(peer.Port)))
	return nil
}

// dispatch implements the demultiplexing rules of spec §4.3: parse the
// datagram, reject malformed frames silently, create-or-reuse a session
// for connect, bounce a lone close for unknown ids, drop anything else
// addressed to an unknown id, and drop packets whose source address does
// not match the session's bound peer.
func (m *Manager) dispatch(raw []byte, peerAddr netip.AddrPort) {
	pkt, err := ParsePacket(raw)
	if err != nil {
		m.drop("parse-error")
		return
	}

	m.mu.Lock()
	sess, exists := m.sessions[pkt.SessionID]
	m.mu.Unlock()

	if pkt.Command == CommandConnect {
		if !exists {
			sess = m.createSession(pkt.SessionID, peerAddr)
		}
		if sess.PeerAddr() != peerAddr {
			m.drop("peer-mismatch")
			return
		}
		sess.Touch(time.Now())
		sess.OnConnect()
		return
	}

	if !exists {
		if pkt.Command != CommandClose {
			// Unknown session id: reply with a bare close, per spec §4.3,
			// so a stray peer learns to stop.
			m.sendClose(pkt.SessionID, peerAddr)
		}
		return
	}

	if sess.PeerAddr() != peerAddr {
		m.drop("peer-mismatch")
		return
	}

	sess.Touch(time.Now())
	switch pkt.Command {
	case CommandData:
		sess.OnData(pkt.Pos, pkt.Payload)
	case CommandAck:
		sess.OnAck(pkt.Length)
	case CommandClose:
		sess.OnClose()
	}
}

func (m *Manager) createSession(id int64, peerAddr netip.AddrPort) *Session {
	var app Application
	if m.appFunc != nil {
		app = m.appFunc()
	}
	sender := &managerSender{conn: m.conn, peer: peerAddr}
	sess := NewSession(id, peerAddr, sender, app, m.logger)
	sess.SetMetricsHooks(m.onSent, m.onRetransmit)

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	m.logger.Info("session created", slog.Int64("session_id", id), slog.String("peer", peerAddr.String()))
	return sess
}

func (m *Manager) sendClose(id int64, peerAddr netip.AddrPort) {
	pkt := &Packet{Command: CommandClose, SessionID: id}
	wire, err := pkt.Encode()
	if err != nil {
		return
	}
	_, _ = m.conn.WriteTo(wire, net.UDPAddrFromAddrPort(peerAddr))
}

func (m *Manager) drop(reason string) {
	if m.onDropped != nil {
		m.onDropped(reason)
	}
}

// tickAll calls Tick on every live session and removes any that closed as
// a result (spec §4.3: "reap expired or closed sessions").
func (m *Manager) tickAll(now time.Time) {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.mu.Lock()
		sess, ok := m.sessions[id]
		m.mu.Unlock()
		if !ok {
			continue
		}

		sess.Tick(now)

		if sess.Closed() {
			m.mu.Lock()
			delete(m.sessions, id)
			m.mu.Unlock()
			m.logger.Info("session reaped", slog.Int64("session_id", id))
		}
	}
}

// -------------------------------------------------------------------------
// managerSender — Sender backed by the Manager's shared socket
// -------------------------------------------------------------------------

// managerSender implements Sender by writing to a shared net.PacketConn
// addressed at a fixed peer, one per Session.
type managerSender struct {
	conn net.PacketConn
	peer netip.AddrPort
}

// SendPacket encodes pkt and writes it to the bound peer address.
func (s *managerSender) SendPacket(pkt *Packet) error {
	wire, err := pkt.Encode()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	_, err = s.conn.WriteTo(wire, net.UDPAddrFromAddrPort(s.peer))
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
