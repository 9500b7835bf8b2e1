package lrcp

import (
	"fmt"
	"log/slog"
	"net/netip"
	"time"
)

// -------------------------------------------------------------------------
// Tunables — spec §6.1
// -------------------------------------------------------------------------

// RetransmitTimeout is the time to wait before retransmitting
// unacknowledged data (spec §6.1: "Retransmit timeout: 3 s (default)").
// A package variable rather than a constant so the daemon can apply an
// operator-supplied override from config at startup, before any Manager
// is constructed.
var RetransmitTimeout = 3 * time.Second

// SessionExpiry is the time since the last valid peer packet after which a
// session is silently destroyed (spec §6.1: "Session expiry: 60 s").
var SessionExpiry = 60 * time.Second

// SendWindow is the maximum number of unacknowledged bytes the sender will
// keep in flight per retransmission burst (spec §6.1: "Send window: 4000
// bytes").
var SendWindow = 4000

// duplicateAckDebounce is the minimum gap between fast retransmits
// triggered by duplicate acks (spec §4.2: "more than a short debounce
// (~200ms) ago").
const duplicateAckDebounce = 200 * time.Millisecond

// -------------------------------------------------------------------------
// Collaborators
// -------------------------------------------------------------------------

// Sender transmits an encoded LRCP packet to a session's peer. The Manager
// implements this by wrapping the shared UDP socket with the session's
// bound peer address.
type Sender interface {
	SendPacket(pkt *Packet) error
}

// Application consumes bytes delivered to a session's receive buffer. The
// line-reversal application (lineapp.go) is the only implementation in
// this repository, but the interface keeps Session ignorant of what sits
// on top of the transport.
type Application interface {
	// Deliver is invoked synchronously whenever OnData accepts new
	// in-order bytes. Implementations read from s.RxBuffer(), consume
	// what they can, and call s.PushApplicationBytes for any reply — all
	// before Deliver returns, since Session work must stay bounded per
	// datagram (spec §5).
	Deliver(s *Session)
}

// -------------------------------------------------------------------------
// Session
// -------------------------------------------------------------------------

// Session is the per-peer transport state machine described in spec §3.1
// and §4.2. All methods are intended to be called from a single goroutine
// (the owning Manager's dispatch loop) — there is no internal locking.
type Session struct {
	id       int64
	peerAddr netip.AddrPort
	sender   Sender
	app      Application
	logger   *slog.Logger

	state State

	bytesReceived int64
	bytesAcked    int64
	txBuffer      []byte
	rxBuffer      []byte

	lastActivity   time.Time
	lastRetransmit time.Time

	// onSent and onRetransmit, if non-nil, are invoked by the Manager's
	// metrics wiring whenever this session writes a packet, or
	// specifically retransmits one after a timeout.
	onSent       func()
	onRetransmit func()
}

// NewSession constructs a Session bound to peerAddr, in StateOpen, with
// zeroed receive/send counters (spec §3.1).
func NewSession(id int64, peerAddr netip.AddrPort, sender Sender, app Application, logger *slog.Logger) *Session {
	now := time.Now()
	return &Session{
		id:             id,
		peerAddr:       peerAddr,
		sender:         sender,
		app:            app,
		logger:         logger.With(slog.Int64("session_id", id), slog.String("peer", peerAddr.String())),
		state:          StateOpen,
		lastActivity:   now,
		lastRetransmit: now,
	}
}

// ID returns the session's LRCP session identifier.
func (s *Session) ID() int64 { return s.id }

// PeerAddr returns the address this session is bound to.
func (s *Session) PeerAddr() netip.AddrPort { return s.peerAddr }

// Closed reports whether the session has reached the terminal state.
func (s *Session) Closed() bool { return s.state == StateClosed }

// RxBuffer returns the bytes received from the peer that the application
// has not yet consumed. Application implementations replace it via
// SetRxBuffer once they have consumed a prefix.
func (s *Session) RxBuffer() []byte { return s.rxBuffer }

// SetRxBuffer replaces the unconsumed receive buffer, typically with the
// remainder after an application has split off and processed a prefix.
func (s *Session) SetRxBuffer(b []byte) { s.rxBuffer = b }

// Touch records that a valid packet was just received from the peer
// (spec §4.3 step 7: "Update last_activity").
func (s *Session) Touch(now time.Time) { s.lastActivity = now }

// SetMetricsHooks registers callbacks invoked on packet send and on
// timeout-triggered retransmission, for the admin/metrics surface. Either
// argument may be nil.
func (s *Session) SetMetricsHooks(onSent, onRetransmit func()) {
	s.onSent = onSent
	s.onRetransmit = onRetransmit
}

// -------------------------------------------------------------------------
// Inbound operations — spec §4.2
// -------------------------------------------------------------------------

// OnConnect handles an inbound connect packet. Idempotent: replies with an
// ack of the current bytes_received regardless of how many connects have
// been seen for this id (spec §4.2, §8 invariant 5).
func (s *Session) OnConnect() {
	if s.state == StateClosed {
		s.sendClose()
		return
	}
	s.sendAck()
}

// OnData handles an inbound data packet. If pos matches bytes_received
// exactly, the payload is appended to rx_buffer, bytes_received advances,
// the application is given a chance to consume the new bytes, and an ack
// is sent. Otherwise (duplicate or gap) the payload is dropped and an ack
// of the current bytes_received is sent so the peer can resynchronize
// (spec §4.2: only strict in-order insertion is accepted, never gapped
// reordering).
func (s *Session) OnData(pos int64, payload []byte) {
	if s.state == StateClosed {
		s.sendClose()
		return
	}

	if pos == s.bytesReceived {
		s.rxBuffer = append(s.rxBuffer, payload...)
		s.bytesReceived += int64(len(payload))
		if s.app != nil {
			s.app.Deliver(s)
		}
	}
	s.sendAck()
}

// OnAck handles an inbound ack packet per spec §4.2.
func (s *Session) OnAck(length int64) {
	if s.state == StateClosed {
		s.sendClose()
		return
	}

	totalSent := s.bytesAcked + int64(len(s.txBuffer))

	switch {
	case length > totalSent:
		// The peer is acking bytes never sent: close the session.
		s.applyEvent(EventImpossibleAck, time.Now())

	case length <= s.bytesAcked:
		// Duplicate ack. Fast-retransmit if it's been a while.
		if len(s.txBuffer) > 0 && time.Since(s.lastRetransmit) > duplicateAckDebounce {
			s.transmitPending(time.Now())
		}

	default: // s.bytesAcked < length <= totalSent
		s.txBuffer = s.txBuffer[length-s.bytesAcked:]
		s.bytesAcked = length
		s.lastRetransmit = time.Now()
		if len(s.txBuffer) > 0 {
			s.transmitPending(time.Now())
		}
	}
}

// OnClose handles an inbound close packet: reply with close (idempotent)
// and destroy local state (spec §4.2).
func (s *Session) OnClose() {
	s.applyEvent(EventPeerClose, time.Now())
}

// Tick is called periodically (spec §4.3: "~10 Hz") by the owning Manager.
// It silently destroys expired sessions and retransmits unacked data past
// the retransmit timeout (spec §4.2).
func (s *Session) Tick(now time.Time) {
	if s.state == StateClosed {
		return
	}
	if now.Sub(s.lastActivity) > SessionExpiry {
		s.applyEvent(EventExpired, now)
		return
	}
	if len(s.txBuffer) > 0 && now.Sub(s.lastRetransmit) > RetransmitTimeout {
		if s.onRetransmit != nil {
			s.onRetransmit()
		}
		s.transmitPending(now)
	}
}

// PushApplicationBytes appends application-produced bytes to tx_buffer and
// attempts immediate transmission within the window (spec §4.2).
func (s *Session) PushApplicationBytes(b []byte) {
	if s.state == StateClosed {
		return
	}
	s.txBuffer = append(s.txBuffer, b...)
	s.transmitPending(time.Now())
}

// -------------------------------------------------------------------------
// Outbound helpers
// -------------------------------------------------------------------------

func (s *Session) sendAck() {
	s.send(&Packet{Command: CommandAck, SessionID: s.id, Length: s.bytesReceived})
}

func (s *Session) sendClose() {
	s.send(&Packet{Command: CommandClose, SessionID: s.id})
}

func (s *Session) send(pkt *Packet) {
	if err := s.sender.SendPacket(pkt); err != nil {
		s.logger.Warn("failed to send packet", slog.String("command", pkt.Command.String()), slog.Any("error", err))
		return
	}
	if s.onSent != nil {
		s.onSent()
	}
}

// applyEvent runs the FSM for event, executes the resulting actions, and
// updates s.state.
func (s *Session) applyEvent(event Event, now time.Time) {
	result := ApplyEvent(s.state, event)
	s.state = result.NewState
	for _, action := range result.Actions {
		switch action {
		case ActionSendClose:
			s.sendClose()
		case ActionDestroy:
			// No peer notification — spec §4.2: tick() "silently destroy
			// the session".
		}
	}
	if result.Changed {
		s.logger.Debug("session state transition",
			slog.String("event", event.String()),
			slog.String("from", result.OldState.String()),
			slog.String("to", result.NewState.String()),
			slog.Time("at", now),
		)
	}
}

// transmitPending walks tx_buffer from the head and emits one or more data
// packets covering at most SendWindow bytes, per spec §4.2 "Windowed
// transmission". Each packet's header length is computed exactly and raw
// bytes are packed greedily (1 wire char per unescaped byte, 2 for "/" and
// "\"), stopping when the next byte would not fit alongside the trailing
// "/". Used both for fresh application bytes and for retransmission from
// bytes_acked — the peer deduplicates via pos.
func (s *Session) transmitPending(now time.Time) {
	if len(s.txBuffer) == 0 {
		return
	}

	sent := 0
	limit := len(s.txBuffer)
	if limit > SendWindow {
		limit = SendWindow
	}

	for sent < limit {
		absPos := s.bytesAcked + int64(sent)
		header := fmt.Sprintf("/data/%d/%d/", s.id, absPos)
		available := MaxDatagramSize - len(header) - 1 // -1 for the trailing "/"
		if available <= 0 {
			s.logger.Error("data header alone exceeds datagram limit", slog.Int("header_len", len(header)))
			break
		}

		packed := 0
		used := 0
		for sent+packed < limit {
			cost := escapedLen(s.txBuffer[sent+packed])
			if used+cost > available {
				break
			}
			used += cost
			packed++
		}
		if packed == 0 {
			// Shouldn't happen at MaxDatagramSize=999 for any single byte,
			// but guard against pathological configuration regardless.
			break
		}

		pkt := &Packet{
			Command:   CommandData,
			SessionID: s.id,
			Pos:       absPos,
			Payload:   s.txBuffer[sent : sent+packed],
		}
		s.send(pkt)
		sent += packed
	}

	s.lastRetransmit = now
}
