package lrcp

// LineApp implements Application by reversing each complete line received
// from the peer and queuing the reversed line for transmission back (spec
// §4.4 "Line Application"). It holds no state of its own beyond what the
// Session already tracks in its rx_buffer — a fresh LineApp is bound to
// each Session at construction.
type LineApp struct{}

// Deliver splits the session's rx_buffer on every complete line (bytes up
// to and including a 0x0A), reverses each line's byte sequence — not
// assumed to be UTF-8, so reversal operates on raw bytes per spec §4.4 —
// appends a trailing newline, and pushes the result back onto the
// session's tx_buffer. Any trailing partial line (no terminating 0x0A yet)
// is left in rx_buffer for the next Deliver call. There is no maximum
// line length.
func (LineApp) Deliver(s *Session) {
	buf := s.RxBuffer()
	if len(buf) == 0 {
		return
	}

	var out []byte
	start := 0
	for i := 0; i < len(buf); i++ {
		if buf[i] != '\n' {
			continue
		}
		line := buf[start:i]
		out = appendReversed(out, line)
		out = append(out, '\n')
		start = i + 1
	}

	if start == 0 {
		// No complete line yet; keep accumulating.
		return
	}

	s.SetRxBuffer(append([]byte(nil), buf[start:]...))
	if len(out) > 0 {
		s.PushApplicationBytes(out)
	}
}

// appendReversed appends line to dst in reverse byte order.
func appendReversed(dst []byte, line []byte) []byte {
	for i := len(line) - 1; i >= 0; i-- {
		dst = append(dst, line[i])
	}
	return dst
}
