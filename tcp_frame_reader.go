package modbus

// tcpFrameReader incrementally reassembles MBAP frames out of however
// many bytes a single socket read happens to deliver, since TCP gives no
// message-boundary guarantee. Shared by reactor_linux.go and
// reactor_other.go so both platforms parse frames identically.
type tcpFrameReader struct {
	buf     []byte
	wantLen int // total frame length once known (header + PDU), 0 while still reading the header
}

func newTCPFrameReader() *tcpFrameReader {
	return &tcpFrameReader{}
}

// feed appends newly read bytes and invokes onFrame once per complete
// MBAP frame assembled, leaving any trailing partial frame buffered for
// the next call.
func (r *tcpFrameReader) feed(data []byte, onFrame func(txID uint16, unitID byte, pdu []byte)) {
	r.buf = append(r.buf, data...)
	for {
		if r.wantLen == 0 {
			if len(r.buf) < mbapHeaderLen {
				return
			}
			_, _, pduLen, err := decodeTCPHeader(r.buf[:mbapHeaderLen])
			if err != nil {
				// Unrecoverable framing desync; drop the buffered bytes
				// rather than loop forever on a bad header.
				r.buf = nil
				return
			}
			r.wantLen = mbapHeaderLen + pduLen
		}
		if len(r.buf) < r.wantLen {
			return
		}
		frame := r.buf[:r.wantLen]
		txID, unitID, _, _ := decodeTCPHeader(frame[:mbapHeaderLen])
		onFrame(txID, unitID, frame[mbapHeaderLen:r.wantLen])
		r.buf = r.buf[r.wantLen:]
		r.wantLen = 0
	}
}
