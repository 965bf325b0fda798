package lcbook

// FrameDecoder incrementally parses memcached binary protocol frames out of
// a byte stream. Unlike a blocking bufio.Reader, it never blocks: Feed
// returns whatever complete packets it could assemble from the bytes handed
// to it, and retains any trailing partial header or body so the next Feed
// call can pick up where the last one left off. This is what lets a single
// Connection be driven purely off ioloop read-readiness callbacks.
type FrameDecoder struct {
	state      decoderState
	headerBuf  [headerSize]byte
	headerFill int

	bodyLen  int
	keyLen   int
	extLen   int
	bodyBuf  []byte
	bodyFill int
	pending  *Packet
}

type decoderState int

const (
	decoderAwaitingHeader decoderState = iota
	decoderAwaitingBody
)

// newFrameDecoder returns a decoder ready to Feed; the zero value works
// equally well, this just documents the starting state explicitly.
func newFrameDecoder() *FrameDecoder {
	return &FrameDecoder{state: decoderAwaitingHeader}
}

// Feed appends chunk to the decoder and returns every packet that became
// complete as a result. It is safe to call repeatedly as bytes trickle in;
// a chunk that ends mid-header or mid-body simply advances internal state
// and returns no packets.
func (d *FrameDecoder) Feed(chunk []byte) ([]*Packet, error) {
	var out []*Packet

	for len(chunk) > 0 {
		switch d.state {
		case decoderAwaitingHeader:
			n := copy(d.headerBuf[d.headerFill:], chunk)
			d.headerFill += n
			chunk = chunk[n:]

			if d.headerFill < headerSize {
				return out, nil
			}

			pkt := &Packet{}
			bodyLen, keyLen, extLen := decodeHeader(d.headerBuf[:], pkt)
			if extLen+keyLen > bodyLen {
				return out, ErrProtocol
			}

			d.bodyLen = bodyLen
			d.keyLen = keyLen
			d.extLen = extLen
			d.bodyBuf = make([]byte, bodyLen)
			d.bodyFill = 0
			d.pending = pkt
			d.headerFill = 0
			d.state = decoderAwaitingBody

			if bodyLen == 0 {
				splitBody(d.bodyBuf, keyLen, extLen, pkt)
				out = append(out, pkt)
				d.state = decoderAwaitingHeader
			}

		case decoderAwaitingBody:
			n := copy(d.bodyBuf[d.bodyFill:], chunk)
			d.bodyFill += n
			chunk = chunk[n:]

			if d.bodyFill < d.bodyLen {
				return out, nil
			}

			splitBody(d.bodyBuf, d.keyLen, d.extLen, d.pending)
			out = append(out, d.pending)
			d.pending = nil
			d.state = decoderAwaitingHeader
		}
	}

	return out, nil
}
