package lcbook

import "encoding/binary"

const headerSize = 24

// Packet is the decoded form of one memcached binary protocol frame: a
// 24-byte header followed by extras, key and value.
type Packet struct {
	Magic    commandMagic
	Opcode   commandCode
	Datatype uint8
	Status   StatusCode // valid on responses
	Vbucket  uint16      // valid on requests
	Opaque   uint32
	Cas      uint64
	Key      []byte
	Extras   []byte
	Value    []byte
}

// Encode serializes p into a single contiguous buffer; the codec never
// allocates more than once per frame.
func (p *Packet) Encode() []byte {
	extLen := len(p.Extras)
	keyLen := len(p.Key)
	valLen := len(p.Value)

	buf := make([]byte, headerSize+extLen+keyLen+valLen)

	buf[0] = uint8(p.Magic)
	buf[1] = uint8(p.Opcode)
	binary.BigEndian.PutUint16(buf[2:], uint16(keyLen))
	buf[4] = byte(extLen)
	buf[5] = p.Datatype
	if p.Magic != resMagic {
		binary.BigEndian.PutUint16(buf[6:], p.Vbucket)
	} else {
		binary.BigEndian.PutUint16(buf[6:], uint16(p.Status))
	}
	binary.BigEndian.PutUint32(buf[8:], uint32(len(buf)-headerSize))
	binary.BigEndian.PutUint32(buf[12:], p.Opaque)
	binary.BigEndian.PutUint64(buf[16:], p.Cas)

	copy(buf[headerSize:], p.Extras)
	copy(buf[headerSize+extLen:], p.Key)
	copy(buf[headerSize+extLen+keyLen:], p.Value)

	return buf
}

// decodeHeader parses the fixed 24-byte header. It does not touch the body.
func decodeHeader(hdr []byte, p *Packet) (bodyLen int, keyLen int, extLen int) {
	p.Magic = commandMagic(hdr[0])
	p.Opcode = commandCode(hdr[1])
	keyLen = int(binary.BigEndian.Uint16(hdr[2:]))
	extLen = int(hdr[4])
	p.Datatype = hdr[5]
	if p.Magic == resMagic {
		p.Status = StatusCode(binary.BigEndian.Uint16(hdr[6:]))
	} else {
		p.Vbucket = binary.BigEndian.Uint16(hdr[6:])
	}
	bodyLen = int(binary.BigEndian.Uint32(hdr[8:]))
	p.Opaque = binary.BigEndian.Uint32(hdr[12:])
	p.Cas = binary.BigEndian.Uint64(hdr[16:])
	return bodyLen, keyLen, extLen
}

func splitBody(body []byte, keyLen, extLen int, p *Packet) {
	p.Extras = body[:extLen]
	p.Key = body[extLen : extLen+keyLen]
	p.Value = body[extLen+keyLen:]
}
