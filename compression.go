package lcbook

import "github.com/golang/snappy"

// compressionConfig tunes the opportunistic value compression a Connection
// applies to outbound mutations.
type compressionConfig struct {
	MinSize  int
	MinRatio float64
}

// defaultCompressionConfig returns the stock size/ratio thresholds.
func defaultCompressionConfig() compressionConfig {
	return compressionConfig{MinSize: 32, MinRatio: 0.83}
}

func isCompressibleOp(op commandCode) bool {
	switch op {
	case cmdSet, cmdAdd, cmdReplace, cmdAppend, cmdPrepend:
		return true
	}
	return false
}

// maybeCompress returns a packet with its value snappy-compressed (and the
// Compressed datatype flag set) when the server has negotiated Snappy
// support, the op is a mutation, the value is large enough to be worth it,
// and the compressed form is actually smaller than MinRatio of the
// original — otherwise it returns p unchanged. Grounded on
// memdClient.SendRequest's inline compression block.
func maybeCompress(p Packet, cfg compressionConfig, snappyEnabled bool) Packet {
	if !snappyEnabled || !isCompressibleOp(p.Opcode) {
		return p
	}
	if p.Datatype&uint8(DatatypeFlagCompressed) != 0 {
		return p
	}
	size := len(p.Value)
	if size <= cfg.MinSize {
		return p
	}

	compressed := snappy.Encode(nil, p.Value)
	if float64(len(compressed))/float64(size) > cfg.MinRatio {
		return p
	}

	p.Value = compressed
	p.Datatype |= uint8(DatatypeFlagCompressed)
	return p
}

// maybeDecompress reverses maybeCompress on an inbound response.
func maybeDecompress(p *Packet) error {
	if p.Datatype&uint8(DatatypeFlagCompressed) == 0 {
		return nil
	}
	value, err := snappy.Decode(nil, p.Value)
	if err != nil {
		return err
	}
	p.Value = value
	p.Datatype &^= uint8(DatatypeFlagCompressed)
	return nil
}
