package wire

import "encoding/binary"

// Header is the parsed fixed metadata block of one packet.
type Header struct {
	Version      byte
	HeaderLength byte
	Op           Op
	// MessageSize is the total logical payload length across all packets
	// of the message, terminator included.
	MessageSize int
	// PayloadSize is the payload length carried by this packet alone.
	PayloadSize int
	// MessageID is the sender-assigned id shared by all packets of one message.
	MessageID uint16
}

// ParseHeader decodes the metadata block at the front of b.
// b must hold at least MetadataSize bytes.
func ParseHeader(b []byte) Header {
	return Header{
		Version:      b[0],
		HeaderLength: b[1],
		Op:           Op(b[2]),
		MessageSize:  int(uint24(b[3:6])),
		PayloadSize:  int(binary.BigEndian.Uint16(b[6:8])),
		MessageID:    binary.BigEndian.Uint16(b[8:10]),
	}
}
