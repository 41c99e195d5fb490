package wire

import (
	"io"

	"github.com/pkg/errors"
)

// Message is one reassembled logical message.
type Message struct {
	// Op is the operation code shared by all packets of the message.
	Op Op
	// ID is the peer-assigned message id.
	ID uint16
	// Seq is the local ordinal of the message on its connection, assigned
	// by the decoder; it is independent of ID.
	Seq uint64
	// Body is the payload with the trailing terminator stripped.
	Body string
}

// Decoder reassembles logical messages from an arbitrarily fragmented or
// coalesced byte stream. The zero value is ready to use. Feed is a pure
// step over the decoder state, so the reassembly logic is testable without
// a socket.
type Decoder struct {
	leftover []byte

	// running message state
	open bool
	op   Op
	id   uint16
	body []byte

	seq uint64
}

// Feed consumes the next slice of stream bytes and returns the logical
// messages completed by it, in stream order. Bytes that do not yet form a
// complete packet are retained for the next call. A packet whose version
// field does not match Version yields ErrVersionMismatch together with any
// messages completed before the offending packet; the connection must then
// be torn down.
func (d *Decoder) Feed(p []byte) ([]Message, error) {
	data := p
	if len(d.leftover) > 0 {
		data = append(d.leftover, p...)
		d.leftover = nil
	}

	var messages []Message
	for len(data) >= MetadataSize {
		header := ParseHeader(data)
		if header.Version != Version {
			return messages, errors.Wrapf(ErrVersionMismatch, "got version %d, want %d", header.Version, Version)
		}
		if len(data) < MetadataSize+header.PayloadSize {
			break
		}
		chunk := data[MetadataSize : MetadataSize+header.PayloadSize]
		data = data[MetadataSize+header.PayloadSize:]

		// A packet with a new (message_id, operation_code) pair starts a
		// fresh running message; an unfinished previous one is discarded.
		if !d.open || d.id != header.MessageID || d.op != header.Op {
			d.open = true
			d.op = header.Op
			d.id = header.MessageID
			d.body = d.body[:0]
		}
		d.body = append(d.body, chunk...)

		if n := len(d.body); n > 0 && d.body[n-1] == Terminator {
			messages = append(messages, Message{
				Op:   d.op,
				ID:   d.id,
				Seq:  d.seq,
				Body: string(d.body[:n-1]),
			})
			d.seq++
			d.open = false
			d.body = d.body[:0]
		}
	}

	if len(data) > 0 {
		d.leftover = append(d.leftover[:0], data...)
	}
	return messages, nil
}

// ReadLoop reads from r until EOF, feeding a Decoder and invoking onMessage
// for every reassembled logical message. It returns nil on a clean peer
// disconnect, the decode error on a protocol violation, and any error
// returned by onMessage.
func ReadLoop(r io.Reader, onMessage func(Message) error) error {
	var decoder Decoder
	buf := make([]byte, MaxPacketSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			messages, decodeErr := decoder.Feed(buf[:n])
			for _, message := range messages {
				if cbErr := onMessage(message); cbErr != nil {
					return cbErr
				}
			}
			if decodeErr != nil {
				return decodeErr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "read stream")
		}
	}
}
