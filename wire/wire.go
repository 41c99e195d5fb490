// Package wire implements the chat service's private binary protocol.
// A logical message is encoded as key=value pairs joined by a separator
// byte and closed by a terminator byte, then split across one or more
// fixed-size packets. Each packet carries a fixed 10-byte metadata block
// with all integer fields in network byte order.
package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Protocol constants. MaxPacketSize bounds one framed transmission unit
// including its metadata; larger logical messages are split into chunks
// sharing the same operation code and message id.
const (
	// Version is the protocol version carried in every packet header.
	Version = 1

	// MetadataSize is the number of fixed metadata bytes per packet:
	// version(1) + header_length(1) + operation_code(1) + message_size(3) +
	// payload_size(2) + message_id(2).
	MetadataSize = 10

	// HeaderLength is the value of the header_length field: the metadata
	// bytes that follow the version and header_length prefix.
	HeaderLength = MetadataSize - 2

	// MaxPacketSize is the largest framed packet, metadata included.
	MaxPacketSize = 2048

	// MaxChunkSize is the largest payload slice one packet can carry.
	MaxChunkSize = MaxPacketSize - MetadataSize

	// maxMessageSize is the largest encodable logical payload; the
	// message_size field is 3 bytes wide.
	maxMessageSize = 1<<24 - 1

	// Separator joins the key=value pairs of one logical message.
	Separator = '\r'

	// Terminator closes the complete logical message, not each packet.
	Terminator = '\n'
)

// Errors returned by the codec.
var (
	// ErrUnknownOperation is returned for an operation code outside the table.
	ErrUnknownOperation = errors.New("unknown operation code")
	// ErrMissingArgument is returned by Encode when a required key is absent.
	ErrMissingArgument = errors.New("missing required argument")
	// ErrMessageTooLarge is returned when a payload exceeds the 3-byte size field.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrVersionMismatch is fatal to the connection that received the packet.
	ErrVersionMismatch = errors.New("protocol version mismatch")
)

// Op is a wire operation code.
type Op byte

// Operation codes. Each client-initiated request code is immediately
// followed by its response code; RecvMessage is server-push only.
const (
	OpCreateAccount         Op = 1
	OpCreateAccountResponse Op = 2
	OpListAccounts          Op = 3
	OpListAccountsResponse  Op = 4
	OpSendMessage           Op = 5
	OpSendMessageResponse   Op = 6
	OpDeleteAccount         Op = 7
	OpDeleteAccountResponse Op = 8
	OpLogIn                 Op = 9
	OpLogInResponse         Op = 10
	OpLogOff                Op = 11
	OpLogOffResponse        Op = 12
	OpRecvMessage           Op = 13
)

var opNames = map[Op]string{
	OpCreateAccount:         "CreateAccount",
	OpCreateAccountResponse: "CreateAccountResponse",
	OpListAccounts:          "ListAccounts",
	OpListAccountsResponse:  "ListAccountsResponse",
	OpSendMessage:           "SendMessage",
	OpSendMessageResponse:   "SendMessageResponse",
	OpDeleteAccount:         "DeleteAccount",
	OpDeleteAccountResponse: "DeleteAccountResponse",
	OpLogIn:                 "LogIn",
	OpLogInResponse:         "LogInResponse",
	OpLogOff:                "LogOff",
	OpLogOffResponse:        "LogOffResponse",
	OpRecvMessage:           "RecvMessage",
}

func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return "Unknown"
}

// Response returns the response operation code paired with a request code.
func (op Op) Response() Op {
	return op + 1
}

// requiredArgs lists, in encoding order, the keys every operation must carry.
var requiredArgs = map[Op][]string{
	OpCreateAccount:         {"username"},
	OpCreateAccountResponse: {"status", "username"},
	OpListAccounts:          {"query"},
	OpListAccountsResponse:  {"status", "accounts"},
	OpSendMessage:           {"recipient", "message"},
	OpSendMessageResponse:   {"status"},
	OpDeleteAccount:         {},
	OpDeleteAccountResponse: {"status"},
	OpLogIn:                 {"username"},
	OpLogInResponse:         {"status", "username"},
	OpLogOff:                {},
	OpLogOffResponse:        {"status"},
	OpRecvMessage:           {"sender", "message"},
}

// RequiredArgs returns the keys an operation must carry, in encoding order.
// The second result is false for an unknown operation code.
func RequiredArgs(op Op) ([]string, bool) {
	keys, ok := requiredArgs[op]
	return keys, ok
}

// Encode serializes one logical message into its ordered packet sequence.
// Every required key of op must be present in args; extra keys are ignored.
// All returned packets share op and messageID; the terminator byte is
// appended once, after the last key=value pair of the complete message.
func Encode(op Op, messageID uint16, args map[string]string) ([][]byte, error) {
	keys, ok := requiredArgs[op]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownOperation, "encode %d", op)
	}

	payload := make([]byte, 0, 64)
	for i, key := range keys {
		value, ok := args[key]
		if !ok {
			return nil, errors.Wrapf(ErrMissingArgument, "operation %s requires %q", op, key)
		}
		if i > 0 {
			payload = append(payload, Separator)
		}
		payload = append(payload, key...)
		payload = append(payload, '=')
		payload = append(payload, value...)
	}
	payload = append(payload, Terminator)

	if len(payload) > maxMessageSize {
		return nil, errors.Wrapf(ErrMessageTooLarge, "payload is %d bytes", len(payload))
	}

	var packets [][]byte
	for offset := 0; offset < len(payload); offset += MaxChunkSize {
		end := offset + MaxChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[offset:end]

		packet := make([]byte, MetadataSize+len(chunk))
		packet[0] = Version
		packet[1] = HeaderLength
		packet[2] = byte(op)
		putUint24(packet[3:6], uint32(len(payload)))
		binary.BigEndian.PutUint16(packet[6:8], uint16(len(chunk)))
		binary.BigEndian.PutUint16(packet[8:10], messageID)
		copy(packet[MetadataSize:], chunk)
		packets = append(packets, packet)
	}

	return packets, nil
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func uint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
