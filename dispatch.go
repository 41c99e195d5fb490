package chat

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/Zereker/chat/wire"
)

// accountsDelimiter joins matched account names in a ListAccounts response.
const accountsDelimiter = ";"

// StatusSuccess is the literal clients branch on; any other status string
// is a failure description.
const StatusSuccess = "Success"

// statusText maps a registry precondition failure to the status string of
// the response, per operation. The wording is part of the protocol.
var statusText = map[wire.Op]map[error]string{
	wire.OpCreateAccount: {
		ErrAlreadyLoggedIn: "Error: User can't create an account while logged in.",
		ErrAccountExists:   "Error: Account already exists.",
	},
	wire.OpListAccounts: {
		ErrMalformedQuery: "Error: regex is malformed.",
	},
	wire.OpSendMessage: {
		ErrNotLoggedIn:       "Error: Need to be logged in to send a message.",
		ErrRecipientNotFound: "Error: The recipient of the message does not exist.",
	},
	wire.OpDeleteAccount: {
		ErrNotLoggedIn: "Error: Need to be logged in to delete your account.",
	},
	wire.OpLogIn: {
		ErrAlreadyLoggedIn: "Error: Already logged into an account, please log off first.",
		ErrAccountNotFound: "Error: Account does not exist.",
		ErrAccountInUse:    "Error: Someone else is logged into that account.",
	},
	wire.OpLogOff: {
		ErrNotLoggedIn: "Error: Need to be logged in to log out of your account.",
	},
}

// status renders a registry result as the response status string.
func status(op wire.Op, err error) string {
	if err == nil {
		return StatusSuccess
	}
	if text, ok := statusText[op][errors.Cause(err)]; ok {
		return text
	}
	return "Error: " + err.Error()
}

// dispatch handles one reassembled logical message: it parses the body
// into arguments, runs the registry operation, and writes the response on
// the same connection. Domain failures become failure statuses; only a
// broken connection propagates an error up to the read loop.
func (s *Server) dispatch(conn *Conn, message wire.Message) error {
	args := wire.ParseData(message.Op, message.Body)
	s.logger.Debug("request", "conn_id", conn.ID(), "op", message.Op.String(), "seq", message.Seq)

	switch message.Op {
	case wire.OpCreateAccount:
		username := args["username"]
		err := s.registry.CreateAccount(conn, username)
		if err == nil {
			s.logger.Info("account created", "conn_id", conn.ID(), "username", username)
		}
		return conn.Send(message.Op.Response(), map[string]string{
			"status":   status(message.Op, err),
			"username": username,
		})

	case wire.OpListAccounts:
		accounts, err := s.registry.ListAccounts(args["query"])
		return conn.Send(message.Op.Response(), map[string]string{
			"status":   status(message.Op, err),
			"accounts": strings.Join(accounts, accountsDelimiter),
		})

	case wire.OpSendMessage:
		err := s.registry.SendMessage(conn, args["recipient"], args["message"])
		return conn.Send(message.Op.Response(), map[string]string{
			"status": status(message.Op, err),
		})

	case wire.OpDeleteAccount:
		err := s.registry.DeleteAccount(conn)
		if err == nil {
			s.logger.Info("account deleted", "conn_id", conn.ID())
		}
		return conn.Send(message.Op.Response(), map[string]string{
			"status": status(message.Op, err),
		})

	case wire.OpLogIn:
		username := args["username"]
		err := s.registry.LogIn(conn, username)
		if err == nil {
			s.logger.Info("logged in", "conn_id", conn.ID(), "username", username)
		}
		return conn.Send(message.Op.Response(), map[string]string{
			"status":   status(message.Op, err),
			"username": username,
		})

	case wire.OpLogOff:
		err := s.registry.LogOff(conn)
		return conn.Send(message.Op.Response(), map[string]string{
			"status": status(message.Op, err),
		})

	default:
		// Unknown or client-illegal operation codes (for example a client
		// sending RecvMessage) are dropped; the connection stays up.
		s.logger.Warn("unexpected operation", "conn_id", conn.ID(), "op", byte(message.Op))
		return nil
	}
}
