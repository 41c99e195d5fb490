// Package client provides a programmatic client for the chat service's
// binary wire protocol: typed request methods, response correlation by
// operation code, and a channel surfacing server-pushed messages.
package client

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Zereker/chat/wire"
)

// Errors returned by client operations.
var (
	// ErrClosed is returned when operating on a closed client.
	ErrClosed = errors.New("client closed")
	// ErrTimeout is returned when no response arrives in time.
	ErrTimeout = errors.New("timed out waiting for response")
)

const defaultResponseTimeout = 5 * time.Second

// Message is one chat message pushed by the server.
type Message struct {
	Sender string
	Body   string
}

// Client is a connection to the chat server. Request methods are safe for
// concurrent use; at most one request is in flight at a time.
type Client struct {
	conn net.Conn

	mu     sync.Mutex
	nextID uint16

	responses chan wire.Message
	inbox     chan Message
	done      chan struct{}
	closeOnce sync.Once

	responseTimeout time.Duration
}

// Dial connects to a chat server and starts the client's read loop.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}

	c := &Client{
		conn:            conn,
		responses:       make(chan wire.Message, 16),
		inbox:           make(chan Message, 64),
		done:            make(chan struct{}),
		responseTimeout: defaultResponseTimeout,
	}
	go c.readLoop()
	return c, nil
}

// Inbox returns the channel carrying messages pushed by the server.
// It is closed when the connection ends.
func (c *Client) Inbox() <-chan Message {
	return c.inbox
}

// Close tears the connection down.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer close(c.inbox)

	_ = wire.ReadLoop(c.conn, func(message wire.Message) error {
		if message.Op == wire.OpRecvMessage {
			args := wire.ParseData(message.Op, message.Body)
			select {
			case c.inbox <- Message{Sender: args["sender"], Body: args["message"]}:
			case <-c.done:
			}
			return nil
		}
		select {
		case c.responses <- message:
		case <-c.done:
		}
		return nil
	})
}

// request sends one operation and waits for its paired response, returning
// the parsed response arguments.
func (c *Client) request(op wire.Op, args map[string]string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}

	packets, err := wire.Encode(op, c.nextID, args)
	if err != nil {
		return nil, err
	}
	c.nextID++

	for _, packet := range packets {
		if _, err := c.conn.Write(packet); err != nil {
			return nil, errors.Wrapf(err, "send %s", op)
		}
	}

	timer := time.NewTimer(c.responseTimeout)
	defer timer.Stop()
	for {
		select {
		case response := <-c.responses:
			if response.Op != op.Response() {
				// Stale response from an earlier failed exchange; skip it.
				continue
			}
			return wire.ParseData(response.Op, response.Body), nil
		case <-timer.C:
			return nil, errors.Wrapf(ErrTimeout, "request %s", op)
		case <-c.done:
			return nil, ErrClosed
		}
	}
}

// CreateAccount creates username and authenticates this connection as it.
func (c *Client) CreateAccount(username string) (string, error) {
	response, err := c.request(wire.OpCreateAccount, map[string]string{"username": username})
	if err != nil {
		return "", err
	}
	return response["status"], nil
}

// ListAccounts returns the status and the account names whose prefix
// matches the query pattern.
func (c *Client) ListAccounts(query string) (string, []string, error) {
	response, err := c.request(wire.OpListAccounts, map[string]string{"query": query})
	if err != nil {
		return "", nil, err
	}
	var accounts []string
	if joined := response["accounts"]; joined != "" {
		accounts = strings.Split(joined, ";")
	}
	return response["status"], accounts, nil
}

// SendMessage queues a message for recipient.
func (c *Client) SendMessage(recipient, message string) (string, error) {
	response, err := c.request(wire.OpSendMessage, map[string]string{
		"recipient": recipient,
		"message":   message,
	})
	if err != nil {
		return "", err
	}
	return response["status"], nil
}

// DeleteAccount deletes the account this connection is logged in as.
func (c *Client) DeleteAccount() (string, error) {
	response, err := c.request(wire.OpDeleteAccount, nil)
	if err != nil {
		return "", err
	}
	return response["status"], nil
}

// LogIn authenticates this connection as an existing account.
func (c *Client) LogIn(username string) (string, error) {
	response, err := c.request(wire.OpLogIn, map[string]string{"username": username})
	if err != nil {
		return "", err
	}
	return response["status"], nil
}

// LogOff ends this connection's session.
func (c *Client) LogOff() (string, error) {
	response, err := c.request(wire.OpLogOff, nil)
	if err != nil {
		return "", err
	}
	return response["status"], nil
}
