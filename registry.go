package chat

import (
	"regexp"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Domain precondition failures. These are never fatal to a connection;
// the dispatcher maps them to failure status strings in the response.
var (
	ErrAlreadyLoggedIn   = errors.New("connection already has a session")
	ErrAccountExists     = errors.New("account already exists")
	ErrAccountNotFound   = errors.New("account does not exist")
	ErrAccountInUse      = errors.New("account has an active session elsewhere")
	ErrNotLoggedIn       = errors.New("connection has no session")
	ErrRecipientNotFound = errors.New("recipient does not exist")
	ErrMalformedQuery    = errors.New("malformed query pattern")
)

// PendingMessage is one chat message queued for delivery.
type PendingMessage struct {
	Sender    string
	Recipient string
	Body      string
}

// Registry owns all shared mutable state of the server: the account set,
// the session table, and the per-recipient pending-message queues. Each
// section has its own mutex; every operation acquires them in the fixed
// order accounts > sessions > pending and never re-acquires a higher
// section while holding a lower one. All mutation goes through the atomic
// operations below, so the ordering is enforced in one place.
type Registry struct {
	accountMu sync.Mutex
	accounts  map[string]struct{}

	// sessions and bound form a bidirectional index and are always
	// updated together under sessionMu.
	sessionMu sync.Mutex
	sessions  map[string]*Conn
	bound     map[*Conn]string

	pendingMu sync.Mutex
	pending   map[string][]PendingMessage
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		accounts: make(map[string]struct{}),
		sessions: make(map[string]*Conn),
		bound:    make(map[*Conn]string),
		pending:  make(map[string][]PendingMessage),
	}
}

// Account returns the account name the connection is authenticated as, or
// "" if the connection has no session.
func (r *Registry) Account(conn *Conn) string {
	r.sessionMu.Lock()
	defer r.sessionMu.Unlock()
	return r.bound[conn]
}

// Session returns the live connection authenticated as account, if any.
func (r *Registry) Session(account string) (*Conn, bool) {
	r.sessionMu.Lock()
	defer r.sessionMu.Unlock()
	conn, ok := r.sessions[account]
	return conn, ok
}

// CreateAccount inserts a new account and binds the creating connection's
// session to it. The session is bound while still holding the account
// section, so no other connection can log in to the just-created name
// before its creator.
func (r *Registry) CreateAccount(conn *Conn, username string) error {
	if r.Account(conn) != "" {
		return ErrAlreadyLoggedIn
	}

	r.accountMu.Lock()
	defer r.accountMu.Unlock()
	if _, ok := r.accounts[username]; ok {
		return ErrAccountExists
	}
	r.accounts[username] = struct{}{}

	r.sessionMu.Lock()
	defer r.sessionMu.Unlock()
	r.sessions[username] = conn
	r.bound[conn] = username
	return nil
}

// ListAccounts returns, sorted, every account name with a prefix matched
// by the query pattern. No session is required.
func (r *Registry) ListAccounts(query string) ([]string, error) {
	pattern, err := regexp.Compile(query)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedQuery, err.Error())
	}

	r.accountMu.Lock()
	defer r.accountMu.Unlock()

	var matched []string
	for account := range r.accounts {
		// A prefix match: the leftmost match must start at the first byte.
		if loc := pattern.FindStringIndex(account); loc != nil && loc[0] == 0 {
			matched = append(matched, account)
		}
	}
	sort.Strings(matched)
	return matched, nil
}

// LogIn binds the connection's session to an existing, unoccupied account.
// The account section is held across the existence check and the bind so
// the account cannot be deleted in between.
func (r *Registry) LogIn(conn *Conn, username string) error {
	if r.Account(conn) != "" {
		return ErrAlreadyLoggedIn
	}

	r.accountMu.Lock()
	defer r.accountMu.Unlock()
	if _, ok := r.accounts[username]; !ok {
		return ErrAccountNotFound
	}

	r.sessionMu.Lock()
	defer r.sessionMu.Unlock()
	if _, ok := r.sessions[username]; ok {
		return ErrAccountInUse
	}
	r.sessions[username] = conn
	r.bound[conn] = username
	return nil
}

// LogOff removes the connection's session.
func (r *Registry) LogOff(conn *Conn) error {
	r.sessionMu.Lock()
	defer r.sessionMu.Unlock()

	account, ok := r.bound[conn]
	if !ok {
		return ErrNotLoggedIn
	}
	delete(r.sessions, account)
	delete(r.bound, conn)
	return nil
}

// DeleteAccount removes the connection's session and its account in one
// atomic step. Requires an active session on the deleting connection.
func (r *Registry) DeleteAccount(conn *Conn) error {
	r.accountMu.Lock()
	defer r.accountMu.Unlock()
	r.sessionMu.Lock()
	defer r.sessionMu.Unlock()

	account, ok := r.bound[conn]
	if !ok {
		return ErrNotLoggedIn
	}
	delete(r.sessions, account)
	delete(r.bound, conn)
	delete(r.accounts, account)
	return nil
}

// SendMessage appends a message to the recipient's pending queue. The
// account section is held across the existence check and the enqueue, so
// the recipient cannot be deleted between the two.
func (r *Registry) SendMessage(conn *Conn, recipient, body string) error {
	sender := r.Account(conn)
	if sender == "" {
		return ErrNotLoggedIn
	}

	r.accountMu.Lock()
	defer r.accountMu.Unlock()
	if _, ok := r.accounts[recipient]; !ok {
		return ErrRecipientNotFound
	}

	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	r.pending[recipient] = append(r.pending[recipient], PendingMessage{
		Sender:    sender,
		Recipient: recipient,
		Body:      body,
	})
	return nil
}

// Disconnect removes any session owned by the connection. Called by the
// connection handler on its way out; a connection with no session is a
// no-op.
func (r *Registry) Disconnect(conn *Conn) {
	r.sessionMu.Lock()
	defer r.sessionMu.Unlock()

	if account, ok := r.bound[conn]; ok {
		delete(r.sessions, account)
		delete(r.bound, conn)
	}
}

// PendingRecipients returns a snapshot of recipients with queued messages.
func (r *Registry) PendingRecipients() []string {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	recipients := make([]string, 0, len(r.pending))
	for recipient, queue := range r.pending {
		if len(queue) > 0 {
			recipients = append(recipients, recipient)
		}
	}
	return recipients
}

// TakePending removes and returns the recipient's whole queue in order.
// The delivery loop calls this before doing any network I/O, so no
// registry lock is ever held across a socket write.
func (r *Registry) TakePending(recipient string) []PendingMessage {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	queue := r.pending[recipient]
	delete(r.pending, recipient)
	return queue
}

// Requeue puts undelivered messages back at the front of the recipient's
// queue, preserving their original relative order.
func (r *Registry) Requeue(recipient string, messages []PendingMessage) {
	if len(messages) == 0 {
		return
	}
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	r.pending[recipient] = append(messages, r.pending[recipient]...)
}

// PendingCount reports the number of queued messages for a recipient.
func (r *Registry) PendingCount(recipient string) int {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return len(r.pending[recipient])
}
