// SPDX-FileCopyrightText: The go-asmtp Authors
//
// SPDX-License-Identifier: MIT

package asmtp

import "sync"

// transactionState is the lifecycle stage of a Transaction.
type transactionState int

const (
	transactionQueued transactionState = iota
	transactionInProgress
	transactionFinalized
)

// Transaction is a handle returned at enqueue time representing the delivery of one
// Message. It exposes a completion signal and a best-effort, latest-wins progress stream;
// once Done is closed, Err/StatusCode/StatusText/Encrypted/Authenticated report the final
// outcome and are safe to read from any goroutine.
type Transaction struct {
	message   *Message
	messageID string

	mu            sync.Mutex
	state         transactionState
	err           *TransactionError
	statusCode    int
	statusText    string
	encrypted     bool
	tlsVersion    uint16
	authenticated bool
	authMech      string
	authUser      string

	done     chan struct{}
	progress chan int
}

// newTransaction returns a freshly queued Transaction wrapping m.
func newTransaction(m *Message) *Transaction {
	return &Transaction{
		message:   m,
		messageID: m.MessageID(),
		done:      make(chan struct{}),
		progress:  make(chan int, 1),
	}
}

// Message returns the Message this Transaction is delivering.
func (t *Transaction) Message() *Message { return t.message }

// MessageID returns the derived Message-ID of the underlying Message.
func (t *Transaction) MessageID() string { return t.messageID }

// Done returns a channel that is closed once the Transaction has finalized.
func (t *Transaction) Done() <-chan struct{} { return t.done }

// Progress returns a channel of 0-100 percentages. Updates are latest-wins: a slow consumer
// may miss an intermediate value, but the sequence observed is always non-decreasing.
func (t *Transaction) Progress() <-chan int { return t.progress }

// Err returns the terminal error, or nil if the Transaction finalized successfully.
func (t *Transaction) Err() *TransactionError {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// StatusCode returns the last server reply code observed for this Transaction.
func (t *Transaction) StatusCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusCode
}

// StatusText returns the last server reply text observed for this Transaction.
func (t *Transaction) StatusText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusText
}

// Encrypted reports whether the session was TLS-protected at the time this Transaction
// reached the DATA phase.
func (t *Transaction) Encrypted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.encrypted
}

// Authenticated reports whether the session was authenticated at the time this Transaction
// reached the DATA phase.
func (t *Transaction) Authenticated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.authenticated
}

// AuthMech returns the SASL mechanism name used to authenticate the session, if any.
func (t *Transaction) AuthMech() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.authMech
}

// AuthUser returns the username used to authenticate the session, if any.
func (t *Transaction) AuthUser() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.authUser
}

// captureSessionState records the session's TLS/auth posture at DATA time, per spec.
func (t *Transaction) captureSessionState(encrypted bool, tlsVersion uint16, authenticated bool, mech, user string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.encrypted = encrypted
	t.tlsVersion = tlsVersion
	t.authenticated = authenticated
	t.authMech = mech
	t.authUser = user
}

// markInProgress transitions a queued Transaction to transactionInProgress. It is a no-op
// once the Transaction has already finalized.
func (t *Transaction) markInProgress() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == transactionQueued {
		t.state = transactionInProgress
	}
}

// requeue resets an in-progress Transaction back to transactionQueued so a reconnect resumes
// it from MAIL FROM rather than losing it. It is a no-op once the Transaction has already
// finalized.
func (t *Transaction) requeue() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == transactionInProgress {
		t.state = transactionQueued
	}
}

// recordReply stores the last server reply code/text observed for this Transaction.
func (t *Transaction) recordReply(code int, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusCode = code
	t.statusText = text
}

// emitProgress pushes a 0-100 percentage derived from done/total. If the channel's single
// slot is already occupied, the older, unread value is discarded in favour of the new one.
func (t *Transaction) emitProgress(done, total int) {
	pct := 100
	if total > 0 {
		pct = done * 100 / total
		if pct > 100 {
			pct = 100
		}
	}
	for {
		select {
		case t.progress <- pct:
			return
		default:
		}
		select {
		case <-t.progress:
		default:
		}
	}
}

// finalize transitions the Transaction to transactionFinalized exactly once, recording kind
// (or no error) and closing Done.
func (t *Transaction) finalize(kind ErrorKind, text string, code int) {
	t.mu.Lock()
	if t.state == transactionFinalized {
		t.mu.Unlock()
		return
	}
	t.state = transactionFinalized
	if kind != ErrNoError {
		t.err = &TransactionError{Kind: kind, Text: text, Code: code}
	}
	t.mu.Unlock()
	close(t.done)
}
