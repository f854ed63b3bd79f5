// SPDX-FileCopyrightText: The go-asmtp Authors
//
// SPDX-License-Identifier: MIT

package asmtp

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	alog "github.com/relaydispatch/go-asmtp/log"
	"github.com/relaydispatch/go-asmtp/smtp"
)

// AuthMech selects which SASL mechanism a Transport uses to authenticate, if any.
type AuthMech int

const (
	// AuthDisabled never attempts authentication.
	AuthDisabled AuthMech = iota
	// AuthAutoSelect picks the strongest mechanism the server advertises, preferring
	// CRAM-MD5, then LOGIN, then PLAIN.
	AuthAutoSelect
	// AuthCramMd5 forces CRAM-MD5.
	AuthCramMd5
	// AuthLogin forces LOGIN.
	AuthLogin
	// AuthPlain forces PLAIN.
	AuthPlain
)

// TLSLevel controls how a Transport reacts to STARTTLS availability.
type TLSLevel int

const (
	// TLSDisabled never attempts STARTTLS.
	TLSDisabled TLSLevel = iota
	// TLSOptional upgrades to TLS when the server advertises STARTTLS, but proceeds in
	// the clear otherwise.
	TLSOptional
	// TLSRequired upgrades to TLS or finalizes the remaining queue with ErrTlsRequired.
	TLSRequired
)

// DefaultSystemIdentifier is the EHLO/HELO identifier used when none is configured.
const DefaultSystemIdentifier = "localhost"

// DialContextFunc dials the SMTP server's TCP connection. It matches the signature of
// (*net.Dialer).DialContext so a caller can substitute a proxy dialer, a test dialer, or one
// wrapped with custom timeouts.
type DialContextFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Option configures a Transport at construction time.
type Option func(*Transport) error

// WithUser sets the username used for authentication.
func WithUser(user string) Option {
	return func(t *Transport) error {
		t.user = user
		return nil
	}
}

// WithPassword sets the password used for authentication.
func WithPassword(password string) Option {
	return func(t *Transport) error {
		t.password = password
		return nil
	}
}

// WithAuthMech selects the SASL mechanism. The default is AuthDisabled.
func WithAuthMech(mech AuthMech) Option {
	return func(t *Transport) error {
		t.authMech = mech
		return nil
	}
}

// WithSystemIdentifier sets the identifier sent with EHLO/HELO. The default is
// DefaultSystemIdentifier.
func WithSystemIdentifier(id string) Option {
	return func(t *Transport) error {
		if id == "" {
			return errors.New("asmtp: system identifier must not be empty")
		}
		t.systemIdentifier = id
		return nil
	}
}

// WithTimeout sets the session's inactivity timeout, armed around every blocking socket
// operation. The default is 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(t *Transport) error {
		if d <= 0 {
			return errors.New("asmtp: timeout must be positive")
		}
		t.timeout = d
		return nil
	}
}

// WithTLSLevel sets the STARTTLS policy. The default is TLSOptional.
func WithTLSLevel(level TLSLevel) Option {
	return func(t *Transport) error {
		t.tlsLevel = level
		return nil
	}
}

// WithTLSParameters overrides the tls.Config used for the STARTTLS handshake.
func WithTLSParameters(cfg *tls.Config) Option {
	return func(t *Transport) error {
		if cfg == nil {
			return errors.New("asmtp: tls config must not be nil")
		}
		t.tlsParameters = cfg
		return nil
	}
}

// WithDialContextFunc overrides how the TCP connection is dialed.
func WithDialContextFunc(f DialContextFunc) Option {
	return func(t *Transport) error {
		if f == nil {
			return errors.New("asmtp: dial func must not be nil")
		}
		t.dialContext = f
		return nil
	}
}

// WithLogger attaches a wire-trace logger. AUTH challenge/response lines are redacted
// regardless of the logger's own level.
func WithLogger(l alog.Logger) Option {
	return func(t *Transport) error {
		t.logger = l
		return nil
	}
}

// Transport drives one SMTP session at a time against a FIFO queue of enqueued Messages.
// A single call to Run or RunAddr blocks for the lifetime of the session, advancing an
// explicit state machine with ordinary blocking I/O; no part of the session runs on a
// separate goroutine except the short-lived watcher that turns context cancellation into
// Abort.
type Transport struct {
	user             string
	password         string
	authMech         AuthMech
	systemIdentifier string
	timeout          time.Duration
	tlsLevel         TLSLevel
	tlsParameters    *tls.Config
	dialContext      DialContextFunc
	logger           alog.Logger

	queueMu sync.Mutex
	queue   []*Transaction

	connMu sync.Mutex
	conn   net.Conn
	reader *bufio.Reader

	ctx context.Context

	aborted   atomic.Bool
	timedOut  bool
	rtsReached bool

	state State
	network string
	dialAddr string

	resolveHost     string
	resolvePort     int
	resolveProtocol string
	pendingAddrs    []net.IPAddr

	ext                 smtp.Extensions
	advertisedAuthMechs []string
	encrypted           bool
	tlsVersion          uint16
	authenticated       bool
	authMechName        string

	curAuth smtp.Auth

	cur              *Transaction
	curSender        Address
	curRecipients    []Address
	curRcptIdx       int
	lastBodyEndedCRLF bool

	authIsActive bool

	lastErr *TransactionError
}

// NewTransport returns a Transport configured by opts, or an error from the first option
// that rejects its argument.
func NewTransport(opts ...Option) (*Transport, error) {
	t := &Transport{
		systemIdentifier: DefaultSystemIdentifier,
		tlsLevel:         TLSOptional,
		timeout:          30 * time.Second,
		state:            StateIdle,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(t); err != nil {
			return nil, fmt.Errorf("asmtp: failed to apply option: %w", err)
		}
	}
	return t, nil
}

// Enqueue appends m to the delivery queue and returns a Transaction handle for it. Enqueue
// may be called at any time, including while a Run call is in progress on another
// goroutine: queued Messages not yet dequeued by the time Run returns remain queued for a
// future Run call.
func (t *Transport) Enqueue(m *Message) (*Transaction, error) {
	if m == nil {
		return nil, errors.New("asmtp: cannot enqueue a nil message")
	}
	tx := newTransaction(m)
	t.queueMu.Lock()
	t.queue = append(t.queue, tx)
	t.queueMu.Unlock()
	return tx, nil
}

// QueueLen reports the number of Transactions not yet dequeued.
func (t *Transport) QueueLen() int {
	t.queueMu.Lock()
	defer t.queueMu.Unlock()
	return len(t.queue)
}

func (t *Transport) dequeue() *Transaction {
	t.queueMu.Lock()
	defer t.queueMu.Unlock()
	if len(t.queue) == 0 {
		return nil
	}
	tx := t.queue[0]
	t.queue = t.queue[1:]
	return tx
}

// Abort marks the session aborted and closes its socket, if one is open. It is safe to call
// from any goroutine, including concurrently with a blocking Run call: the in-flight socket
// operation unblocks with an error, and the session loop finalizes every pending Transaction
// with ErrAborted on its way to StateFinished. Abort is edge-triggered — once aborted, a
// Transport never starts another session.
func (t *Transport) Abort() {
	t.aborted.Store(true)
	t.connMu.Lock()
	c := t.conn
	t.connMu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

// Run starts a session against host:port, resolving host via DNS using the given IP
// protocol ("ip4", "ip6", or "" for either) and selecting a uniformly random address from
// the result set; a reconnect within the same Run dials that address again. It blocks until
// the queue drains to empty, the session aborts, times out, or a protocol error forces it
// closed, then returns nil — errors are reported per-Transaction via Transaction.Err, never
// from Run itself, except when the Transport has already been aborted. A nil ctx is treated
// as context.Background().
func (t *Transport) Run(ctx context.Context, host string, port int, protocol string) error {
	if t.aborted.Load() {
		return errors.New("asmtp: transport already aborted")
	}
	t.resolveHost, t.resolvePort, t.resolveProtocol = host, port, protocol
	t.state = StateResolving
	return t.start(ctx)
}

// RunAddr starts a session against a pre-resolved address, skipping DNS resolution
// entirely. It otherwise behaves exactly like Run.
func (t *Transport) RunAddr(ctx context.Context, address string, port int) error {
	if t.aborted.Load() {
		return errors.New("asmtp: transport already aborted")
	}
	t.network = "tcp"
	t.dialAddr = net.JoinHostPort(address, strconv.Itoa(port))
	t.state = StateConnecting
	return t.start(ctx)
}

func (t *Transport) start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.ctx = ctx
	t.rtsReached = false

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			t.Abort()
		case <-done:
		}
	}()

	return t.runLoop()
}

// runLoop is the session's state-transition-table driver: each pass dispatches to exactly
// one per-state handler, which performs that state's reads and writes and sets the next state.
func (t *Transport) runLoop() error {
	if t.aborted.Load() {
		switch t.state {
		case StateResolving, StateResolved, StateConnecting:
			t.state = StateDisconnected
		}
	}
	for {
		switch t.state {
		case StateResolving:
			t.doResolving()
		case StateResolved:
			t.doResolved()
		case StateConnecting:
			t.doConnecting()
		case StateConnected:
			t.state = StateBanner
		case StateBanner:
			t.doBanner()
		case StateSessionInit:
			t.doSessionInit()
		case StateTlsSetup:
			t.doTlsSetup()
		case StateEncrypted:
			t.doEncrypted()
		case StateEncryptedSessionInit:
			t.doEncryptedSessionInit()
		case StateSessionSetup:
			t.doSessionSetup()
		case StateAuth:
			t.doAuth()
		case StateReadyToSend:
			t.doReadyToSend()
		case StateMailFrom:
			t.doMailFrom()
		case StateRcptTo:
			t.doRcptTo()
		case StateData:
			t.doData()
		case StateEndOfMessage:
			t.doEndOfMessage()
		case StateDataSent:
			t.doDataSent()
		case StateClosing:
			t.doClosing()
		case StateDisconnected:
			t.doDisconnected()
		case StateFinished:
			return nil
		}
	}
}

func resolveNetwork(protocol string) string {
	switch protocol {
	case "ip4":
		return "tcp4"
	case "ip6":
		return "tcp6"
	default:
		return "tcp"
	}
}

func (t *Transport) doResolving() {
	addrs, err := net.DefaultResolver.LookupIPAddr(t.ctx, t.resolveHost)
	if err != nil {
		t.lastErr = &TransactionError{Kind: ErrResolver, Text: err.Error()}
		t.pendingAddrs = nil
		t.state = StateResolved
		return
	}
	var filtered []net.IPAddr
	for _, a := range addrs {
		switch t.resolveProtocol {
		case "ip4":
			if a.IP.To4() != nil {
				filtered = append(filtered, a)
			}
		case "ip6":
			if a.IP.To4() == nil {
				filtered = append(filtered, a)
			}
		default:
			filtered = append(filtered, a)
		}
	}
	t.pendingAddrs = filtered
	t.network = resolveNetwork(t.resolveProtocol)
	t.state = StateResolved
}

func (t *Transport) doResolved() {
	if len(t.pendingAddrs) == 0 {
		kind, text := ErrResolver, "DNS resolution returned no usable address records"
		if t.lastErr != nil {
			kind, text = t.lastErr.Kind, t.lastErr.Text
		}
		t.finalizeAllRemaining(kind, text, 0)
		t.state = StateFinished
		return
	}
	addr := t.pendingAddrs[rand.Intn(len(t.pendingAddrs))]
	t.dialAddr = net.JoinHostPort(addr.IP.String(), strconv.Itoa(t.resolvePort))
	t.state = StateConnecting
}

func (t *Transport) doConnecting() {
	dial := t.dialContext
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	network := t.network
	if network == "" {
		network = "tcp"
	}
	conn, err := dial(t.ctx, network, t.dialAddr)
	if err != nil {
		t.lastErr = &TransactionError{Kind: ErrConnection, Text: err.Error()}
		t.state = StateDisconnected
		return
	}
	t.setConn(conn)
	t.state = StateConnected
}

func (t *Transport) setConn(c net.Conn) {
	t.connMu.Lock()
	t.conn = c
	if c != nil {
		t.reader = bufio.NewReader(c)
	}
	t.connMu.Unlock()
}

func (t *Transport) closeConn() {
	t.connMu.Lock()
	c := t.conn
	t.conn = nil
	t.connMu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

// getConn returns the current connection and reader under connMu, so reads never race with
// a concurrent Abort() or setConn().
func (t *Transport) getConn() (net.Conn, *bufio.Reader) {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	return t.conn, t.reader
}

// handleReadErr classifies a readReply failure and routes the session to StateDisconnected.
func (t *Transport) handleReadErr(err error) {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		t.timedOut = true
	} else {
		t.lastErr = &TransactionError{Kind: ErrConnection, Text: err.Error()}
	}
	t.closeConn()
	t.state = StateDisconnected
}

// sessionFail drops the connection on a write failure and routes to StateDisconnected for
// the usual abort/timeout/reconnect/finalize disposition.
func (t *Transport) sessionFail(text string) {
	t.lastErr = &TransactionError{Kind: ErrConnection, Text: text}
	t.closeConn()
	t.state = StateDisconnected
}

// sessionLevelFail finalizes every pending Transaction (including the one in flight, if
// any) with kind, then attempts a clean QUIT before dropping the connection. Used for
// protocol errors outside the per-message recovery window (spec.md §4.1's InTransaction
// states), where a single bad reply invalidates the whole session rather than one message.
func (t *Transport) sessionLevelFail(kind ErrorKind, text string, code int) {
	t.finalizeAllRemaining(kind, text, code)
	_ = t.writeLine("QUIT")
	_, _ = t.readReply()
	t.closeConn()
	t.state = StateDisconnected
}

func (t *Transport) finalizeAllRemaining(kind ErrorKind, text string, code int) {
	if t.cur != nil {
		t.cur.finalize(kind, text, code)
		t.cur = nil
	}
	for {
		tx := t.dequeue()
		if tx == nil {
			break
		}
		tx.finalize(kind, text, code)
	}
}

// finalizeCurrentWithResponse records the offending reply on the current Transaction,
// finalizes it with ErrResponse, and issues RSET so the session can continue with the next
// queued Transaction — the per-message error recovery spec.md §4.1 requires.
func (t *Transport) finalizeCurrentWithResponse(reply smtp.SmtpReply) {
	t.cur.recordReply(reply.Code, reply.Text())
	t.cur.finalize(ErrResponse, reply.Text(), reply.Code)
	t.cur = nil
	if err := t.writeLine("RSET"); err != nil {
		t.sessionFail(err.Error())
		return
	}
	if _, err := t.readReply(); err != nil {
		t.handleReadErr(err)
		return
	}
	t.state = StateReadyToSend
}

// handleTlsRequiredFailure finalizes the remaining queue with ErrTlsRequired and issues a
// clean QUIT, per spec.md §4.1's TLSRequired policy.
func (t *Transport) handleTlsRequiredFailure() {
	t.finalizeAllRemaining(ErrTlsRequired, "TLS required but not available", 0)
	_ = t.writeLine("QUIT")
	t.state = StateClosing
}

func (t *Transport) doBanner() {
	reply, err := t.readReply()
	if err != nil {
		t.handleReadErr(err)
		return
	}
	if reply.Code != 220 {
		t.sessionLevelFail(ErrConnection, fmt.Sprintf("unexpected banner: %d %s", reply.Code, reply.Text()), reply.Code)
		return
	}
	if err := t.writeLine("EHLO %s", t.systemIdentifier); err != nil {
		t.sessionFail(err.Error())
		return
	}
	t.state = StateSessionInit
}

func (t *Transport) doSessionInit() {
	reply, err := t.readReply()
	if err != nil {
		t.handleReadErr(err)
		return
	}
	switch {
	case reply.Code == 250:
		t.ext, t.advertisedAuthMechs = smtp.ParseExtensions(reply.Lines)
		t.branchOnTLS()
	case reply.Code >= 500 && reply.Code <= 509:
		if err := t.writeLine("HELO %s", t.systemIdentifier); err != nil {
			t.sessionFail(err.Error())
			return
		}
		heloReply, err := t.readReply()
		if err != nil {
			t.handleReadErr(err)
			return
		}
		if heloReply.Code != 250 {
			t.sessionLevelFail(ErrConnection, fmt.Sprintf("HELO rejected: %d %s", heloReply.Code, heloReply.Text()), heloReply.Code)
			return
		}
		t.ext, t.advertisedAuthMechs = nil, nil
		t.state = StateSessionSetup
	default:
		t.sessionLevelFail(ErrConnection, fmt.Sprintf("unexpected EHLO reply: %d %s", reply.Code, reply.Text()), reply.Code)
	}
}

func (t *Transport) branchOnTLS() {
	switch t.tlsLevel {
	case TLSDisabled:
		t.state = StateSessionSetup
	case TLSOptional:
		if t.ext.Has("STARTTLS") {
			t.beginStartTLS()
		} else {
			t.state = StateSessionSetup
		}
	case TLSRequired:
		if t.ext.Has("STARTTLS") {
			t.beginStartTLS()
		} else {
			t.handleTlsRequiredFailure()
		}
	}
}

func (t *Transport) beginStartTLS() {
	if err := t.writeLine("STARTTLS"); err != nil {
		t.sessionFail(err.Error())
		return
	}
	t.state = StateTlsSetup
}

func (t *Transport) doTlsSetup() {
	reply, err := t.readReply()
	if err != nil {
		t.handleReadErr(err)
		return
	}
	switch reply.Code {
	case 220:
		cfg := t.tlsParameters
		if cfg == nil {
			cfg = &tls.Config{ServerName: t.resolveHost}
		}
		raw, _ := t.getConn()
		tlsConn := tls.Client(raw, cfg)
		if err := tlsConn.HandshakeContext(t.ctx); err != nil {
			if t.tlsLevel == TLSRequired {
				t.handleTlsRequiredFailure()
				return
			}
			t.sessionFail(err.Error())
			return
		}
		t.setConn(tlsConn)
		st := tlsConn.ConnectionState()
		t.encrypted = true
		t.tlsVersion = st.Version
		t.state = StateEncrypted
	case 454:
		if t.tlsLevel == TLSRequired {
			t.handleTlsRequiredFailure()
			return
		}
		t.state = StateSessionSetup
	default:
		t.sessionLevelFail(ErrConnection, fmt.Sprintf("unexpected STARTTLS reply: %d %s", reply.Code, reply.Text()), reply.Code)
	}
}

func (t *Transport) doEncrypted() {
	if err := t.writeLine("EHLO %s", t.systemIdentifier); err != nil {
		t.sessionFail(err.Error())
		return
	}
	t.state = StateEncryptedSessionInit
}

func (t *Transport) doEncryptedSessionInit() {
	reply, err := t.readReply()
	if err != nil {
		t.handleReadErr(err)
		return
	}
	if reply.Code != 250 {
		t.sessionLevelFail(ErrConnection, fmt.Sprintf("post-TLS EHLO rejected: %d %s", reply.Code, reply.Text()), reply.Code)
		return
	}
	t.ext, t.advertisedAuthMechs = smtp.ParseExtensions(reply.Lines)
	t.state = StateSessionSetup
}

func (t *Transport) doSessionSetup() {
	if t.authMech == AuthDisabled || t.user == "" {
		t.state = StateReadyToSend
		return
	}
	mechName, auth, err := t.selectAuth()
	if err != nil {
		t.sessionLevelFail(ErrConnection, err.Error(), 0)
		return
	}
	t.curAuth = auth
	t.authMechName = mechName
	mech, initial, err := auth.Start(&smtp.ServerInfo{Name: t.systemIdentifier, TLS: t.encrypted, Auth: t.advertisedAuthMechs})
	if err != nil {
		t.sessionLevelFail(ErrConnection, err.Error(), 0)
		return
	}
	cmd := "AUTH " + mech
	if initial != nil {
		cmd += " " + base64.StdEncoding.EncodeToString(initial)
	}
	t.authIsActive = true
	if err := t.writeLine(cmd); err != nil {
		t.authIsActive = false
		t.sessionFail(err.Error())
		return
	}
	t.state = StateAuth
}

func (t *Transport) selectAuth() (string, smtp.Auth, error) {
	mech := t.authMech
	if mech == AuthAutoSelect {
		switch {
		case containsFold(t.advertisedAuthMechs, "CRAM-MD5"):
			mech = AuthCramMd5
		case containsFold(t.advertisedAuthMechs, "LOGIN"):
			mech = AuthLogin
		case containsFold(t.advertisedAuthMechs, "PLAIN"):
			mech = AuthPlain
		default:
			return "", nil, errors.New("asmtp: server advertises no supported AUTH mechanism")
		}
	}
	switch mech {
	case AuthCramMd5:
		if !containsFold(t.advertisedAuthMechs, "CRAM-MD5") {
			return "", nil, errors.New("asmtp: server does not advertise CRAM-MD5")
		}
		return "CramMd5", smtp.CramMD5Auth(t.user, t.password), nil
	case AuthLogin:
		if !containsFold(t.advertisedAuthMechs, "LOGIN") {
			return "", nil, errors.New("asmtp: server does not advertise LOGIN")
		}
		return "Login", smtp.LoginAuth(t.user, t.password), nil
	case AuthPlain:
		if !containsFold(t.advertisedAuthMechs, "PLAIN") {
			return "", nil, errors.New("asmtp: server does not advertise PLAIN")
		}
		return "Plain", smtp.PlainAuth(t.user, t.password), nil
	default:
		return "", nil, errors.New("asmtp: no authentication mechanism selected")
	}
}

func containsFold(mechs []string, name string) bool {
	for _, m := range mechs {
		if strings.EqualFold(m, name) {
			return true
		}
	}
	return false
}

func (t *Transport) doAuth() {
	reply, err := t.readReply()
	if err != nil {
		t.authIsActive = false
		t.handleReadErr(err)
		return
	}
	switch reply.Code {
	case 334:
		challenge, derr := base64.StdEncoding.DecodeString(reply.Text())
		if derr != nil {
			t.abortAuth()
			return
		}
		resp, aerr := t.curAuth.Next(challenge, true)
		if aerr != nil {
			t.abortAuth()
			return
		}
		line := ""
		if resp != nil {
			line = base64.StdEncoding.EncodeToString(resp)
		}
		if err := t.writeLine(line); err != nil {
			t.authIsActive = false
			t.sessionFail(err.Error())
			return
		}
	case 235:
		t.authIsActive = false
		t.authenticated = true
		t.state = StateReadyToSend
	default:
		t.authIsActive = false
		t.sessionLevelFail(ErrConnection, fmt.Sprintf("authentication failed: %d %s", reply.Code, reply.Text()), reply.Code)
	}
}

func (t *Transport) abortAuth() {
	_ = t.writeLine("*")
	_, _ = t.readReply()
	t.authIsActive = false
	t.sessionLevelFail(ErrConnection, "authentication challenge could not be answered", 0)
}

// doReadyToSend dequeues the next Transaction, validating its envelope locally before
// touching the network: an empty sender or recipient set finalizes the offending Transaction
// in place and the loop continues to the next one, per spec.md §4.1's "envelope validation
// errors are local" rule.
func (t *Transport) doReadyToSend() {
	for {
		tx := t.dequeue()
		if tx == nil {
			if err := t.writeLine("QUIT"); err != nil {
				t.sessionFail(err.Error())
				return
			}
			t.state = StateClosing
			return
		}
		tx.markInProgress()

		sender, err := tx.Message().EnvelopeSender()
		if err != nil {
			tx.finalize(ErrNoSender, err.Error(), 0)
			continue
		}
		recipients, err := tx.Message().EnvelopeRecipients()
		if err != nil {
			tx.finalize(ErrNoRecipients, err.Error(), 0)
			continue
		}

		t.cur = tx
		t.curSender = sender
		t.curRecipients = recipients
		t.curRcptIdx = 0

		if err := t.writeLine("MAIL FROM:<%s>", sender.Addr); err != nil {
			t.sessionFail(err.Error())
			return
		}
		t.rtsReached = true
		t.state = StateMailFrom
		return
	}
}

func (t *Transport) doMailFrom() {
	reply, err := t.readReply()
	if err != nil {
		t.handleReadErr(err)
		return
	}
	if reply.Class() != smtp.ReplyCompleted {
		t.finalizeCurrentWithResponse(reply)
		return
	}
	t.cur.recordReply(reply.Code, reply.Text())
	rcpt := t.curRecipients[t.curRcptIdx]
	if err := t.writeLine("RCPT TO:<%s>", rcpt.Addr); err != nil {
		t.sessionFail(err.Error())
		return
	}
	t.state = StateRcptTo
}

func (t *Transport) doRcptTo() {
	reply, err := t.readReply()
	if err != nil {
		t.handleReadErr(err)
		return
	}
	if reply.Class() != smtp.ReplyCompleted {
		t.finalizeCurrentWithResponse(reply)
		return
	}
	t.cur.recordReply(reply.Code, reply.Text())
	t.curRcptIdx++
	if t.curRcptIdx < len(t.curRecipients) {
		rcpt := t.curRecipients[t.curRcptIdx]
		if err := t.writeLine("RCPT TO:<%s>", rcpt.Addr); err != nil {
			t.sessionFail(err.Error())
			return
		}
		return
	}
	if err := t.writeLine("DATA"); err != nil {
		t.sessionFail(err.Error())
		return
	}
	t.state = StateData
}

func (t *Transport) doData() {
	reply, err := t.readReply()
	if err != nil {
		t.handleReadErr(err)
		return
	}
	if reply.Code != 354 {
		t.finalizeCurrentWithResponse(reply)
		return
	}
	t.cur.captureSessionState(t.encrypted, t.tlsVersion, t.authenticated, t.authMechName, t.user)

	tx := t.cur
	renderer := NewRenderer(tx.Message(), 0, func(done, total int) { tx.emitProgress(done, total) })
	endedCRLF, rerr := t.streamRenderer(renderer)
	if rerr != nil {
		tx.finalize(ErrData, rerr.Error(), 0)
		t.cur = nil
		t.sessionFail(rerr.Error())
		return
	}
	t.lastBodyEndedCRLF = endedCRLF
	t.state = StateEndOfMessage
}

// streamRenderer copies r's output to the connection until exhaustion, tracking the final
// two bytes written to decide whether the DATA terminator needs a leading CRLF.
func (t *Transport) streamRenderer(r *Renderer) (endedCRLF bool, err error) {
	buf := make([]byte, 32*1024)
	var lastTwo [2]byte
	haveTwo := false
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if werr := t.writeRawBytes(buf[:n]); werr != nil {
				return false, werr
			}
			if n >= 2 {
				lastTwo[0], lastTwo[1] = buf[n-2], buf[n-1]
				haveTwo = true
			} else {
				lastTwo[0] = lastTwo[1]
				lastTwo[1] = buf[0]
			}
		}
		if rerr == io.EOF {
			return haveTwo && lastTwo[0] == '\r' && lastTwo[1] == '\n', nil
		}
		if rerr != nil {
			return false, rerr
		}
	}
}

func (t *Transport) doEndOfMessage() {
	terminator := SingleNewLine + "." + SingleNewLine
	if t.lastBodyEndedCRLF {
		terminator = "." + SingleNewLine
	}
	if err := t.writeRaw(terminator); err != nil {
		t.sessionFail(err.Error())
		return
	}
	t.state = StateDataSent
}

func (t *Transport) doDataSent() {
	reply, err := t.readReply()
	if err != nil {
		t.handleReadErr(err)
		return
	}
	if reply.Class() != smtp.ReplyCompleted {
		t.finalizeCurrentWithResponse(reply)
		return
	}
	t.cur.recordReply(reply.Code, reply.Text())
	t.cur.finalize(ErrNoError, "", reply.Code)
	t.cur = nil
	t.state = StateReadyToSend
}

func (t *Transport) doClosing() {
	_, _ = t.readReply()
	t.closeConn()
	t.state = StateDisconnected
}

// doDisconnected is the hub every path through the loop eventually reaches with the socket
// down: it picks, in priority order, whether the session is done because it was aborted,
// because it timed out, because it should reconnect and resume (the queue is non-empty and
// the session had already reached ReadyToSend at least once), or because it failed before
// ever reaching that point and the whole remaining queue shares the failure.
func (t *Transport) doDisconnected() {
	if t.aborted.Load() {
		t.finalizeAllRemaining(ErrAborted, "aborted by caller", 0)
		t.state = StateFinished
		return
	}
	if t.timedOut {
		t.finalizeAllRemaining(ErrTimeout, "session inactivity timer expired", 0)
		t.state = StateFinished
		return
	}
	if t.rtsReached && t.cur != nil {
		t.requeueCurrent()
	}
	if t.cur == nil && t.QueueLen() == 0 {
		t.state = StateFinished
		return
	}
	if t.rtsReached {
		t.state = StateConnecting
		return
	}
	kind, text := ErrConnection, "connection failed before the session was ready to send"
	if t.lastErr != nil {
		kind, text = t.lastErr.Kind, t.lastErr.Text
	}
	t.finalizeAllRemaining(kind, text, 0)
	t.state = StateFinished
}

// requeueCurrent puts the in-flight Transaction back at the head of the queue so a reconnect
// resumes it instead of losing it: a dropped connection mid-envelope or mid-DATA has to
// restart the whole MAIL FROM/RCPT TO/DATA sequence on the new connection, since SMTP has no
// way to resume a transaction across a TCP session.
func (t *Transport) requeueCurrent() {
	tx := t.cur
	t.cur = nil
	tx.requeue()
	t.queueMu.Lock()
	t.queue = append([]*Transaction{tx}, t.queue...)
	t.queueMu.Unlock()
}

// writeLine formats a command line and writes it terminated with CRLF.
func (t *Transport) writeLine(format string, args ...interface{}) error {
	return t.writeRaw(fmt.Sprintf(format, args...) + SingleNewLine)
}

func (t *Transport) writeRaw(s string) error {
	t.debugf(alog.DirClientToServer, "%s", strings.TrimRight(s, "\r\n"))
	return t.writeRawBytes([]byte(s))
}

func (t *Transport) writeRawBytes(b []byte) error {
	conn, _ := t.getConn()
	if t.timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(t.timeout))
	}
	_, err := conn.Write(b)
	return err
}

func (t *Transport) readReply() (smtp.SmtpReply, error) {
	conn, reader := t.getConn()
	if t.timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(t.timeout))
	}
	reply, err := smtp.ReadReply(reader)
	if err != nil {
		return smtp.SmtpReply{}, err
	}
	t.debugf(alog.DirServerToClient, "%d %s", reply.Code, reply.Text())
	return reply, nil
}

// debugf forwards a wire-trace line to the configured logger, redacting the payload while
// an AUTH challenge/response exchange is in flight.
func (t *Transport) debugf(dir alog.Direction, format string, args ...interface{}) {
	if t.logger == nil {
		return
	}
	if t.authIsActive {
		t.logger.Debugf(alog.Log{Direction: dir, Format: "%s", Messages: []interface{}{"<auth data redacted>"}})
		return
	}
	t.logger.Debugf(alog.Log{Direction: dir, Format: format, Messages: args})
}
