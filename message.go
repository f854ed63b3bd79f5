package asmtp

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageOption is a function that can be used for grouping Message construction options.
type MessageOption func(*Message)

// Message carries the composed content of one outbound mail: envelope addressing fields,
// a subject, a date, a body Part tree, and any raw headers to inject verbatim.
type Message struct {
	messageID string

	sender  Address
	from    []Address
	to      []Address
	cc      []Address
	bcc     []Address
	replyTo []Address

	date    time.Time
	subject string
	body    Part

	rawHeaders Headers
	userAgent  string
}

// NewMessage returns a Message with a generated Message-ID and the current time as its
// Date, then applies opts.
func NewMessage(opts ...MessageOption) *Message {
	m := &Message{
		messageID: defaultMessageID(),
		date:      time.Now(),
		userAgent: "go-asmtp",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// defaultMessageID returns "<hex-uuid@hostname>" where hostname is the first label of the
// local host name, or "unknown" if it cannot be determined.
func defaultMessageID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	} else if i := strings.IndexByte(host, '.'); i >= 0 {
		host = host[:i]
	}
	return fmt.Sprintf("<%s@%s>", strings.ReplaceAll(uuid.New().String(), "-", ""), host)
}

// WithSender sets the envelope sender address.
func WithSender(a Address) MessageOption {
	return func(m *Message) { m.sender = a }
}

// WithFrom sets the From header addresses.
func WithFrom(a ...Address) MessageOption {
	return func(m *Message) { m.from = a }
}

// WithTo sets the To header addresses.
func WithTo(a ...Address) MessageOption {
	return func(m *Message) { m.to = a }
}

// WithCc sets the Cc header addresses.
func WithCc(a ...Address) MessageOption {
	return func(m *Message) { m.cc = a }
}

// WithBcc sets the Bcc addresses. Bcc addresses contribute to the envelope recipient list
// but are never rendered into the message headers.
func WithBcc(a ...Address) MessageOption {
	return func(m *Message) { m.bcc = a }
}

// WithReplyTo sets the Reply-To header addresses.
func WithReplyTo(a ...Address) MessageOption {
	return func(m *Message) { m.replyTo = a }
}

// WithSubject sets the Subject header.
func WithSubject(s string) MessageOption {
	return func(m *Message) { m.subject = s }
}

// WithDate overrides the Date header value.
func WithDate(t time.Time) MessageOption {
	return func(m *Message) { m.date = t }
}

// WithMessageID overrides the generated Message-ID.
func WithMessageID(id string) MessageOption {
	return func(m *Message) { m.messageID = id }
}

// WithUserAgent overrides the default User-Agent header value.
func WithUserAgent(ua string) MessageOption {
	return func(m *Message) { m.userAgent = ua }
}

// WithBody sets the root body Part.
func WithBody(p Part) MessageOption {
	return func(m *Message) { m.body = p }
}

// WithRawHeader appends a raw header to be injected as-is into the rendered top-level
// headers, after the standard ones.
func WithRawHeader(name Header, value string) MessageOption {
	return func(m *Message) { m.rawHeaders.Append(name, value) }
}

// MessageID returns the message's Message-ID, including the surrounding angle brackets.
func (m *Message) MessageID() string { return m.messageID }

// Body returns the root Part of the message.
func (m *Message) Body() Part { return m.body }

// EnvelopeSender returns the SMTP MAIL FROM address: the sender field if it is a valid
// address, else the first From entry. It returns ErrNoSender if neither is available.
func (m *Message) EnvelopeSender() (Address, error) {
	if m.sender.Addr != "" && m.sender.Valid() {
		return m.sender, nil
	}
	if len(m.from) > 0 && m.from[0].Valid() {
		return m.from[0], nil
	}
	return Address{}, &TransactionError{Kind: ErrNoSender, Text: "no valid sender or From address set"}
}

// EnvelopeRecipients returns the deduplicated concatenation of To, Cc and Bcc addresses, in
// that order. It returns ErrNoRecipients if the result is empty.
func (m *Message) EnvelopeRecipients() ([]Address, error) {
	seen := make(map[string]bool)
	var out []Address
	for _, group := range [][]Address{m.to, m.cc, m.bcc} {
		for _, a := range group {
			key := strings.ToLower(a.Addr)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return nil, &TransactionError{Kind: ErrNoRecipients, Text: "no recipient addresses set"}
	}
	return out, nil
}

// Headers renders the message's top-level header set: From, To, Cc, Reply-To, Subject,
// Date, Message-ID, User-Agent, followed by any raw headers, in that order. Bcc is
// intentionally never rendered.
func (m *Message) Headers() Headers {
	var h Headers
	if len(m.from) > 0 {
		h.Set(HeaderFrom, joinAddresses(m.from))
	}
	if len(m.to) > 0 {
		h.Set(HeaderTo, joinAddresses(m.to))
	}
	if len(m.cc) > 0 {
		h.Set(HeaderCc, joinAddresses(m.cc))
	}
	if len(m.replyTo) > 0 {
		h.Set(HeaderReplyTo, joinAddresses(m.replyTo))
	}
	if m.subject != "" {
		h.Set(HeaderSubject, m.subject)
	}
	h.Set(HeaderDate, m.date.Format("Mon, 02 Jan 2006 15:04:05 -0700"))
	h.Set(HeaderMessageID, m.messageID)
	if m.userAgent != "" {
		h.Set(HeaderUserAgent, m.userAgent)
	}
	for _, p := range m.rawHeaders.pairs {
		h.Append(p.name, p.value)
	}
	return h
}

// joinAddresses renders a slice of Address values as a comma-separated octet-form list.
func joinAddresses(addrs []Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}
