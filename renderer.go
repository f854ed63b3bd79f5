package asmtp

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// rendererState is the traversal FSM's current step, per spec.md's Message Renderer design.
type rendererState int

const (
	rendererIdle rendererState = iota
	rendererSimpleBody
	rendererMimeBoundary
	rendererMimePart
	rendererMimePartBody
	rendererFinished
)

// multipartFrame tracks traversal position within one MimeMultipart container on the
// renderer's parent stack.
type multipartFrame struct {
	mp          *MimeMultipart
	childIndex  int
	lastWasLeaf bool
}

// Renderer converts a Message into a lazy, chunked byte stream with on-the-fly transfer
// encoding. It owns a bounded ring buffer that the traversal FSM fills on demand, and
// suspends traversal while at most one body source is attached, resuming at its
// end-of-stream.
type Renderer struct {
	msg   *Message
	ring  *Ring
	state rendererState
	stack []*multipartFrame

	currentChild Part
	bodySource   io.Reader
	bodyOwned    *Source

	totalChunks     int
	completedChunks int
	onProgress      func(done, total int)

	err error
}

// NewRenderer returns a Renderer bound to msg, with a ring buffer of the given capacity
// (0 uses DefaultRingCapacity). onProgress, if non-nil, is called after each chunk
// completes with the pre-counted total.
func NewRenderer(msg *Message, ringCapacity int, onProgress func(done, total int)) *Renderer {
	total := countChunks(msg.Body()) + 1 // +1 for the message-level header chunk
	switch msg.Body().(type) {
	case *MimePart, *MimeMultipart:
		// A root MimePart or MimeMultipart folds its own header fields into the message-level
		// header chunk, so the header chunk countChunks assigns it is never enqueued separately.
		total--
	}
	return &Renderer{
		msg:         msg,
		ring:        NewRing(ringCapacity),
		totalChunks: total,
		onProgress:  onProgress,
	}
}

// countChunks pre-counts the number of discrete chunks (headers, boundaries, bodies) the
// traversal of p will enqueue, used for progress accounting.
func countChunks(p Part) int {
	switch v := p.(type) {
	case nil:
		return 0
	case *BodyPart:
		return 1
	case *MimePart:
		return 2 // headers chunk + body chunk
	case *MimeMultipart:
		n := 1 // this container's own headers
		for _, c := range v.Children {
			n++ // boundary line preceding the child
			n += countChunks(c)
		}
		n++ // terminal boundary
		return n
	default:
		return 0
	}
}

// Err returns the first unrecoverable rendering error, if any.
func (r *Renderer) Err() error { return r.err }

// Peek returns a direct view of the currently buffered, unread bytes. The view is
// invalidated by the next call to Advance or Read.
func (r *Renderer) Peek() []byte { return r.ring.Peek() }

// Advance commits n bytes of the most recent Peek view as consumed.
func (r *Renderer) Advance(n int) { r.ring.Advance(n) }

// AtEnd reports whether the traversal has finished and every buffered byte has been
// consumed.
func (r *Renderer) AtEnd() bool {
	return r.state == rendererFinished && r.ring.Len() == 0
}

// Read implements io.Reader, advancing the traversal FSM as needed to keep the ring buffer
// fed. It returns io.EOF once the traversal has finished and every byte has been delivered.
func (r *Renderer) Read(p []byte) (int, error) {
	for r.ring.Len() == 0 && r.state != rendererFinished && r.err == nil {
		if err := r.step(); err != nil {
			r.err = err
			return 0, err
		}
	}
	if r.ring.Len() == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	view := r.ring.Peek()
	n := copy(p, view)
	r.ring.Advance(n)
	return n, nil
}

// step advances the traversal FSM by exactly one production step, which may enqueue zero or
// more bytes into the ring buffer and may change state.
func (r *Renderer) step() error {
	switch r.state {
	case rendererIdle:
		return r.stepIdle()
	case rendererSimpleBody:
		return r.stepBodySource(rendererFinished)
	case rendererMimeBoundary:
		return r.stepMimeBoundary()
	case rendererMimePart:
		return r.stepMimePart()
	case rendererMimePartBody:
		return r.stepBodySource(rendererMimeBoundary)
	default:
		return nil
	}
}

// stepIdle renders the message's top-level headers and dispatches on the kind of the root
// body Part. A root *MimePart has no enclosing multipart boundary to carry its own header
// block, so its Content-Type/Content-Transfer-Encoding/etc. fields are folded into the same
// header block as the message's envelope headers rather than emitted as a second block,
// which RFC 5322 would otherwise parse as the start of the body.
func (r *Renderer) stepIdle() error {
	var sb strings.Builder
	headers := r.msg.Headers()

	switch body := r.msg.Body().(type) {
	case nil:
		headers.Render(&sb)
		sb.WriteString(SingleNewLine)
		r.enqueueAndCount(sb.String())
		r.state = rendererFinished
	case *BodyPart:
		headers.Render(&sb)
		sb.WriteString(SingleNewLine)
		r.enqueueAndCount(sb.String())
		r.attachSource(body.Body(), body.Source)
		r.state = rendererSimpleBody
	case *MimePart:
		headers.Append(HeaderMIMEVersion, "1.0")
		appendMimePartHeaderFields(&headers, body)
		headers.Render(&sb)
		sb.WriteString(SingleNewLine)
		r.enqueueAndCount(sb.String())
		enc := effectiveEncoder(body)
		r.attachSource(wrapEncoder(body.Body(), enc), body.Source)
		r.state = rendererMimePartBody
	case *MimeMultipart:
		headers.Append(HeaderMIMEVersion, "1.0")
		appendMultipartHeaderFields(&headers, body)
		headers.Render(&sb)
		sb.WriteString(SingleNewLine)
		r.enqueueAndCount(sb.String())
		r.stack = append(r.stack, &multipartFrame{mp: body})
		r.state = rendererMimeBoundary
	}
	return nil
}

// stepMimeBoundary emits the next boundary line for the stack-top container, or its
// terminal boundary if the child sequence is exhausted.
func (r *Renderer) stepMimeBoundary() error {
	top := r.stack[len(r.stack)-1]
	prefix := ""
	if top.lastWasLeaf {
		prefix = SingleNewLine
	}
	if top.childIndex >= len(top.mp.Children) {
		r.enqueueAndCount(prefix + "--" + top.mp.Boundary + "--" + SingleNewLine)
		r.stack = r.stack[:len(r.stack)-1]
		if len(r.stack) == 0 {
			r.state = rendererFinished
			return nil
		}
		newTop := r.stack[len(r.stack)-1]
		newTop.childIndex++
		newTop.lastWasLeaf = false
		return nil
	}

	r.enqueueAndCount(prefix + "--" + top.mp.Boundary + SingleNewLine)
	r.currentChild = top.mp.Children[top.childIndex]
	r.state = rendererMimePart
	return nil
}

// stepMimePart dispatches on the kind of currentChild: a nested multipart is pushed and
// descended into; a leaf MimePart has its headers resolved and emitted, then its body is
// attached for streaming.
func (r *Renderer) stepMimePart() error {
	switch v := r.currentChild.(type) {
	case *MimeMultipart:
		r.emitMultipartHeaders(v)
		r.stack = append(r.stack, &multipartFrame{mp: v})
		r.state = rendererMimeBoundary
	case *MimePart:
		r.emitMimePartHeaders(v)
		enc := effectiveEncoder(v)
		r.attachSource(wrapEncoder(v.Body(), enc), v.Source)
		r.state = rendererMimePartBody
	}
	return nil
}

// stepBodySource streams the attached body source into the ring buffer in one bounded
// write, detaching it and transitioning to next once it reports end-of-stream.
func (r *Renderer) stepBodySource(next rendererState) error {
	free := r.ring.Free()
	if free == 0 {
		return nil
	}
	buf := make([]byte, free)
	n, err := r.bodySource.Read(buf)
	if n > 0 {
		if _, werr := r.ring.Write(buf[:n]); werr != nil {
			return werr
		}
	}
	if err == io.EOF {
		r.detachSource()
		r.completedChunks++
		r.reportProgress()
		if next == rendererMimeBoundary {
			if len(r.stack) == 0 {
				// A top-level MimePart with no enclosing multipart: nothing to return to.
				r.state = rendererFinished
				return nil
			}
			top := r.stack[len(r.stack)-1]
			top.childIndex++
			top.lastWasLeaf = true
		}
		r.state = next
		return nil
	}
	if err != nil {
		return fmt.Errorf("asmtp: rendering body failed: %w", err)
	}
	return nil
}

// attachSource records the active body reader and, if src carries an owning Source, the
// handle to release when it is detached.
func (r *Renderer) attachSource(reader io.Reader, src *Source) {
	r.bodySource = reader
	r.bodyOwned = src
}

// detachSource releases the currently attached body source, closing it if it was marked
// autoDelete.
func (r *Renderer) detachSource() {
	if r.bodyOwned != nil {
		_ = r.bodyOwned.Close()
	}
	r.bodySource = nil
	r.bodyOwned = nil
}

// enqueueAndCount writes s into the ring buffer and advances the chunk counter, reporting
// progress. It assumes s always fits in a fresh ring (headers and boundary lines are tiny
// relative to DefaultRingCapacity); Compact is invoked defensively if not.
func (r *Renderer) enqueueAndCount(s string) {
	if len(s) > r.ring.Free() {
		r.ring.Compact()
	}
	if _, err := r.ring.Write([]byte(s)); err != nil && r.err == nil {
		r.err = fmt.Errorf("asmtp: rendering headers failed: %w", err)
	}
	r.completedChunks++
	r.reportProgress()
}

// reportProgress invokes onProgress, if set, with the current completed/total counters.
func (r *Renderer) reportProgress() {
	if r.onProgress != nil {
		r.onProgress(r.completedChunks, r.totalChunks)
	}
}

// emitMultipartHeaders renders the Content-Type header for a nested MimeMultipart child,
// as its own header block preceded by the boundary line that introduced it.
func (r *Renderer) emitMultipartHeaders(mp *MimeMultipart) {
	var h Headers
	appendMultipartHeaderFields(&h, mp)
	var sb strings.Builder
	h.Render(&sb)
	sb.WriteString(SingleNewLine)
	r.enqueueAndCount(sb.String())
}

// appendMultipartHeaderFields appends the Content-Type field describing mp's boundary and
// subtype to h.
func appendMultipartHeaderFields(h *Headers, mp *MimeMultipart) {
	h.Set(HeaderContentType, fmt.Sprintf(`multipart/%s; boundary="%s"`, mp.Subtype, mp.Boundary))
}

// emitMimePartHeaders resolves Content-Type, Content-Transfer-Encoding and the optional
// Content-ID/Description/Disposition fields for a leaf MimePart nested inside a multipart
// container, as its own header block preceded by the boundary line that introduced it.
func (r *Renderer) emitMimePartHeaders(p *MimePart) {
	var h Headers
	appendMimePartHeaderFields(&h, p)
	var sb strings.Builder
	h.Render(&sb)
	sb.WriteString(SingleNewLine)
	r.enqueueAndCount(sb.String())
}

// appendMimePartHeaderFields appends the Content-Type (falling back to text/plain;
// charset=us-ascii when unset — MIME-type sniffing is an external collaborator per spec,
// not reimplemented here), Content-Transfer-Encoding, and the optional Content-ID/
// Description/Disposition fields for p to h.
func appendMimePartHeaderFields(h *Headers, p *MimePart) {
	ct := p.ContentType
	if ct == "" {
		ct = "text/plain; charset=us-ascii"
	}
	h.Set(HeaderContentType, ct)
	h.Set(HeaderContentTransferEnc, cteForEncoder(effectiveEncoder(p)))
	if p.ContentID != "" {
		h.Set(HeaderContentID, "<"+p.ContentID+">")
	}
	if p.Description != "" {
		h.Set(HeaderContentDescription, p.Description)
	}
	if disp := contentDisposition(p); disp != "" {
		h.Set(HeaderContentDisposition, disp)
	}
}

// effectiveEncoder resolves EncoderAuto against the part's Content-Type: QuotedPrintable
// for "text/...", Base64 otherwise.
func effectiveEncoder(p *MimePart) Encoder {
	if p.Encoding != EncoderAuto {
		return p.Encoding
	}
	ct := p.ContentType
	if ct == "" {
		ct = "text/plain"
	}
	if strings.HasPrefix(strings.ToLower(ct), "text/") {
		return EncoderQuotedPrintable
	}
	return EncoderBase64
}

// cteForEncoder returns the Content-Transfer-Encoding header value for enc.
func cteForEncoder(enc Encoder) string {
	switch enc {
	case EncoderQuotedPrintable:
		return "quoted-printable"
	case EncoderBase64:
		return "base64"
	default:
		return "8bit"
	}
}

// wrapEncoder wraps src in the transfer encoder implied by enc, or returns src unchanged
// for EncoderPassthrough.
func wrapEncoder(src io.Reader, enc Encoder) io.Reader {
	switch enc {
	case EncoderQuotedPrintable:
		return NewQPEncoder(src, DefaultLineWidth, true)
	case EncoderBase64:
		return NewBase64Encoder(src, DefaultLineWidth)
	default:
		return src
	}
}

// contentDisposition renders the Content-Disposition header value, including the
// filename*=utf-8''<percent-encoded> parameter for a non-empty Filename, per RFC 2183/5987.
func contentDisposition(p *MimePart) string {
	if p.Disposition == "" && p.Filename == "" {
		return ""
	}
	disp := string(p.Disposition)
	if disp == "" {
		disp = string(DispositionAttachment)
	}
	var sb strings.Builder
	sb.WriteString(disp)
	if p.Filename != "" {
		fmt.Fprintf(&sb, `; filename*=utf-8''%s`, rfc5987Encode(p.Filename))
	}
	if !p.CreationDate.IsZero() {
		fmt.Fprintf(&sb, `; creation-date="%s"`, p.CreationDate.Format(time.RFC1123Z))
	}
	if !p.ModDate.IsZero() {
		fmt.Fprintf(&sb, `; modification-date="%s"`, p.ModDate.Format(time.RFC1123Z))
	}
	if !p.ReadDate.IsZero() {
		fmt.Fprintf(&sb, `; read-date="%s"`, p.ReadDate.Format(time.RFC1123Z))
	}
	if p.Size > 0 {
		fmt.Fprintf(&sb, `; size=%d`, p.Size)
	}
	return sb.String()
}

// rfc5987Encode percent-encodes s per RFC 5987's attr-char set (ALPHA / DIGIT /
// "!#$&+-.^_`|~"); every other byte, including all non-ASCII UTF-8 bytes, is escaped.
func rfc5987Encode(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isRFC5987AttrChar(c) {
			sb.WriteByte(c)
			continue
		}
		fmt.Fprintf(&sb, "%%%02X", c)
	}
	return sb.String()
}

func isRFC5987AttrChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case strings.IndexByte("!#$&+-.^_`|~", c) >= 0:
		return true
	}
	return false
}
