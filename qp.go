package asmtp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// QPEncoder is a lazy, sequential, read-only byte source that wraps an underlying byte
// source and emits its content as Quoted-Printable (RFC 2045), line-wrapped at lineWidth
// characters (0 disables wrapping). In TextMode, bare LFs in the source are treated as line
// endings and promoted to CRLF; outside TextMode a bare LF is escaped as =0A like any other
// control octet, while CRLF pairs still pass through verbatim.
type QPEncoder struct {
	src       *bufio.Reader
	lineWidth int
	textMode  bool

	pending   bytes.Buffer
	lineChars int
	srcErr    error
}

// NewQPEncoder returns a QPEncoder reading from src. A lineWidth <= 0 disables line
// wrapping. textMode enables CRLF promotion of bare LFs, appropriate for textual body parts
// as opposed to pre-canonicalized binary-as-text content.
func NewQPEncoder(src io.Reader, lineWidth int, textMode bool) *QPEncoder {
	if lineWidth < 0 {
		lineWidth = 0
	}
	return &QPEncoder{src: bufio.NewReaderSize(src, 4096), lineWidth: lineWidth, textMode: textMode}
}

// Read implements io.Reader, lazily pulling and encoding from the underlying source as needed.
func (e *QPEncoder) Read(p []byte) (int, error) {
	for e.pending.Len() == 0 && e.srcErr == nil {
		e.fill()
	}
	if e.pending.Len() == 0 {
		if e.srcErr == io.EOF {
			return 0, io.EOF
		}
		return 0, e.srcErr
	}
	return e.pending.Read(p)
}

// fill consumes exactly one source byte (or a CRLF pair) and appends its encoded form to
// pending, applying the dot-stuffing, trailing-whitespace and line-width rules.
func (e *QPEncoder) fill() {
	b, err := e.src.ReadByte()
	if err != nil {
		if err != io.EOF {
			e.srcErr = err
		} else {
			e.srcErr = io.EOF
		}
		return
	}

	switch {
	case b == '\r':
		if next, _ := e.src.Peek(1); len(next) == 1 && next[0] == '\n' {
			_, _ = e.src.ReadByte()
			e.pending.WriteString(SingleNewLine)
			e.lineChars = 0
			return
		}
		e.classify(b)
	case b == '\n':
		if e.textMode {
			e.pending.WriteString(SingleNewLine)
			e.lineChars = 0
			return
		}
		e.classify(b)
	case b == '.' && e.lineChars == 0:
		e.emitEscaped(b)
	case b == '\t' || b == ' ':
		if e.followedByNewline() {
			e.emitEscaped(b)
		} else {
			e.emitLiteral(b)
		}
	default:
		e.classify(b)
	}
}

// followedByNewline reports whether the next bytes in the source form a CRLF pair, or, in
// TextMode, a bare LF.
func (e *QPEncoder) followedByNewline() bool {
	look, _ := e.src.Peek(2)
	if len(look) >= 2 && look[0] == '\r' && look[1] == '\n' {
		return true
	}
	if e.textMode && len(look) >= 1 && look[0] == '\n' {
		return true
	}
	return false
}

// classify emits b literally if it falls within the printable, unescaped range, and as a
// =HH escape otherwise.
func (e *QPEncoder) classify(b byte) {
	if isQPPrintable(b) {
		e.emitLiteral(b)
	} else {
		e.emitEscaped(b)
	}
}

// isQPPrintable reports whether b may be emitted without escaping under the generic rule,
// i.e. it falls in 33-60 or 62-126; TAB and SPACE are judged separately since whether they
// need escaping depends on what follows them.
func isQPPrintable(b byte) bool {
	return (b >= 33 && b <= 60) || (b >= 62 && b <= 126)
}

// emitLiteral appends a single literal output character, inserting a soft linebreak first
// if it would not fit within lineWidth.
func (e *QPEncoder) emitLiteral(b byte) {
	e.reserve(1)
	e.pending.WriteByte(b)
	e.lineChars++
}

// emitEscaped appends a three-character =HH escape, inserting a soft linebreak first if it
// would not fit within lineWidth.
func (e *QPEncoder) emitEscaped(b byte) {
	e.reserve(3)
	fmt.Fprintf(&e.pending, "=%02X", b)
	e.lineChars += 3
}

// reserve inserts a soft linebreak (=CRLF) and resets the column counter if the next n
// output columns would exceed lineWidth.
func (e *QPEncoder) reserve(n int) {
	if e.lineWidth <= 0 {
		return
	}
	if e.lineChars+n > e.lineWidth {
		e.pending.WriteString("=" + SingleNewLine)
		e.lineChars = 0
	}
}
