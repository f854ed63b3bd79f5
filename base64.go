package asmtp

import (
	"bytes"
	"io"
)

// DefaultLineWidth is the default output line width, excluding the trailing CRLF, used by
// Base64Encoder and QPEncoder when no explicit width is configured.
const DefaultLineWidth = 76

const base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// Base64Encoder is a lazy, sequential, read-only byte source that wraps an underlying byte
// source and emits its content as standard Base64 (RFC 2045), line-wrapped at lineWidth
// characters (0 disables wrapping). It accumulates input in three-octet quanta; the final,
// possibly short, quantum is padded with '=' to a length-four output group and the stream is
// terminated with a trailing CRLF once any output has been produced.
type Base64Encoder struct {
	src       io.Reader
	lineWidth int

	pending   bytes.Buffer
	lineChars int
	wroteAny  bool
	srcErr    error
	finished  bool
}

// NewBase64Encoder returns a Base64Encoder reading from src. A lineWidth <= 0 disables line
// wrapping entirely.
func NewBase64Encoder(src io.Reader, lineWidth int) *Base64Encoder {
	if lineWidth < 0 {
		lineWidth = 0
	}
	return &Base64Encoder{src: src, lineWidth: lineWidth}
}

// Read implements io.Reader, lazily pulling and encoding from the underlying source as needed.
func (e *Base64Encoder) Read(p []byte) (int, error) {
	for e.pending.Len() == 0 && e.srcErr == nil {
		if err := e.fill(); err != nil {
			return 0, err
		}
	}
	if e.pending.Len() == 0 && !e.finished && e.srcErr != nil {
		e.emitTrailer()
	}
	if e.pending.Len() == 0 {
		if e.srcErr != io.EOF {
			return 0, e.srcErr
		}
		return 0, io.EOF
	}
	return e.pending.Read(p)
}

// fill reads the next three-octet quantum from the underlying source and encodes it, or, at
// end-of-stream, encodes the final short quantum (if any) and records the terminal error.
func (e *Base64Encoder) fill() error {
	var chunk [3]byte
	n, err := io.ReadFull(e.src, chunk[:])
	switch {
	case n == 3:
		e.encodeGroup(chunk[0], chunk[1], chunk[2], 4)
		e.wroteAny = true
		return nil
	case n > 0:
		e.encodePartial(chunk[:n])
		e.wroteAny = true
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		e.srcErr = io.EOF
		return nil
	}
	if err != nil {
		e.srcErr = err
	}
	return nil
}

// encodeGroup appends the standard Base64 encoding of three input octets, inserting a CRLF
// once the current output line has reached lineWidth.
func (e *Base64Encoder) encodeGroup(a, b, c byte, outLen int) {
	e.pending.WriteByte(base64Alphabet[a>>2])
	e.pending.WriteByte(base64Alphabet[(a&0x03)<<4|(b>>4)])
	if outLen > 2 {
		e.pending.WriteByte(base64Alphabet[(b&0x0f)<<2|(c>>6)])
	}
	if outLen > 3 {
		e.pending.WriteByte(base64Alphabet[c&0x3f])
	}
	e.wrapLine(outLen)
}

// encodePartial pads a short (1- or 2-octet) final quantum with '=' to a length-four group.
func (e *Base64Encoder) encodePartial(rest []byte) {
	switch len(rest) {
	case 1:
		e.pending.WriteByte(base64Alphabet[rest[0]>>2])
		e.pending.WriteByte(base64Alphabet[(rest[0]&0x03)<<4])
		e.pending.WriteString("==")
	case 2:
		e.pending.WriteByte(base64Alphabet[rest[0]>>2])
		e.pending.WriteByte(base64Alphabet[(rest[0]&0x03)<<4|(rest[1]>>4)])
		e.pending.WriteByte(base64Alphabet[(rest[1]&0x0f)<<2])
		e.pending.WriteByte('=')
	}
	e.wrapLine(4)
}

// wrapLine advances the line-width counter by n output characters and inserts a soft CRLF
// once the line has met or exceeded lineWidth.
func (e *Base64Encoder) wrapLine(n int) {
	if e.lineWidth <= 0 {
		return
	}
	e.lineChars += n
	if e.lineChars >= e.lineWidth {
		e.pending.WriteString(SingleNewLine)
		e.lineChars = 0
	}
}

// emitTrailer appends the final CRLF that terminates a non-empty encoded stream.
func (e *Base64Encoder) emitTrailer() {
	if e.wroteAny {
		e.pending.WriteString(SingleNewLine)
	}
	e.finished = true
}
