// SPDX-FileCopyrightText: The go-asmtp Authors
//
// SPDX-License-Identifier: MIT

package asmtp

import (
	"bytes"
	"io"
	"time"

	"github.com/google/uuid"
)

// PartKind identifies which of the three Part variants a value holds.
type PartKind int

const (
	// KindBodyPart marks a Part as a BodyPart: raw octets with no structural headers.
	KindBodyPart PartKind = iota
	// KindMimePart marks a Part as a MimePart: a single MIME leaf.
	KindMimePart
	// KindMimeMultipart marks a Part as a MimeMultipart: a container of child Parts.
	KindMimeMultipart
)

// Part is a tagged variant implemented by BodyPart, MimePart and MimeMultipart. The
// renderer type-switches on the concrete value to decide how to traverse it.
type Part interface {
	Kind() PartKind
}

// Encoder selects the transfer encoding a MimePart's body is wrapped in before it is
// written to the wire.
type Encoder int

const (
	// EncoderAuto picks QuotedPrintable for a "text/..." content type and Base64 otherwise.
	EncoderAuto Encoder = iota
	// EncoderPassthrough emits the body unencoded (8bit).
	EncoderPassthrough
	// EncoderQuotedPrintable forces Quoted-Printable transfer encoding.
	EncoderQuotedPrintable
	// EncoderBase64 forces Base64 transfer encoding.
	EncoderBase64
)

// MultipartSubtype is the MIME multipart subtype of a MimeMultipart container.
type MultipartSubtype string

const (
	MultipartMixed       MultipartSubtype = "mixed"
	MultipartAlternative MultipartSubtype = "alternative"
	MultipartDigest      MultipartSubtype = "digest"
	MultipartParallel    MultipartSubtype = "parallel"
)

// Disposition is the Content-Disposition value of a MimePart.
type Disposition string

const (
	DispositionInline     Disposition = "inline"
	DispositionAttachment Disposition = "attachment"
)

// Source is an external byte source attached to a BodyPart or MimePart in place of an
// inline byte slice. A Source with AutoDelete set is owned by the Part: the renderer closes
// it and releases the reference once it detaches the source at end-of-stream.
type Source struct {
	Reader     io.Reader
	AutoDelete bool
}

// Close releases the underlying reader if it implements io.Closer and AutoDelete is set.
func (s *Source) Close() error {
	if s == nil || !s.AutoDelete {
		return nil
	}
	if c, ok := s.Reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// BodyPart is a Part holding raw octets with no structural headers, either inline or drawn
// from an external byte source.
type BodyPart struct {
	Inline []byte
	Source *Source
}

// Kind implements Part.
func (BodyPart) Kind() PartKind { return KindBodyPart }

// Body returns a reader over the part's content, preferring an attached Source over the
// inline bytes.
func (b *BodyPart) Body() io.Reader {
	if b.Source != nil {
		return b.Source.Reader
	}
	return bytes.NewReader(b.Inline)
}

// MimePart is a Part representing a single MIME leaf: structural headers plus a body.
type MimePart struct {
	ContentType  string
	ContentID    string
	Description  string
	Disposition  Disposition
	Filename     string
	CreationDate time.Time
	ModDate      time.Time
	ReadDate     time.Time
	Size         int64
	Encoding     Encoder

	Inline []byte
	Source *Source
}

// Kind implements Part.
func (MimePart) Kind() PartKind { return KindMimePart }

// Body returns a reader over the part's content, preferring an attached Source over the
// inline bytes.
func (p *MimePart) Body() io.Reader {
	if p.Source != nil {
		return p.Source.Reader
	}
	return bytes.NewReader(p.Inline)
}

// MimeMultipart is a Part representing a container of child Parts, each either a MimePart
// or a nested MimeMultipart.
type MimeMultipart struct {
	Subtype  MultipartSubtype
	Boundary string
	Children []Part
}

// Kind implements Part.
func (MimeMultipart) Kind() PartKind { return KindMimeMultipart }

// NewMimeMultipart returns a MimeMultipart with a freshly generated hex-UUID boundary. Pass
// a non-empty boundary to override it; the caller is then responsible for uniqueness within
// the message.
func NewMimeMultipart(subtype MultipartSubtype, boundary string, children ...Part) *MimeMultipart {
	if boundary == "" {
		boundary = uuid.New().String()
	}
	return &MimeMultipart{Subtype: subtype, Boundary: boundary, Children: children}
}

// Add appends a child Part. Only MimePart and MimeMultipart values are valid children; a
// BodyPart has no structural headers and cannot appear inside a multipart container.
func (m *MimeMultipart) Add(child Part) {
	m.Children = append(m.Children, child)
}
