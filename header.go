// SPDX-FileCopyrightText: The go-asmtp Authors
//
// SPDX-License-Identifier: MIT

package asmtp

import (
	"strings"
)

// Header is a type wrapper for a string representing an RFC 5322 header field name.
type Header string

const (
	// HeaderContentDescription is the "Content-Description" header.
	HeaderContentDescription Header = "Content-Description"

	// HeaderContentDisposition is the "Content-Disposition" header.
	HeaderContentDisposition Header = "Content-Disposition"

	// HeaderContentID is the "Content-ID" header.
	HeaderContentID Header = "Content-ID"

	// HeaderContentTransferEnc is the "Content-Transfer-Encoding" header.
	HeaderContentTransferEnc Header = "Content-Transfer-Encoding"

	// HeaderContentType is the "Content-Type" header.
	HeaderContentType Header = "Content-Type"

	// HeaderDate is the "Date" header field.
	// https://datatracker.ietf.org/doc/html/rfc822#section-5.1
	HeaderDate Header = "Date"

	// HeaderFrom is the "From" header field.
	HeaderFrom Header = "From"

	// HeaderTo is the "To" header field.
	HeaderTo Header = "To"

	// HeaderCc is the "Cc" header field.
	HeaderCc Header = "Cc"

	// HeaderBcc is the "Bcc" header field. It is never rendered into the wire headers; it
	// only informs envelope recipient derivation.
	HeaderBcc Header = "Bcc"

	// HeaderReplyTo is the "Reply-To" header field.
	HeaderReplyTo Header = "Reply-To"

	// HeaderMessageID is the "Message-ID" header field.
	HeaderMessageID Header = "Message-ID"

	// HeaderMIMEVersion is the "MIME-Version" header field, per RFC 2045.
	HeaderMIMEVersion Header = "MIME-Version"

	// HeaderSubject is the "Subject" header field.
	HeaderSubject Header = "Subject"

	// HeaderUserAgent is the "User-Agent" header field.
	HeaderUserAgent Header = "User-Agent"
)

// headerPair is a single (name, value) entry in a Headers sequence.
type headerPair struct {
	name  Header
	value string
}

// Headers is an ordered sequence of (name, value) octet pairs. Names are stored with their
// original case but compared case-insensitively for lookup, matching RFC 5322 header field
// naming rules.
type Headers struct {
	pairs []headerPair
}

// Set removes every entry matching name and appends a single new entry with the given value.
func (h *Headers) Set(name Header, value string) {
	h.removeAll(name)
	h.Append(name, value)
}

// Append appends a new (name, value) entry without removing any existing entry by that name.
func (h *Headers) Append(name Header, value string) {
	h.pairs = append(h.pairs, headerPair{name: name, value: value})
}

// Has reports whether any entry with the given name exists.
func (h *Headers) Has(name Header) bool {
	for _, p := range h.pairs {
		if strings.EqualFold(string(p.name), string(name)) {
			return true
		}
	}
	return false
}

// ValueOfFirst returns the value of the first entry matching name, and whether one was found.
func (h *Headers) ValueOfFirst(name Header) (string, bool) {
	for _, p := range h.pairs {
		if strings.EqualFold(string(p.name), string(name)) {
			return p.value, true
		}
	}
	return "", false
}

// ValuesOfAll returns the values of every entry matching name, in insertion order.
func (h *Headers) ValuesOfAll(name Header) []string {
	var values []string
	for _, p := range h.pairs {
		if strings.EqualFold(string(p.name), string(name)) {
			values = append(values, p.value)
		}
	}
	return values
}

// Render writes every entry as "name: value\r\n", skipping entries with an empty name.
// Entries whose value is the empty string are still rendered, per RFC 5322; only a wholly
// absent name is skipped.
func (h *Headers) Render(sb *strings.Builder) {
	for _, p := range h.pairs {
		if p.name == "" {
			continue
		}
		sb.WriteString(string(p.name))
		sb.WriteString(": ")
		sb.WriteString(p.value)
		sb.WriteString(SingleNewLine)
	}
}

// removeAll drops every entry matching name.
func (h *Headers) removeAll(name Header) {
	kept := h.pairs[:0]
	for _, p := range h.pairs {
		if !strings.EqualFold(string(p.name), string(name)) {
			kept = append(kept, p)
		}
	}
	h.pairs = kept
}
