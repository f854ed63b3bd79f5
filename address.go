// SPDX-FileCopyrightText: The go-asmtp Authors
//
// SPDX-License-Identifier: MIT

package asmtp

import (
	"fmt"
	"mime"
	"net/mail"
	"strings"
)

// Address is an RFC 2822 addr-spec, optionally paired with a display name.
type Address struct {
	Name string
	Addr string
}

// NewAddress parses s, which may be a bare addr-spec or a "Display Name <addr-spec>" form,
// into an Address.
func NewAddress(s string) (Address, error) {
	a, err := mail.ParseAddress(s)
	if err != nil {
		return Address{}, fmt.Errorf("asmtp: invalid address %q: %w", s, err)
	}
	return Address{Name: a.Name, Addr: a.Address}, nil
}

// Valid reports whether the addr-spec parses on its own, independent of the display name.
func (a Address) Valid() bool {
	_, err := mail.ParseAddress(a.Addr)
	return err == nil
}

// String returns the octet form of the address: the bare addr-spec when the display name is
// empty, or "<encoded-display> <addr>" otherwise. Display names that validate as an RFC 2822
// atom or quoted-string are emitted literally; all others are emitted as an RFC 2047
// encoded-word.
func (a Address) String() string {
	if a.Name == "" {
		return a.Addr
	}
	if isAtomOrQuotable(a.Name) {
		return fmt.Sprintf("%s <%s>", quoteIfNeeded(a.Name), a.Addr)
	}
	enc := mime.QEncoding.Encode("UTF-8", a.Name)
	return fmt.Sprintf("%s <%s>", enc, a.Addr)
}

// ParseAddress is a round-trip helper: it parses the octet form produced by Address.String
// (or any RFC 2822-compliant address string) back into an Address.
func ParseAddress(octetForm string) (Address, error) {
	return NewAddress(octetForm)
}

// isAtomOrQuotable reports whether s contains only 7-bit ASCII, i.e. does not require RFC
// 2047 encoding to be transported as a display name.
func isAtomOrQuotable(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
	}
	return true
}

// quoteIfNeeded wraps s in double quotes if it contains characters not permitted in an
// unquoted RFC 2822 atom (whitespace or specials).
func quoteIfNeeded(s string) string {
	isAtom := true
	for _, r := range s {
		if !isAtomChar(r) {
			isAtom = false
			break
		}
	}
	if isAtom {
		return s
	}
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	sb.WriteByte('"')
	return sb.String()
}

// isAtomChar reports whether r is permitted, unescaped, inside an RFC 2822 atom.
func isAtomChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case strings.ContainsRune("!#$%&'*+-/=?^_`{|}~.", r):
		return true
	}
	return false
}
