// SPDX-FileCopyrightText: The go-asmtp Authors
//
// SPDX-License-Identifier: MIT

// Package smtp implements the wire-level primitives of an SMTP client session: reply
// parsing and the SASL authentication mechanisms used during the AUTH exchange.
package smtp

import "errors"

// ServerInfo records what an Auth mechanism needs to know about the session it is
// authenticating: the server name as dialed, whether the connection is currently
// TLS-protected, and the set of AUTH mechanisms the server advertised.
type ServerInfo struct {
	Name string
	TLS  bool
	Auth []string
}

// Auth is implemented by each supported SASL mechanism. Start returns the mechanism name
// to send with the initial "AUTH <name>" command and, optionally, an initial response sent
// on the same line. Next is called once per subsequent server challenge; it returns the
// response to send, or (nil, nil) once the mechanism has nothing further to send.
type Auth interface {
	Start(server *ServerInfo) (mechanism string, initialResponse []byte, err error)
	Next(fromServer []byte, more bool) (response []byte, err error)
}

// ErrUnencrypted is the error for refusing to send credentials over a connection that is
// neither TLS-protected nor to localhost. None of the mechanisms in this package return it:
// PLAIN, LOGIN and CRAM-MD5 all start regardless of ServerInfo.TLS and ServerInfo.Name.
var ErrUnencrypted = errors.New("smtp: won't send credentials over unencrypted connection")

// ErrUnexpectedServerChallenge is returned by Next when the server sends a challenge the
// mechanism has no further response for.
var ErrUnexpectedServerChallenge = errors.New("smtp: unexpected server challenge")

// isLocalhost reports whether name is one of the literal local host names "localhost",
// "127.0.0.1" or "::1". No mechanism in this package calls it.
func isLocalhost(name string) bool {
	return name == "localhost" || name == "127.0.0.1" || name == "::1"
}
