// SPDX-FileCopyrightText: The go-asmtp Authors
//
// SPDX-License-Identifier: MIT

package asmtp

// State is the current step of a Transport's session FSM.
type State int

const (
	// StateIdle is the state before Run is called.
	StateIdle State = iota
	// StateResolving indicates a DNS lookup has been issued.
	StateResolving
	// StateResolved indicates the lookup result is being inspected.
	StateResolved
	// StateConnecting indicates a TCP connect is in progress.
	StateConnecting
	// StateConnected indicates the TCP socket is up, awaiting the server's banner.
	StateConnected
	// StateBanner indicates the 220 banner is being parsed.
	StateBanner
	// StateSessionInit indicates the EHLO reply is being inspected.
	StateSessionInit
	// StateTlsSetup indicates STARTTLS has been issued.
	StateTlsSetup
	// StateEncrypted indicates the TLS handshake has completed.
	StateEncrypted
	// StateEncryptedSessionInit indicates post-TLS extension enumeration.
	StateEncryptedSessionInit
	// StateSessionSetup indicates the session is deciding whether to authenticate.
	StateSessionSetup
	// StateAuth indicates a SASL challenge/response loop is underway.
	StateAuth
	// StateReadyToSend indicates the session is choosing the next transaction, if any.
	StateReadyToSend
	// StateMailFrom indicates MAIL FROM has been sent, awaiting acknowledgement.
	StateMailFrom
	// StateRcptTo indicates the RCPT TO loop is underway.
	StateRcptTo
	// StateData indicates DATA has been sent and the server has replied 354.
	StateData
	// StateEndOfMessage indicates the renderer has finished and the terminator is pending.
	StateEndOfMessage
	// StateDataSent indicates the terminator was sent, awaiting the final acknowledgement.
	StateDataSent
	// StateClosing indicates QUIT has been issued.
	StateClosing
	// StateDisconnected indicates the socket is down.
	StateDisconnected
	// StateFinished is the terminal state.
	StateFinished
)

// String implements fmt.Stringer for State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateResolving:
		return "Resolving"
	case StateResolved:
		return "Resolved"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateBanner:
		return "Banner"
	case StateSessionInit:
		return "SessionInit"
	case StateTlsSetup:
		return "TlsSetup"
	case StateEncrypted:
		return "Encrypted"
	case StateEncryptedSessionInit:
		return "EncryptedSessionInit"
	case StateSessionSetup:
		return "SessionSetup"
	case StateAuth:
		return "Auth"
	case StateReadyToSend:
		return "ReadyToSend"
	case StateMailFrom:
		return "MailFrom"
	case StateRcptTo:
		return "RcptTo"
	case StateData:
		return "Data"
	case StateEndOfMessage:
		return "EndOfMessage"
	case StateDataSent:
		return "DataSent"
	case StateClosing:
		return "Closing"
	case StateDisconnected:
		return "Disconnected"
	case StateFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether s represents the end of a Run call.
func (s State) IsTerminal() bool {
	return s == StateFinished
}

// InTransaction reports whether s is one of the per-message envelope/DATA states, the
// window within which a 4xx/5xx reply finalizes only the current transaction rather than
// the whole session.
func (s State) InTransaction() bool {
	switch s {
	case StateMailFrom, StateRcptTo, StateData, StateEndOfMessage, StateDataSent:
		return true
	default:
		return false
	}
}
