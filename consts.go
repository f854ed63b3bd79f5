package asmtp

// SingleNewLine is the CRLF sequence used to terminate header and command lines on the wire.
const SingleNewLine = "\r\n"
