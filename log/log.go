// Package log implements a logger interface that can be used within the go-asmtp package
// to trace the SMTP wire protocol during a session.
package log

const (
	DirServerToClient Direction = iota // Server to Client communication
	DirClientToServer                  // Client to Server communication
)

// DirString is the group name structured loggers attach direction fields under.
const DirString = "direction"

const (
	// DirFromString is the structured-log field name for the origin of a traced line.
	DirFromString = "from"
	// DirToString is the structured-log field name for the destination of a traced line.
	DirToString = "to"
)

// Level represents the severity threshold above which a Logger emits a message.
type Level int

const (
	// LevelError only logs error messages.
	LevelError Level = iota
	// LevelWarn logs warnings and errors.
	LevelWarn
	// LevelInfo logs info, warnings and errors.
	LevelInfo
	// LevelDebug logs everything, including the full wire trace.
	LevelDebug
)

// Direction is a type wrapper for the direction a debug log message goes
type Direction int

// Log represents a log message type that holds a log Direction, a Format string
// and a slice of Messages
type Log struct {
	Direction Direction
	Format    string
	Messages  []interface{}
}

// Logger is the log interface for go-asmtp
type Logger interface {
	Debugf(Log)
	Infof(Log)
	Warnf(Log)
	Errorf(Log)
}

// directionPrefix returns a short arrow prefix for plain-text loggers.
func (l Log) directionPrefix() string {
	if l.Direction == DirClientToServer {
		return "-->"
	}
	return "<--"
}

// directionFrom returns the origin endpoint name for structured loggers.
func (l Log) directionFrom() string {
	if l.Direction == DirClientToServer {
		return "client"
	}
	return "server"
}

// directionTo returns the destination endpoint name for structured loggers.
func (l Log) directionTo() string {
	if l.Direction == DirClientToServer {
		return "server"
	}
	return "client"
}
