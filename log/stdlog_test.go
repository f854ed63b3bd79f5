package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestStdlog_Debugf(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelDebug)
	logger.Debugf(Log{Direction: DirClientToServer, Format: "EHLO %s", Messages: []interface{}{"localhost"}})
	if !strings.Contains(buf.String(), "EHLO localhost") {
		t.Errorf("expected debug output to contain command, got: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "-->") {
		t.Errorf("expected client-to-server arrow in output, got: %q", buf.String())
	}
}

func TestStdlog_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelError)
	logger.Debugf(Log{Direction: DirServerToClient, Format: "220 ready"})
	if buf.Len() != 0 {
		t.Errorf("expected no output below configured level, got: %q", buf.String())
	}
	logger.Errorf(Log{Direction: DirServerToClient, Format: "500 error"})
	if !strings.Contains(buf.String(), "500 error") {
		t.Errorf("expected error output, got: %q", buf.String())
	}
}

func TestLog_DirectionHelpers(t *testing.T) {
	l := Log{Direction: DirClientToServer}
	if l.directionFrom() != "client" || l.directionTo() != "server" {
		t.Errorf("unexpected direction helpers for client-to-server: from=%s to=%s", l.directionFrom(), l.directionTo())
	}
	l.Direction = DirServerToClient
	if l.directionFrom() != "server" || l.directionTo() != "client" {
		t.Errorf("unexpected direction helpers for server-to-client: from=%s to=%s", l.directionFrom(), l.directionTo())
	}
}
