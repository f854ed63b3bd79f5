package asmtp

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func readAll(t *testing.T, r io.Reader) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := io.Copy(&buf, r)
	if err != nil {
		t.Fatalf("io.Copy() = %v", err)
	}
	return buf.String()
}

func TestBase64Encoder_EmptyInput(t *testing.T) {
	enc := NewBase64Encoder(strings.NewReader(""), DefaultLineWidth)
	if got := readAll(t, enc); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestBase64Encoder_OneByte(t *testing.T) {
	enc := NewBase64Encoder(bytes.NewReader([]byte{'M'}), DefaultLineWidth)
	got := readAll(t, enc)
	if !strings.HasPrefix(got, "TQ==") {
		t.Fatalf("got %q, want prefix TQ==", got)
	}
}

func TestBase64Encoder_TwoBytes(t *testing.T) {
	enc := NewBase64Encoder(bytes.NewReader([]byte("Ma")), DefaultLineWidth)
	got := readAll(t, enc)
	if !strings.HasPrefix(got, "TWE=") {
		t.Fatalf("got %q, want prefix TWE=", got)
	}
}

func TestBase64Encoder_LineWrapping(t *testing.T) {
	input := bytes.Repeat([]byte{'A'}, 60)
	enc := NewBase64Encoder(bytes.NewReader(input), 16)
	got := readAll(t, enc)
	lines := strings.Split(strings.TrimSuffix(got, SingleNewLine), SingleNewLine)
	for i, line := range lines {
		if len(line) > 16 {
			t.Fatalf("line %d too long: %q", i, line)
		}
	}
}

func TestBase64Encoder_NoLineWrapDisabled(t *testing.T) {
	input := bytes.Repeat([]byte{'A'}, 60)
	enc := NewBase64Encoder(bytes.NewReader(input), 0)
	got := readAll(t, enc)
	body, ok := strings.CutSuffix(got, SingleNewLine)
	if !ok {
		t.Fatalf("expected the stream to end with its terminating CRLF, got %q", got)
	}
	if strings.Contains(body, SingleNewLine) {
		t.Fatalf("expected no line-break CRLF with wrapping disabled, got %q", got)
	}
}

func TestBase64Encoder_SmallReadBuffer(t *testing.T) {
	input := bytes.Repeat([]byte("hello world "), 20)
	enc := NewBase64Encoder(bytes.NewReader(input), DefaultLineWidth)
	var out bytes.Buffer
	buf := make([]byte, 3)
	for {
		n, err := enc.Read(buf)
		out.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read() = %v", err)
		}
	}
	full := NewBase64Encoder(bytes.NewReader(input), DefaultLineWidth)
	want := readAll(t, full)
	if out.String() != want {
		t.Fatalf("byte-at-a-time read mismatch:\ngot:  %q\nwant: %q", out.String(), want)
	}
}
