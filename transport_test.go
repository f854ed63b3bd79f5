package asmtp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedServer is a minimal in-process SMTP server driven by a list of canned responses
// keyed off the command it just read, used to exercise Transport's session loop end to end
// without a real network or a real SMTP implementation.
type scriptedServer struct {
	ln       net.Listener
	mu       sync.Mutex
	commands []string
}

func newScriptedServer(t *testing.T, handle func(conn net.Conn, r *bufio.Reader)) *scriptedServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &scriptedServer{ln: ln}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn, bufio.NewReader(conn))
	}()
	return s
}

func (s *scriptedServer) addr() (host string, port int) {
	tcpAddr := s.ln.Addr().(*net.TCPAddr)
	return tcpAddr.IP.String(), tcpAddr.Port
}

func (s *scriptedServer) close() { _ = s.ln.Close() }

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func writeLine(t *testing.T, conn net.Conn, s string) {
	t.Helper()
	if _, err := conn.Write([]byte(s + "\r\n")); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func testMessage(from, to, subject, body string) *Message {
	return NewMessage(
		WithFrom(Address{Addr: from}),
		WithTo(Address{Addr: to}),
		WithSubject(subject),
		WithMessageID("<fixed@example.com>"),
		WithBody(&BodyPart{Inline: []byte(body)}),
	)
}

func runTransport(t *testing.T, tr *Transport, host string, port int) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return tr.RunAddr(ctx, host, port)
}

func TestTransport_PlainDeliveryOneRecipient(t *testing.T) {
	srv := newScriptedServer(t, func(conn net.Conn, r *bufio.Reader) {
		writeLine(t, conn, "220 fake.example.com ESMTP")
		readLine(t, r) // EHLO
		writeLine(t, conn, "250-fake.example.com")
		writeLine(t, conn, "250 8BITMIME")
		readLine(t, r) // MAIL FROM
		writeLine(t, conn, "250 2.1.0 Ok")
		readLine(t, r) // RCPT TO
		writeLine(t, conn, "250 2.1.5 Ok")
		readLine(t, r) // DATA
		writeLine(t, conn, "354 End data with <CR><LF>.<CR><LF>")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if strings.TrimRight(line, "\r\n") == "." {
				break
			}
		}
		writeLine(t, conn, "250 2.0.0 Ok: queued")
		readLine(t, r) // QUIT
		writeLine(t, conn, "221 2.0.0 Bye")
	})
	defer srv.close()

	tr, err := NewTransport(WithTLSLevel(TLSDisabled))
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	tx, err := tr.Enqueue(testMessage("a@example.com", "b@example.com", "hi", "hello world"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	host, port := srv.addr()
	if err := runTransport(t, tr, host, port); err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-tx.Done()
	if tx.Err() != nil {
		t.Fatalf("transaction failed: %v", tx.Err())
	}
	if tx.StatusCode() != 250 {
		t.Errorf("StatusCode() = %d, want 250", tx.StatusCode())
	}
}

func TestTransport_StartTLSOptionalWithPlainAuth(t *testing.T) {
	srv := newScriptedServer(t, func(conn net.Conn, r *bufio.Reader) {
		writeLine(t, conn, "220 fake.example.com ESMTP")
		readLine(t, r) // EHLO
		writeLine(t, conn, "250-fake.example.com")
		writeLine(t, conn, "250 AUTH PLAIN LOGIN")
		readLine(t, r) // AUTH PLAIN <initial>
		writeLine(t, conn, "235 2.7.0 Authentication successful")
		readLine(t, r) // MAIL FROM
		writeLine(t, conn, "250 Ok")
		readLine(t, r) // RCPT TO
		writeLine(t, conn, "250 Ok")
		readLine(t, r) // DATA
		writeLine(t, conn, "354 Go ahead")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if strings.TrimRight(line, "\r\n") == "." {
				break
			}
		}
		writeLine(t, conn, "250 Ok: queued")
		readLine(t, r) // QUIT
		writeLine(t, conn, "221 Bye")
	})
	defer srv.close()

	// TLSOptional with no STARTTLS advertised proceeds in the clear, matching the
	// "optional, unavailable" branch of the policy; this exercises the AUTH PLAIN path
	// without needing a TLS handshake in the fake server.
	tr, err := NewTransport(
		WithTLSLevel(TLSOptional),
		WithAuthMech(AuthPlain),
		WithUser("user@example.com"),
		WithPassword("secret"),
	)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	tx, err := tr.Enqueue(testMessage("a@example.com", "b@example.com", "hi", "hello"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	host, port := srv.addr()
	if err := runTransport(t, tr, host, port); err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-tx.Done()
	if tx.Err() != nil {
		t.Fatalf("transaction failed: %v", tx.Err())
	}
	if !tx.Authenticated() {
		t.Error("expected Authenticated() to be true")
	}
	if tx.AuthMech() != "Plain" {
		t.Errorf("AuthMech() = %q, want %q", tx.AuthMech(), "Plain")
	}
}

func TestTransport_StartTLSOptionalWithCramMd5Auth(t *testing.T) {
	const challenge = "<1896.697170952@postoffice.reston.mci.net>"
	const wantResp = "tim b913a602c7eda7a495b4e6e7334d3890"

	srv := newScriptedServer(t, func(conn net.Conn, r *bufio.Reader) {
		writeLine(t, conn, "220 fake.example.com ESMTP")
		readLine(t, r) // EHLO
		writeLine(t, conn, "250-fake.example.com")
		writeLine(t, conn, "250 AUTH CRAM-MD5")
		readLine(t, r) // AUTH CRAM-MD5
		writeLine(t, conn, "334 "+base64.StdEncoding.EncodeToString([]byte(challenge)))
		resp := readLine(t, r)
		decoded, err := base64.StdEncoding.DecodeString(resp)
		if err != nil {
			t.Fatalf("server: bad base64 response: %v", err)
		}
		if string(decoded) != wantResp {
			t.Errorf("CRAM-MD5 response = %q, want %q", decoded, wantResp)
		}
		writeLine(t, conn, "235 2.7.0 Authentication successful")
		readLine(t, r) // MAIL FROM
		writeLine(t, conn, "250 Ok")
		readLine(t, r) // RCPT TO
		writeLine(t, conn, "250 Ok")
		readLine(t, r) // DATA
		writeLine(t, conn, "354 Go ahead")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if strings.TrimRight(line, "\r\n") == "." {
				break
			}
		}
		writeLine(t, conn, "250 Ok: queued")
		readLine(t, r) // QUIT
		writeLine(t, conn, "221 Bye")
	})
	defer srv.close()

	tr, err := NewTransport(
		WithTLSLevel(TLSOptional),
		WithAuthMech(AuthCramMd5),
		WithUser("tim"),
		WithPassword("tanstaaftanstaaf"),
	)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	tx, err := tr.Enqueue(testMessage("a@example.com", "b@example.com", "hi", "hello"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	host, port := srv.addr()
	if err := runTransport(t, tr, host, port); err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-tx.Done()
	if tx.Err() != nil {
		t.Fatalf("transaction failed: %v", tx.Err())
	}
	if !tx.Authenticated() {
		t.Error("expected Authenticated() to be true")
	}
	if tx.AuthMech() != "CramMd5" {
		t.Errorf("AuthMech() = %q, want %q", tx.AuthMech(), "CramMd5")
	}
}

func TestTransport_TlsRequiredButNotOffered(t *testing.T) {
	var sawMailFrom bool
	srv := newScriptedServer(t, func(conn net.Conn, r *bufio.Reader) {
		writeLine(t, conn, "220 fake.example.com ESMTP")
		readLine(t, r) // EHLO
		writeLine(t, conn, "250-fake.example.com")
		writeLine(t, conn, "250 8BITMIME")
		line := readLine(t, r) // expect QUIT, never MAIL FROM
		if strings.HasPrefix(strings.ToUpper(line), "MAIL FROM") {
			sawMailFrom = true
		}
		writeLine(t, conn, "221 Bye")
	})
	defer srv.close()

	tr, err := NewTransport(WithTLSLevel(TLSRequired))
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	tx, err := tr.Enqueue(testMessage("a@example.com", "b@example.com", "hi", "hello"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	host, port := srv.addr()
	if err := runTransport(t, tr, host, port); err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-tx.Done()
	if sawMailFrom {
		t.Error("MAIL FROM should never have been sent when TLS is required but unavailable")
	}
	if tx.Err() == nil || tx.Err().Kind != ErrTlsRequired {
		t.Fatalf("Err() = %v, want ErrTlsRequired", tx.Err())
	}
}

func TestTransport_MidQueueRejectionRecovers(t *testing.T) {
	srv := newScriptedServer(t, func(conn net.Conn, r *bufio.Reader) {
		writeLine(t, conn, "220 fake.example.com ESMTP")
		readLine(t, r) // EHLO
		writeLine(t, conn, "250-fake.example.com")
		writeLine(t, conn, "250 8BITMIME")

		// First transaction: RCPT TO rejected with 550.
		readLine(t, r) // MAIL FROM
		writeLine(t, conn, "250 Ok")
		readLine(t, r) // RCPT TO
		writeLine(t, conn, "550 5.1.1 No such user")
		readLine(t, r) // RSET
		writeLine(t, conn, "250 Ok")

		// Second transaction: delivered cleanly.
		readLine(t, r) // MAIL FROM
		writeLine(t, conn, "250 Ok")
		readLine(t, r) // RCPT TO
		writeLine(t, conn, "250 Ok")
		readLine(t, r) // DATA
		writeLine(t, conn, "354 Go ahead")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if strings.TrimRight(line, "\r\n") == "." {
				break
			}
		}
		writeLine(t, conn, "250 Ok: queued")
		readLine(t, r) // QUIT
		writeLine(t, conn, "221 Bye")
	})
	defer srv.close()

	tr, err := NewTransport(WithTLSLevel(TLSDisabled))
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	tx1, _ := tr.Enqueue(testMessage("a@example.com", "bad@example.com", "one", "body one"))
	tx2, _ := tr.Enqueue(testMessage("a@example.com", "good@example.com", "two", "body two"))

	host, port := srv.addr()
	if err := runTransport(t, tr, host, port); err != nil {
		t.Fatalf("Run: %v", err)
	}

	<-tx1.Done()
	if tx1.Err() == nil || tx1.Err().Kind != ErrResponse || tx1.Err().Code != 550 {
		t.Fatalf("tx1.Err() = %v, want ErrResponse/550", tx1.Err())
	}

	<-tx2.Done()
	if tx2.Err() != nil {
		t.Fatalf("tx2 should have delivered, got: %v", tx2.Err())
	}
}

func TestTransport_InactivityTimeout(t *testing.T) {
	srv := newScriptedServer(t, func(conn net.Conn, r *bufio.Reader) {
		writeLine(t, conn, "220 fake.example.com ESMTP")
		readLine(t, r) // EHLO
		// Never reply to EHLO: the client's read deadline should fire.
		time.Sleep(2 * time.Second)
	})
	defer srv.close()

	tr, err := NewTransport(WithTLSLevel(TLSDisabled), WithTimeout(200*time.Millisecond))
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	tx, err := tr.Enqueue(testMessage("a@example.com", "b@example.com", "hi", "hello"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	host, port := srv.addr()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := tr.RunAddr(ctx, host, port); err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-tx.Done()
	if tx.Err() == nil || tx.Err().Kind != ErrTimeout {
		t.Fatalf("Err() = %v, want ErrTimeout", tx.Err())
	}
}

func TestTransport_ReconnectAfterReadyToSend(t *testing.T) {
	var mu sync.Mutex
	attempt := 0

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			attempt++
			n := attempt
			mu.Unlock()

			go func(conn net.Conn, n int) {
				defer conn.Close()
				r := bufio.NewReader(conn)
				writeLine(t, conn, "220 fake.example.com ESMTP")
				readLine(t, r) // EHLO
				writeLine(t, conn, "250-fake.example.com")
				writeLine(t, conn, "250 8BITMIME")

				readLine(t, r) // MAIL FROM
				writeLine(t, conn, "250 Ok")
				readLine(t, r) // RCPT TO
				writeLine(t, conn, "250 Ok")

				if n == 1 {
					// Drop the connection mid-DATA to force a reconnect.
					readLine(t, r) // DATA
					writeLine(t, conn, "354 Go ahead")
					_, _ = r.ReadString('\n')
					return
				}

				readLine(t, r) // DATA
				writeLine(t, conn, "354 Go ahead")
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if strings.TrimRight(line, "\r\n") == "." {
						break
					}
				}
				writeLine(t, conn, "250 Ok: queued")
				readLine(t, r) // QUIT
				writeLine(t, conn, "221 Bye")
			}(conn, n)
		}
	}()

	tr, err := NewTransport(WithTLSLevel(TLSDisabled))
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	tx, err := tr.Enqueue(testMessage("a@example.com", "b@example.com", "hi", "hello world"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	tcpAddr := ln.Addr().(*net.TCPAddr)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.RunAddr(ctx, tcpAddr.IP.String(), tcpAddr.Port); err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-tx.Done()
	if tx.Err() != nil {
		t.Fatalf("expected eventual delivery after reconnect, got: %v", tx.Err())
	}
	mu.Lock()
	defer mu.Unlock()
	if attempt < 2 {
		t.Errorf("attempt = %d, want at least 2 (a reconnect)", attempt)
	}
}

func TestTransport_AbortFinalizesQueue(t *testing.T) {
	srv := newScriptedServer(t, func(conn net.Conn, r *bufio.Reader) {
		writeLine(t, conn, "220 fake.example.com ESMTP")
		readLine(t, r) // EHLO
		writeLine(t, conn, "250-fake.example.com")
		writeLine(t, conn, "250 8BITMIME")
		readLine(t, r) // MAIL FROM
		time.Sleep(2 * time.Second)
	})
	defer srv.close()

	tr, err := NewTransport(WithTLSLevel(TLSDisabled))
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	tx, err := tr.Enqueue(testMessage("a@example.com", "b@example.com", "hi", "hello"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	host, port := srv.addr()
	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- tr.RunAddr(ctx, host, port) }()

	time.Sleep(100 * time.Millisecond)
	tr.Abort()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Abort")
	}
	<-tx.Done()
	if tx.Err() == nil || tx.Err().Kind != ErrAborted {
		t.Fatalf("Err() = %v, want ErrAborted", tx.Err())
	}
}

func TestTransport_EnvelopeValidationErrorsAreLocal(t *testing.T) {
	srv := newScriptedServer(t, func(conn net.Conn, r *bufio.Reader) {
		writeLine(t, conn, "220 fake.example.com ESMTP")
		readLine(t, r) // EHLO
		writeLine(t, conn, "250-fake.example.com")
		writeLine(t, conn, "250 8BITMIME")
		readLine(t, r) // MAIL FROM for the only valid transaction
		writeLine(t, conn, "250 Ok")
		readLine(t, r) // RCPT TO
		writeLine(t, conn, "250 Ok")
		readLine(t, r) // DATA
		writeLine(t, conn, "354 Go ahead")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if strings.TrimRight(line, "\r\n") == "." {
				break
			}
		}
		writeLine(t, conn, "250 Ok: queued")
		readLine(t, r) // QUIT
		writeLine(t, conn, "221 Bye")
	})
	defer srv.close()

	tr, err := NewTransport(WithTLSLevel(TLSDisabled))
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	// No recipients: must finalize locally, without ever touching the network.
	badTx, _ := tr.Enqueue(NewMessage(WithFrom(Address{Addr: "a@example.com"})))
	goodTx, _ := tr.Enqueue(testMessage("a@example.com", "b@example.com", "hi", "hello"))

	host, port := srv.addr()
	if err := runTransport(t, tr, host, port); err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-badTx.Done()
	if badTx.Err() == nil || badTx.Err().Kind != ErrNoRecipients {
		t.Fatalf("badTx.Err() = %v, want ErrNoRecipients", badTx.Err())
	}
	<-goodTx.Done()
	if goodTx.Err() != nil {
		t.Fatalf("goodTx should have delivered, got: %v", goodTx.Err())
	}
}

func TestTransport_DotStuffedBodyTerminatesCorrectly(t *testing.T) {
	var captured bytes.Buffer
	srv := newScriptedServer(t, func(conn net.Conn, r *bufio.Reader) {
		writeLine(t, conn, "220 fake.example.com ESMTP")
		readLine(t, r)
		writeLine(t, conn, "250-fake.example.com")
		writeLine(t, conn, "250 8BITMIME")
		readLine(t, r)
		writeLine(t, conn, "250 Ok")
		readLine(t, r)
		writeLine(t, conn, "250 Ok")
		readLine(t, r) // DATA
		writeLine(t, conn, "354 Go ahead")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if strings.TrimRight(line, "\r\n") == "." {
				break
			}
			captured.WriteString(line)
		}
		writeLine(t, conn, "250 Ok: queued")
		readLine(t, r)
		writeLine(t, conn, "221 Bye")
	})
	defer srv.close()

	tr, err := NewTransport(WithTLSLevel(TLSDisabled))
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	// A raw BodyPart leaves dot-stuffing to the caller per spec; a MimePart's QP encoder
	// force-encodes a leading "." instead, so this body's embedded ".line two" never reaches
	// the wire as a premature end-of-data marker.
	msg := NewMessage(
		WithFrom(Address{Addr: "a@example.com"}),
		WithTo(Address{Addr: "b@example.com"}),
		WithMessageID("<fixed@example.com>"),
		WithBody(&MimePart{
			ContentType: "text/plain; charset=utf-8",
			Inline:      []byte("line one\r\n.line two"),
		}),
	)
	tx, _ := tr.Enqueue(msg)

	host, port := srv.addr()
	if err := runTransport(t, tr, host, port); err != nil {
		t.Fatalf("Run: %v", err)
	}
	<-tx.Done()
	if tx.Err() != nil {
		t.Fatalf("transaction failed: %v", tx.Err())
	}
	if strings.Contains(captured.String(), "\n.line two") || strings.HasPrefix(captured.String(), ".line two") {
		t.Errorf("expected leading dot to be QP-escaped, captured: %q", captured.String())
	}
}
