package imap

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pes10k/gimap/imapio"
)

// testServer scripts one side of a net.Pipe as an IMAP server.
type testServer struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
}

func (s *testServer) readLine() string {
	line, err := s.br.ReadString('\n')
	if err != nil {
		s.t.Errorf("server read: %s", err)
		return ""
	}
	return strings.TrimSuffix(line, "\r\n")
}

// expect reads a command line, checks the part after the tag and returns the
// tag.
func (s *testServer) expect(cmd string) string {
	line := s.readLine()
	tag, rest, ok := strings.Cut(line, " ")
	if !ok || rest != cmd {
		s.t.Errorf("server got %q, expected tag plus %q", line, cmd)
	}
	return tag
}

func (s *testServer) writeLine(line string) {
	if _, err := io.WriteString(s.conn, line+"\r\n"); err != nil {
		s.t.Errorf("server write: %s", err)
	}
}

// write sends raw bytes, e.g. literal contents without a trailing crlf.
func (s *testServer) write(data string) {
	if _, err := io.WriteString(s.conn, data); err != nil {
		s.t.Errorf("server write: %s", err)
	}
}

// newTestConn connects a Conn to a scripted server. The script runs in a
// separate goroutine; the greeting is sent before it starts.
func newTestConn(t *testing.T, script func(s *testServer)) *Conn {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	s := &testServer{t: t, conn: serverConn, br: bufio.NewReader(serverConn)}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer serverConn.Close()
		s.writeLine("* OK gimap ready")
		script(s)
	}()
	c, err := New(clientConn, nil)
	tcheckf(t, err, "setting up client")
	t.Cleanup(func() {
		c.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Errorf("server script did not finish")
		}
	})
	return c
}

func TestExecute(t *testing.T) {
	c := newTestConn(t, func(s *testServer) {
		tag := s.expect("select INBOX")
		s.writeLine("* 3 EXISTS")
		s.writeLine("* 0 RECENT")
		s.writeLine(tag + " OK [READ-WRITE] INBOX selected")
	})
	resp, err := c.Select("INBOX")
	tcheckf(t, err, "select")
	tcompare(t, resp.Untagged, []string{"3 EXISTS", "0 RECENT"})
	n, ok := resp.Exists()
	tcompare(t, ok, true)
	tcompare(t, n, uint32(3))
	tcompare(t, resp.Result, Result{Status: OK, Code: "READ-WRITE", CodeArgs: []string{}, Text: "INBOX selected"})
}

func TestLiteralInline(t *testing.T) {
	c := newTestConn(t, func(s *testServer) {
		tag := s.expect("uid fetch 7 (UID BODY.PEEK[])")
		s.write("* 1 FETCH (UID 7 BODY[] {5}\r\nhello)\r\n")
		s.writeLine(tag + " OK fetch done")
	})
	resp, err := c.UIDFetch("7", "(UID BODY.PEEK[])")
	tcheckf(t, err, "uid fetch")
	tcompare(t, resp.Untagged, []string{"1 FETCH (UID 7 BODY[] {5}\r\nhello)"})

	// The inlined body reparses with the grammar parser.
	tokens, err := Parse(strings.TrimPrefix(resp.Untagged[0], "1 FETCH "))
	tcheckf(t, err, "parsing fetch body")
	tcompare(t, tokens, []Token{List{
		Atom("UID"), Atom("7"),
		AttributeSpec{Primary: "BODY"}, Literal("hello"),
	}})
}

func TestLiteralSizeLimit(t *testing.T) {
	c := newTestConn(t, func(s *testServer) {
		s.expect("uid fetch 7 (BODY.PEEK[])")
		// Announce far more literal data than any message can be. The
		// client must refuse before trying to read or allocate it.
		s.writeLine(fmt.Sprintf("* 1 FETCH (UID 7 BODY[] {%d}", int64(200)<<20))
	})
	_, err := c.UIDFetch("7", "(BODY.PEEK[])")
	if !errors.Is(err, imapio.ErrLimit) {
		t.Fatalf("got %v, expected size limit error", err)
	}
}

func TestProtocolError(t *testing.T) {
	c := newTestConn(t, func(s *testServer) {
		tag := s.expect("expunge")
		s.writeLine(tag + " NO [CANNOT] not now")
	})
	_, err := c.Expunge()
	var perr ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("got %v, expected ProtocolError", err)
	}
	tcompare(t, perr.Command, "expunge")
	tcompare(t, perr.Result, Result{Status: NO, Code: "CANNOT", CodeArgs: []string{}, Text: "not now"})
}

func TestLogin(t *testing.T) {
	c := newTestConn(t, func(s *testServer) {
		tag := s.expect(`login user@example.com "pass word"`)
		s.writeLine(tag + " OK welcome")
	})
	err := c.Login("user@example.com", "pass word")
	tcheckf(t, err, "login")
}

func TestLoginRejected(t *testing.T) {
	c := newTestConn(t, func(s *testServer) {
		tag := s.expect("login u p")
		s.writeLine(tag + " NO [AUTHENTICATIONFAILED] bad credentials")
	})
	err := c.Login("u", "p")
	var aerr AuthError
	if !errors.As(err, &aerr) {
		t.Fatalf("got %v, expected AuthError", err)
	}
	tcompare(t, aerr.Mechanism, "login")
}

func TestAuthenticateXOAUTH2(t *testing.T) {
	c := newTestConn(t, func(s *testServer) {
		tag := s.expect("authenticate xoauth2")
		s.writeLine("+")
		sasl, err := base64.StdEncoding.DecodeString(s.readLine())
		if err != nil {
			s.t.Errorf("decoding sasl response: %s", err)
		}
		if string(sasl) != "user=u\x01auth=Bearer token\x01\x01" {
			s.t.Errorf("unexpected sasl response %q", sasl)
		}
		s.writeLine(tag + " OK authenticated")
	})
	err := c.AuthenticateXOAUTH2("u", "token")
	tcheckf(t, err, "authenticate")
}

func TestAuthenticateXOAUTH2Rejected(t *testing.T) {
	// On a bad token the server sends a second continuation with an error
	// blob and expects an empty line before the tagged NO.
	c := newTestConn(t, func(s *testServer) {
		tag := s.expect("authenticate xoauth2")
		s.writeLine("+")
		s.readLine() // sasl response
		s.writeLine("+ eyJzdGF0dXMiOiI0MDAifQ==")
		if line := s.readLine(); line != "" {
			s.t.Errorf("got %q, expected empty line", line)
		}
		s.writeLine(tag + " NO invalid credentials")
	})
	err := c.AuthenticateXOAUTH2("u", "expired")
	var aerr AuthError
	if !errors.As(err, &aerr) {
		t.Fatalf("got %v, expected AuthError", err)
	}
	tcompare(t, aerr.Mechanism, "xoauth2")
}

func TestAppend(t *testing.T) {
	msg := "Subject: hi\r\n\r\nbody\r\n"
	date := time.Date(2023, 2, 3, 10, 0, 0, 0, time.UTC)
	c := newTestConn(t, func(s *testServer) {
		line := s.readLine()
		tag, rest, _ := strings.Cut(line, " ")
		exp := fmt.Sprintf(`append INBOX (\Seen) " 3-Feb-2023 10:00:00 +0000" {%d+}`, len(msg))
		if rest != exp {
			s.t.Errorf("server got %q, expected %q", rest, exp)
		}
		buf := make([]byte, len(msg)+2)
		if _, err := io.ReadFull(s.br, buf); err != nil {
			s.t.Errorf("reading literal: %s", err)
		}
		if string(buf) != msg+"\r\n" {
			s.t.Errorf("got message data %q", buf)
		}
		s.writeLine(tag + " OK [APPENDUID 1745186588 5] appended")
	})
	resp, err := c.Append("INBOX", []string{`\Seen`}, date, []byte(msg))
	tcheckf(t, err, "append")
	uid, ok := resp.AppendUID()
	tcompare(t, ok, true)
	tcompare(t, uid, "5")
}

func TestSessionClosed(t *testing.T) {
	c := newTestConn(t, func(s *testServer) {
		tag := s.expect("logout")
		s.writeLine("* BYE see you")
		s.writeLine(tag + " OK bye")
	})
	_, err := c.Logout()
	tcheckf(t, err, "logout")
	if !c.LoggedOut() {
		t.Fatalf("connection not marked logged out")
	}
	_, err = c.Execute("noop")
	var serr SessionClosedError
	if !errors.As(err, &serr) {
		t.Fatalf("got %v, expected SessionClosedError", err)
	}
}
