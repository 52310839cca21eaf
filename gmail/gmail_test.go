package gmail

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pes10k/gimap/imap"
	"github.com/pes10k/gimap/mlog"
)

func tcheckf(t *testing.T, err error, format string, args ...any) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", fmt.Sprintf(format, args...), err)
	}
}

func tcompare(t *testing.T, a, b any) {
	t.Helper()
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("got:\n%#v\nexpected:\n%#v", a, b)
	}
}

// testServer scripts the server side of a session over a net.Pipe.
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

// ok reads a command, checks the part after the tag, sends the given
// untagged lines and a tagged OK.
func (s *testServer) ok(cmd string, untagged ...string) {
	line := s.readLine()
	tag, rest, okc := strings.Cut(line, " ")
	if !okc || rest != cmd {
		s.t.Errorf("server got %q, expected tag plus %q", line, cmd)
	}
	for _, u := range untagged {
		s.write("* " + u + "\r\n")
	}
	s.write(tag + " OK done\r\n")
}

// no reads a command, checks the part after the tag and sends a tagged NO.
func (s *testServer) no(cmd, text string) {
	line := s.readLine()
	tag, rest, okc := strings.Cut(line, " ")
	if !okc || rest != cmd {
		s.t.Errorf("server got %q, expected tag plus %q", line, cmd)
	}
	s.write(tag + " NO " + text + "\r\n")
}

func (s *testServer) write(data string) {
	if _, err := io.WriteString(s.conn, data); err != nil {
		s.t.Errorf("server write: %s", err)
	}
}

// testAccount returns an authenticated-looking Account wired to a scripted
// server.
func testAccount(t *testing.T, script func(s *testServer)) *Account {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	s := &testServer{t: t, conn: serverConn, br: bufio.NewReader(serverConn)}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer serverConn.Close()
		s.write("* OK gimap test ready\r\n")
		script(s)
	}()
	conn, err := imap.New(clientConn, nil)
	tcheckf(t, err, "setting up session")
	a := &Account{
		conn:  conn,
		email: "t@example.com",
		trash: DefaultTrashMailbox,
		log:   mlog.New("gmailtest", nil),
	}
	t.Cleanup(func() {
		conn.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Errorf("server script did not finish")
		}
	})
	return a
}
