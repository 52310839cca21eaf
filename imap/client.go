/*
Package imap implements the IMAP4 client subset needed to drive a Gmail
mailbox, including the X-GM-MSGID, X-GM-LABELS and X-GM-RAW extensions.

The package has two layers. Conn executes tagged commands on a connection and
pairs them with their responses; it is used strictly sequentially, one
outstanding command at a time. Parse turns the body of a response into a tree
of typed tokens, see Token.
*/
package imap

import (
	"bufio"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/pes10k/gimap/imapio"
	"github.com/pes10k/gimap/metrics"
	"github.com/pes10k/gimap/mlog"
)

// Conn is a connection to an IMAP server. It implements the transport
// contract the engine consumes: execute one command, get one Response, with
// responses delivered in issuance order. Conn is not safe for concurrent
// use; parallelism is achieved with multiple sessions, not by interleaving
// commands on one session.
type Conn struct {
	conn       net.Conn
	br         *bufio.Reader
	tr         *imapio.TraceReader
	bw         *bufio.Writer
	tw         *imapio.TraceWriter
	log        mlog.Log
	tagGen     int
	lastTag    string
	loggedOut  bool
	connBroken bool
}

// Error is a protocol or i/o level error on the connection, as opposed to a
// NO/BAD command result.
type Error struct{ err error }

func (e Error) Error() string { return e.err.Error() }
func (e Error) Unwrap() error { return e.err }

// Opts are optional settings for a Conn.
type Opts struct {
	Logger *slog.Logger
}

// Dial connects to addr over TLS and reads the server greeting. A nil
// tlsConfig uses sane defaults.
func Dial(addr string, tlsConfig *tls.Config, opts *Opts) (*Conn, error) {
	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	c, err := New(conn, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// New initializes a client on conn, normally a TLS connection to port 993,
// and reads the initial untagged greeting.
func New(conn net.Conn, opts *Opts) (client *Conn, rerr error) {
	c := &Conn{conn: conn}

	var elog *slog.Logger
	if opts != nil {
		elog = opts.Logger
	}
	c.log = mlog.New("imap", elog)

	c.tr = imapio.NewTraceReader(c.log, "CR: ", conn)
	c.br = bufio.NewReader(c.tr)
	c.tw = imapio.NewTraceWriter(c.log, "CW: ", conn)
	c.bw = bufio.NewWriter(c.tw)

	defer c.recover(&rerr)
	line := c.xreadline()
	switch {
	case strings.HasPrefix(line, "* OK"), strings.HasPrefix(line, "* PREAUTH"):
		return c, nil
	case strings.HasPrefix(line, "* BYE"):
		c.xerrorf("greeting: server sent bye: %s", line)
	}
	c.xerrorf("unexpected greeting %q", line)
	panic("not reached")
}

func (c *Conn) recover(rerr *error) {
	x := recover()
	if x == nil {
		return
	}
	if e, ok := x.(Error); ok {
		*rerr = e
		return
	}
	panic(x)
}

func (c *Conn) xerrorf(format string, args ...any) {
	panic(Error{fmt.Errorf(format, args...)})
}

func (c *Conn) xcheckf(err error, format string, args ...any) {
	if err != nil {
		c.connBroken = true
		c.xerrorf("%s: %w", fmt.Sprintf(format, args...), err)
	}
}

// Close closes the underlying connection without logging out.
func (c *Conn) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// LoggedOut tells whether the session has ended, either by Logout or by the
// server sending BYE.
func (c *Conn) LoggedOut() bool {
	return c.loggedOut
}

func (c *Conn) nextTag() string {
	c.tagGen++
	c.lastTag = fmt.Sprintf("x%03d", c.tagGen)
	return c.lastTag
}

// xreadline reads a full line including crlf, returning it without the crlf.
func (c *Conn) xreadline() string {
	line, err := c.br.ReadString('\n')
	c.xcheckf(err, "read line")
	if !strings.HasSuffix(line, "\r\n") {
		c.xerrorf("line without crlf: %q", line)
	}
	return strings.TrimSuffix(line, "\r\n")
}

// literalSize matches a literal announcement at the end of a line, e.g.
// "... {310}". The following crlf and 310 raw bytes belong to the same
// response and are inlined into its body.
func literalSize(line string) (int, bool) {
	if !strings.HasSuffix(line, "}") {
		return 0, false
	}
	o := strings.LastIndexByte(line, '{')
	if o < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(line[o+1 : len(line)-1])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// maxLiteralSize caps the literal data inlined into one response body.
// Gmail rejects messages over 25MB; an announcement far beyond that is a
// broken or malicious server, not a message.
const maxLiteralSize = 100 << 20

// xreadbody reads one full response body: a line plus any announced literals
// and their continuation lines, with literal bytes inlined in wire form so
// the result can be passed to Parse. Literal sizes are checked against
// maxLiteralSize before any allocation.
func (c *Conn) xreadbody() string {
	var sb strings.Builder
	lr := &imapio.LimitReader{R: c.br, Limit: maxLiteralSize}
	for {
		line := c.xreadline()
		sb.WriteString(line)
		n, ok := literalSize(line)
		if !ok {
			return sb.String()
		}
		if int64(n) > lr.Limit {
			c.xcheckf(imapio.ErrLimit, "literal of %d bytes announced in response", n)
		}
		sb.WriteString("\r\n")
		buf := make([]byte, n)
		_, err := io.ReadFull(lr, buf)
		c.xcheckf(err, "reading %d bytes of literal data", n)
		sb.Write(buf)
	}
}

// xresult parses a tagged result line after the tag: status, optional
// bracketed response code, trailing text.
func (c *Conn) xresult(rest string) Result {
	var r Result
	word, text, _ := strings.Cut(rest, " ")
	switch Status(strings.ToUpper(word)) {
	case OK:
		r.Status = OK
	case NO:
		r.Status = NO
	case BAD:
		r.Status = BAD
	default:
		c.xerrorf("expected status, got %q", word)
	}
	if strings.HasPrefix(text, "[") {
		code, more, ok := strings.Cut(text[1:], "]")
		if !ok {
			c.xerrorf("unterminated response code in %q", text)
		}
		words := strings.Fields(code)
		if len(words) > 0 {
			r.Code = strings.ToUpper(words[0])
			r.CodeArgs = words[1:]
		}
		text = strings.TrimPrefix(more, " ")
	}
	r.Text = text
	return r
}

// readResponse reads until the tagged response for the last written command,
// collecting untagged bodies along the way.
func (c *Conn) readResponse() (resp Response) {
	for {
		body := c.xreadbody()
		if rest, ok := strings.CutPrefix(body, "* "); ok {
			if strings.HasPrefix(rest, "BYE") {
				c.loggedOut = true
			}
			resp.Untagged = append(resp.Untagged, rest)
			continue
		}
		if strings.HasPrefix(body, "+ ") || body == "+" {
			c.xerrorf("unexpected continuation request %q", body)
		}
		tag, rest, ok := strings.Cut(body, " ")
		if !ok || tag != c.lastTag {
			c.xerrorf("got tag %q, expected %q", tag, c.lastTag)
		}
		resp.Result = c.xresult(rest)
		return resp
	}
}

// Execute writes a single tagged command and reads its response. The format
// string must not contain the tag. A NO or BAD result is returned as a
// ProtocolError, with the response still filled in.
func (c *Conn) Execute(format string, args ...any) (resp Response, rerr error) {
	cmd := fmt.Sprintf(format, args...)
	verb, _, _ := strings.Cut(cmd, " ")
	verb = strings.ToLower(verb)
	if c.loggedOut {
		return Response{}, SessionClosedError{Op: verb}
	}

	defer c.recover(&rerr)
	defer func() {
		metrics.CommandObserve(verb, resultLabel(resp, rerr))
	}()

	fmt.Fprintf(c.bw, "%s %s\r\n", c.nextTag(), cmd)
	c.xflush()
	resp = c.readResponse()
	if resp.Status != OK {
		return resp, ProtocolError{Command: verb, Result: resp.Result}
	}
	return resp, nil
}

func resultLabel(resp Response, err error) string {
	switch {
	case err == nil:
		return "ok"
	case resp.Status != "":
		return strings.ToLower(string(resp.Status))
	default:
		return "error"
	}
}

func (c *Conn) xflush() {
	if c.connBroken {
		return
	}
	err := c.bw.Flush()
	c.xcheckf(err, "flush")
}

// xreadContinuation reads a line and requires it to be a continuation
// request. If a tagged response arrives instead, it is returned via panic as
// the command result.
func (c *Conn) xreadContinuation() string {
	body := c.xreadbody()
	if rest, ok := strings.CutPrefix(body, "+"); ok {
		return strings.TrimPrefix(rest, " ")
	}
	// Not a continuation: the server rejected the command, read it as the
	// tagged result.
	tag, rest, ok := strings.Cut(body, " ")
	if !ok || tag != c.lastTag {
		c.xerrorf("got %q, expected continuation or tagged result", body)
	}
	result := c.xresult(rest)
	panic(Error{ProtocolError{Command: "continuation", Result: result}})
}

// Login authenticates with the LOGIN command, sending the password to the
// server. The password is written at the traceauth level so protocol traces
// do not contain credentials.
func (c *Conn) Login(username, password string) (rerr error) {
	if c.loggedOut {
		return SessionClosedError{Op: "login"}
	}
	defer c.recover(&rerr)

	fmt.Fprintf(c.bw, "%s login %s ", c.nextTag(), astring(username))
	c.xflush()
	c.tw.SetTrace(mlog.LevelTraceauth)
	fmt.Fprintf(c.bw, "%s\r\n", astring(password))
	c.xflush()
	c.tw.SetTrace(mlog.LevelTrace)

	resp := c.readResponse()
	metrics.AuthObserve("login", resultLabel(resp, nil))
	if resp.Status != OK {
		return AuthError{Mechanism: "login", Result: resp.Result}
	}
	return nil
}

// AuthenticateXOAUTH2 authenticates with the SASL XOAUTH2 mechanism and an
// OAuth2 access token, the way Gmail expects it.
func (c *Conn) AuthenticateXOAUTH2(username, accessToken string) (rerr error) {
	if c.loggedOut {
		return SessionClosedError{Op: "authenticate"}
	}
	defer c.recover(&rerr)

	fmt.Fprintf(c.bw, "%s authenticate xoauth2\r\n", c.nextTag())
	c.xflush()
	c.xreadContinuation()

	c.tw.SetTrace(mlog.LevelTraceauth)
	sasl := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", username, accessToken)
	fmt.Fprintf(c.bw, "%s\r\n", base64.StdEncoding.EncodeToString([]byte(sasl)))
	c.xflush()
	c.tw.SetTrace(mlog.LevelTrace)

	// On rejected tokens the server sends another continuation with a
	// base64 JSON blob, and expects an empty line before the tagged NO.
	var resp Response
	for {
		body := c.xreadbody()
		if rest, ok := strings.CutPrefix(body, "* "); ok {
			resp.Untagged = append(resp.Untagged, rest)
			continue
		}
		if strings.HasPrefix(body, "+") {
			fmt.Fprintf(c.bw, "\r\n")
			c.xflush()
			continue
		}
		tag, rest, ok := strings.Cut(body, " ")
		if !ok || tag != c.lastTag {
			c.xerrorf("got tag %q, expected %q", tag, c.lastTag)
		}
		resp.Result = c.xresult(rest)
		break
	}
	metrics.AuthObserve("xoauth2", resultLabel(resp, nil))
	if resp.Status != OK {
		return AuthError{Mechanism: "xoauth2", Result: resp.Result}
	}
	return nil
}
