package imap

import (
	"fmt"
	"strings"
	"time"

	"github.com/pes10k/gimap/metrics"
	"github.com/pes10k/gimap/mlog"
)

// List executes the IMAP4 "LIST" command with the given pattern. Pattern can
// contain * (match any) or % (match any except hierarchy delimiter).
func (c *Conn) List(pattern string) (Response, error) {
	return c.Execute(`list "" %s`, astring(pattern))
}

// Select makes a mailbox the active one on the session with the IMAP4
// "SELECT" command. The returned response includes the untagged EXISTS
// message count, see Response.Exists.
func (c *Conn) Select(mailbox string) (Response, error) {
	return c.Execute("select %s", astring(mailbox))
}

// Examine is Select in read-only mode: message flags are not changed by
// fetches and the mailbox cannot be expunged.
func (c *Conn) Examine(mailbox string) (Response, error) {
	return c.Execute("examine %s", astring(mailbox))
}

// UIDSearch executes "UID SEARCH" with free-form criteria, e.g. "ALL".
func (c *Conn) UIDSearch(criteria string) (Response, error) {
	return c.Execute("uid search %s", criteria)
}

// UIDSearchGmailRaw executes a UID search with the X-GM-RAW verb, passing
// term to Gmail's search engine, e.g. `has:attachment` or
// `rfc822msgid:<id@example.com>`.
func (c *Conn) UIDSearchGmailRaw(term string) (Response, error) {
	return c.Execute("uid search x-gm-raw %s", stringx(term))
}

// UIDFetch fetches the given attribute items for the messages in uidSet,
// e.g. "(UID FLAGS BODY.PEEK[])".
func (c *Conn) UIDFetch(uidSet string, items string) (Response, error) {
	return c.Execute("uid fetch %s %s", uidSet, items)
}

// Fetch fetches attribute items by message sequence number rather than UID.
func (c *Conn) Fetch(seqSet string, items string) (Response, error) {
	return c.Execute("fetch %s %s", seqSet, items)
}

// UIDStoreFlagsAdd adds flags to the messages in uidSet with "UID STORE
// +FLAGS".
func (c *Conn) UIDStoreFlagsAdd(uidSet string, flags ...string) (Response, error) {
	return c.Execute("uid store %s +flags (%s)", uidSet, strings.Join(flags, " "))
}

// UIDStoreLabelsAdd adds Gmail labels to the messages in uidSet with the
// X-GM-LABELS store extension. Labels are quoted as needed.
func (c *Conn) UIDStoreLabelsAdd(uidSet string, labels ...string) (Response, error) {
	l := make([]string, len(labels))
	for i, s := range labels {
		l[i] = labelString(s)
	}
	return c.Execute("uid store %s +x-gm-labels (%s)", uidSet, strings.Join(l, " "))
}

// labelString serializes a Gmail label for a STORE or FETCH command. System
// labels like \Inbox keep their leading backslash unquoted.
func labelString(s string) string {
	if strings.HasPrefix(s, `\`) {
		return s
	}
	return astring(s)
}

// UIDCopy copies the messages in uidSet to another mailbox with "UID COPY".
func (c *Conn) UIDCopy(uidSet string, mailbox string) (Response, error) {
	return c.Execute("uid copy %s %s", uidSet, astring(mailbox))
}

// Expunge permanently removes messages marked \Deleted from the selected
// mailbox.
func (c *Conn) Expunge() (Response, error) {
	return c.Execute("expunge")
}

// Append adds a message to a mailbox with the given flags and internal date.
// A zero internalDate omits the date, letting the server choose. The new
// message's UID is in the APPENDUID response code, see Response.AppendUID.
func (c *Conn) Append(mailbox string, flags []string, internalDate time.Time, msg []byte) (resp Response, rerr error) {
	if c.loggedOut {
		return Response{}, SessionClosedError{Op: "append"}
	}
	defer c.recover(&rerr)
	defer func() {
		metrics.CommandObserve("append", resultLabel(resp, rerr))
	}()

	var date string
	if !internalDate.IsZero() {
		date = ` "` + internalDate.Format("_2-Jan-2006 15:04:05 -0700") + `"`
	}
	fmt.Fprintf(c.bw, "%s append %s (%s)%s {%d+}\r\n", c.nextTag(), astring(mailbox), strings.Join(flags, " "), date, len(msg))
	c.tw.SetTrace(mlog.LevelTracedata)
	_, err := c.bw.Write(msg)
	c.xcheckf(err, "write message data")
	c.tw.SetTrace(mlog.LevelTrace)
	fmt.Fprintf(c.bw, "\r\n")
	c.xflush()

	resp = c.readResponse()
	if resp.Status != OK {
		return resp, ProtocolError{Command: "append", Result: resp.Result}
	}
	return resp, nil
}

// CloseMailbox closes the selected mailbox with the IMAP4 "CLOSE" command,
// expunging any messages marked \Deleted.
func (c *Conn) CloseMailbox() (Response, error) {
	return c.Execute("close")
}

// Logout ends the session. After a successful logout no further commands can
// be executed; they return a SessionClosedError.
func (c *Conn) Logout() (Response, error) {
	resp, err := c.Execute("logout")
	if err == nil {
		c.loggedOut = true
	}
	return resp, err
}
