package gmail

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"
)

func TestMessageEqual(t *testing.T) {
	inbox := &Mailbox{Name: "INBOX"}
	archive := &Mailbox{Name: "Archive"}

	a := &Message{mailbox: inbox, Envelope: Envelope{UID: 4, Flags: []string{`\Seen`}}}
	b := &Message{mailbox: inbox, Envelope: Envelope{UID: 4, Flags: []string{`\Flagged`}}}
	c := &Message{mailbox: inbox, Envelope: Envelope{UID: 5}}
	d := &Message{mailbox: archive, Envelope: Envelope{UID: 4}}

	tcompare(t, a.Equal(b), true)
	tcompare(t, a.Equal(c), false)
	tcompare(t, a.Equal(d), false)
	tcompare(t, a.Equal(nil), false)
}

func TestIsRead(t *testing.T) {
	m := &Message{Envelope: Envelope{Flags: []string{`\Flagged`, `\Seen`}}}
	tcompare(t, m.IsRead(), true)
	m = &Message{Envelope: Envelope{Flags: []string{`\Flagged`}}}
	tcompare(t, m.IsRead(), false)
	m = &Message{}
	tcompare(t, m.IsRead(), false)
}

func TestSentTime(t *testing.T) {
	m := &Message{Envelope: Envelope{Date: "Sun, 14 Aug 2022 12:01:45 +0000"}}
	want := time.Date(2022, 8, 14, 12, 1, 45, 0, time.UTC)
	if st := m.SentTime(); !st.Equal(want) {
		t.Fatalf("sent time %v, expected %v", st, want)
	}

	m = &Message{}
	if st := m.SentTime(); !st.IsZero() {
		t.Fatalf("sent time %v, expected zero for missing date header", st)
	}

	m = &Message{Envelope: Envelope{Date: "not a date"}}
	if st := m.SentTime(); !st.IsZero() {
		t.Fatalf("sent time %v, expected zero for malformed date header", st)
	}
}

const saveTestMsg = "From: alice@example.com\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: hello\r\n" +
	"Message-Id: <m1@example.com>\r\n" +
	"Date: Sun, 14 Aug 2022 12:01:45 +0000\r\n" +
	"Content-Type: text/plain; charset=iso-8859-1\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"caf=E9 one\r\n"

func testMessageWithBody(t *testing.T, mb *Mailbox, raw string) *Message {
	t.Helper()
	m := &Message{
		mailbox: mb,
		Envelope: Envelope{
			UID:          4,
			Flags:        []string{`\Seen`},
			Labels:       []string{`\Inbox`, "work"},
			InternalDate: time.Date(2022, 8, 14, 12, 1, 45, 0, time.UTC),
		},
	}
	err := m.setRaw([]byte(raw))
	tcheckf(t, err, "installing message body")
	return m
}

func TestReplace(t *testing.T) {
	a := testAccount(t, func(s *testServer) {})
	mb := &Mailbox{account: a, Name: "INBOX"}
	m := testMessageWithBody(t, mb, saveTestMsg)

	err := m.Replace("one", "two")
	tcheckf(t, err, "replacing body text")

	body, err := m.PlainBody()
	tcheckf(t, err, "reading body after replace")
	tcompare(t, body, "café two\r\n")

	raw, err := m.Raw()
	tcheckf(t, err, "rendering after replace")
	if !strings.Contains(string(raw), "caf=E9 two") {
		t.Fatalf("rendered message not re-encoded into original charset and encoding:\n%s", raw)
	}
}

func TestSave(t *testing.T) {
	sleep = func(time.Duration) {}
	defer func() { sleep = time.Sleep }()

	a := testAccount(t, func(s *testServer) {
		// Save first runs the delete protocol on the old copy.
		deleteScriptPrefix(s)
		s.ok(`uid search x-gm-raw "rfc822msgid:m1@example.com"`, "SEARCH 31")
		s.ok(`uid store 31 +flags (\Deleted)`)
		s.ok("expunge")
		s.ok("select INBOX", "1 EXISTS")

		// Then appends the fresh copy, preserving flags and internal date.
		line := s.readLine()
		tag, rest, _ := strings.Cut(line, " ")
		exp := fmt.Sprintf(`append INBOX (\Seen) "14-Aug-2022 12:01:45 +0000" {%d+}`, len(saveTestMsg))
		if rest != exp {
			s.t.Errorf("server got %q, expected %q", rest, exp)
		}
		buf := make([]byte, len(saveTestMsg)+2)
		if _, err := io.ReadFull(s.br, buf); err != nil {
			s.t.Errorf("server reading appended message: %s", err)
		}
		if string(buf) != saveTestMsg+"\r\n" {
			s.t.Errorf("server got appended message %q", buf)
		}
		s.write(tag + " OK [APPENDUID 1 77] done\r\n")

		// And reapplies the labels, which APPEND drops.
		s.ok(`uid store 77 +x-gm-labels (\Inbox work)`)
	})

	mb := &Mailbox{account: a, Name: "INBOX"}
	m := testMessageWithBody(t, mb, saveTestMsg)

	uid, err := m.Save()
	tcheckf(t, err, "saving message")
	tcompare(t, uid, uint32(77))
	tcompare(t, m.UID, uint32(77))
}
