package gmail

import (
	"strings"
	"testing"
)

func listScript(s *testServer) {
	s.ok(`list "" "*"`,
		`LIST (\HasNoChildren) "/" INBOX`,
		`LIST (\HasNoChildren) "/" "Receipts 2022"`,
		`LIST (\HasChildren \Noselect) "/" "[Gmail]"`,
		`LIST (\All \HasNoChildren) "/" "[Gmail]/All Mail"`,
		`LIST (\HasNoChildren \Trash) "/" "[Gmail]/Trash"`,
	)
}

func TestMailboxes(t *testing.T) {
	a := testAccount(t, listScript)

	mbs, err := a.Mailboxes(false)
	tcheckf(t, err, "listing mailboxes")
	var names []string
	for _, mb := range mbs {
		names = append(names, mb.Name)
	}
	tcompare(t, names, []string{"INBOX", "Receipts 2022"})
}

func TestMailboxesSystem(t *testing.T) {
	a := testAccount(t, listScript)

	mbs, err := a.Mailboxes(true)
	tcheckf(t, err, "listing mailboxes")
	if len(mbs) != 5 {
		t.Fatalf("got %d mailboxes, expected 5 including system folders", len(mbs))
	}
	for _, mb := range mbs {
		if strings.HasPrefix(mb.Name, "[Gmail]") {
			return
		}
	}
	t.Fatalf("no system folder in %v", mbs)
}

func TestMailboxByName(t *testing.T) {
	a := testAccount(t, func(s *testServer) {
		listScript(s)
		listScript(s)
	})

	mb, err := a.MailboxByName("[Gmail]/Trash")
	tcheckf(t, err, "looking up trash")
	tcompare(t, mb.Name, "[Gmail]/Trash")

	if _, err := a.MailboxByName("Nope"); err == nil {
		t.Fatalf("lookup of missing mailbox did not fail")
	}
}
