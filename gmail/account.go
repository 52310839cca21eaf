// Package gmail is the caller-facing engine for manipulating a Gmail mailbox
// over IMAP. It composes the primitive verbs in package imap into the
// operations IMAP does not natively support: deleting a message, relabeling
// it, replacing its body.
//
// One Account wraps one IMAP session. Commands on a session are strictly
// sequential, one in flight at a time. Parallelism comes from holding
// multiple accounts, see Pool.
package gmail

import (
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/pes10k/gimap/imap"
	"github.com/pes10k/gimap/mlog"
)

// DefaultTrashMailbox is where deleted messages are copied before being
// expunged from the trash itself.
const DefaultTrashMailbox = "[Gmail]/Trash"

// Opts configures dialing and authenticating an account.
type Opts struct {
	Address     string // host:port, default imap.gmail.com:993.
	Email       string
	Password    string // For LOGIN. Ignored when AccessToken is set.
	AccessToken string // For XOAUTH2.
	Trash       string // Trash mailbox, default DefaultTrashMailbox.
	Logger      mlog.Log
	TLSConfig   *tls.Config
}

// Account is an authenticated IMAP session plus the session-scoped state the
// engine tracks: the currently selected mailbox and its message count.
type Account struct {
	conn  *imap.Conn
	email string
	trash string
	log   mlog.Log

	// Session cache. Exactly one mailbox is selected per session; all
	// mailbox-scoped operations route their SELECT through selectMailbox so
	// this stays accurate.
	lastViewed *Mailbox
}

// Dial connects over TLS and authenticates, with XOAUTH2 when an access
// token is configured and LOGIN otherwise. Authentication failures are
// returned as an imap.AuthError.
func Dial(opts Opts) (*Account, error) {
	addr := opts.Address
	if addr == "" {
		addr = "imap.gmail.com:993"
	}
	log := opts.Logger
	if log.Logger == nil {
		log = mlog.New("gmail", nil)
	} else {
		log = log.WithPkg("gmail")
	}
	conn, err := imap.Dial(addr, opts.TLSConfig, &imap.Opts{Logger: log.Logger})
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	if opts.AccessToken != "" {
		err = conn.AuthenticateXOAUTH2(opts.Email, opts.AccessToken)
	} else {
		err = conn.Login(opts.Email, opts.Password)
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	trash := opts.Trash
	if trash == "" {
		trash = DefaultTrashMailbox
	}
	return &Account{conn: conn, email: opts.Email, trash: trash, log: log}, nil
}

// Email returns the account's address.
func (a *Account) Email() string {
	return a.email
}

// Mailboxes lists the account's mailboxes. With includeSystem false, the
// provider's bracketed system folders ("[Gmail]", "[Gmail]/All Mail", ...)
// are skipped, leaving user-visible mailboxes.
func (a *Account) Mailboxes(includeSystem bool) ([]*Mailbox, error) {
	resp, err := a.conn.List("*")
	if err != nil {
		return nil, err
	}
	var mailboxes []*Mailbox
	for _, line := range resp.Untagged {
		rest, ok := strings.CutPrefix(line, "LIST ")
		if !ok {
			continue
		}
		name, err := parseListName(rest)
		if err != nil {
			a.log.Debugx("parsing list response", err)
			continue
		}
		if !includeSystem && strings.HasPrefix(name, "[") {
			continue
		}
		mailboxes = append(mailboxes, &Mailbox{account: a, Name: name})
	}
	return mailboxes, nil
}

// parseListName pulls the mailbox name from a LIST response body: a flag
// list, a quoted hierarchy delimiter, then the name as an astring.
func parseListName(s string) (string, error) {
	tokens, err := imap.Parse(s)
	if err != nil {
		return "", err
	}
	if len(tokens) != 3 {
		return "", fmt.Errorf("list response: got %d tokens, expected flags, delimiter, name", len(tokens))
	}
	return imap.AsString(tokens[2])
}

// MailboxByName returns the named mailbox, or an error if the account does
// not have it.
func (a *Account) MailboxByName(name string) (*Mailbox, error) {
	all, err := a.Mailboxes(true)
	if err != nil {
		return nil, err
	}
	for _, mb := range all {
		if mb.Name == name {
			return mb, nil
		}
	}
	return nil, fmt.Errorf("no mailbox named %q", name)
}

// selectMailbox establishes mb as the session's mailbox context, eliding the
// SELECT when mb is already selected. On an actual SELECT it updates the
// session cache and mb's cached message count. Returns the count.
func (a *Account) selectMailbox(mb *Mailbox) (uint32, error) {
	if a.lastViewed != nil && a.lastViewed.Name == mb.Name {
		return a.lastViewed.count, nil
	}
	resp, err := a.conn.Select(mb.Name)
	if err != nil {
		return 0, err
	}
	if n, ok := resp.Exists(); ok {
		mb.count = n
	}
	a.lastViewed = mb
	return mb.count, nil
}

// selectRaw issues SELECT for a mailbox name outside the session cache, used
// by the delete protocol when it temporarily hops to the trash. It
// invalidates the cache first: the server's selected mailbox no longer
// matches it, and must not match it either when the SELECT or a later step
// fails. Only a successful selectMailbox re-establishes the cache.
func (a *Account) selectRaw(name string) error {
	a.lastViewed = nil
	_, err := a.conn.Select(name)
	return err
}

// Logout ends the session. The account is unusable afterwards.
func (a *Account) Logout() error {
	_, err := a.conn.Logout()
	if cerr := a.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close closes the connection without a polite LOGOUT.
func (a *Account) Close() error {
	return a.conn.Close()
}
