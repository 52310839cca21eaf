package gmail

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/pes10k/gimap/message"
)

// Message is one mail message in one mailbox. The envelope is populated at
// fetch time; the body is lazy and pulled down on first access. Equality is
// by UID and mailbox name only: UIDs are not unique across mailboxes.
type Message struct {
	mailbox *Mailbox
	Envelope

	part      *message.Part
	bodyPlain string
	bodyHTML  string
	hasBody   bool
	sentTime  time.Time
}

// Mailbox returns the mailbox the message was fetched from.
func (m *Message) Mailbox() *Mailbox {
	return m.mailbox
}

// Equal reports whether other refers to the same message: same UID in the
// same-named mailbox. Flags, labels and body state do not participate.
func (m *Message) Equal(other *Message) bool {
	return other != nil && m.UID == other.UID && m.mailbox.Name == other.mailbox.Name
}

// IsRead reports whether the message carries the \Seen flag.
func (m *Message) IsRead() bool {
	for _, f := range m.Flags {
		if f == `\Seen` {
			return true
		}
	}
	return false
}

// SentTime parses the Date header, lazily. The zero time means no date
// header or an unparseable one.
func (m *Message) SentTime() time.Time {
	if m.sentTime.IsZero() && m.Date != "" {
		if t, err := mail.ParseDate(m.Date); err == nil {
			m.sentTime = t
		}
	}
	return m.sentTime
}

// setRaw installs the wire bytes of the full message, parsing the MIME tree
// and filling header fields from it.
func (m *Message) setRaw(raw []byte) error {
	p, err := message.Parse(m.mailbox.account.log, raw)
	if err != nil {
		return err
	}
	m.part = p
	m.hasBody = false
	m.Envelope.fillHeaders(p.Header)
	return nil
}

// FetchBody pulls down and parses the full message body if it is not already
// materialized.
func (m *Message) FetchBody() error {
	if m.part != nil {
		return nil
	}
	if _, err := m.mailbox.Select(); err != nil {
		return err
	}
	resp, err := m.mailbox.account.conn.UIDFetch(fmt.Sprintf("%d", m.UID), "(BODY.PEEK[])")
	if err != nil {
		return err
	}
	for _, line := range resp.Untagged {
		if !strings.Contains(line, " FETCH ") {
			continue
		}
		body, err := bodyLiteral(line)
		if err != nil {
			return err
		}
		if body != nil {
			return m.setRaw(body)
		}
	}
	return fmt.Errorf("fetch returned no body for uid %d", m.UID)
}

// messageCharset is the message-level charset, the fallback for parts that
// do not declare their own.
func (m *Message) messageCharset() string {
	if m.part == nil {
		return ""
	}
	return m.part.ContentTypeParams["charset"]
}

// buildBodies aggregates the normalized text of all text/plain parts into
// one plain string and all text/html parts into one HTML string, in document
// order. Decode failures are absorbed by the normalizer's replacement
// semantics and logged.
func (m *Message) buildBodies() {
	m.bodyPlain = ""
	m.bodyHTML = ""
	charset := m.messageCharset()
	log := m.mailbox.account.log
	m.part.Walk(func(p *message.Part) {
		switch p.ContentType() {
		case "text/plain":
			text, encErr := p.Text(charset)
			if encErr != nil {
				log.Debugx("normalizing plain part", encErr)
			}
			m.bodyPlain += text
		case "text/html":
			text, encErr := p.Text(charset)
			if encErr != nil {
				log.Debugx("normalizing html part", encErr)
			}
			m.bodyHTML += text
		}
	})
	m.hasBody = true
}

func (m *Message) bodies() (plain, html string, err error) {
	if err := m.FetchBody(); err != nil {
		return "", "", err
	}
	if !m.hasBody {
		m.buildBodies()
	}
	return m.bodyPlain, m.bodyHTML, nil
}

// Body returns the message body as Unicode text, preferring the HTML variant
// when the message has one and falling back to plain text.
func (m *Message) Body() (string, error) {
	plain, html, err := m.bodies()
	if err != nil {
		return "", err
	}
	if html != "" {
		return html, nil
	}
	return plain, nil
}

// PlainBody returns the plain-text body, empty if the message only has HTML.
func (m *Message) PlainBody() (string, error) {
	plain, _, err := m.bodies()
	return plain, err
}

// HTMLBody returns the HTML body, empty if the message only has plain text.
func (m *Message) HTMLBody() (string, error) {
	html, _, err := m.bodies()
	return html, err
}

// Teaser returns a short text snippet of the body for mailbox listings.
func (m *Message) Teaser() (string, error) {
	if err := m.FetchBody(); err != nil {
		return "", err
	}
	return m.part.Teaser(m.messageCharset()), nil
}

// Raw returns the message's wire representation, with any body edits
// applied.
func (m *Message) Raw() ([]byte, error) {
	if err := m.FetchBody(); err != nil {
		return nil, err
	}
	return m.part.Render(), nil
}

// Delete removes the message from its mailbox and from the trash, by the
// copy-flag-expunge-search protocol, see Mailbox.DeleteMessage. It returns
// false without an error when the trash copy never became searchable.
func (m *Message) Delete() (bool, error) {
	return m.mailbox.DeleteMessage(m.UID, m.MessageID)
}

// Replace substitutes every occurrence of find with replacement in each
// textual body part, re-encoded into the part's original charset and
// content-transfer-encoding. The change is in-memory until Save.
func (m *Message) Replace(find, replacement string) error {
	return m.editParts(func(text string) string {
		return strings.ReplaceAll(text, find, replacement)
	})
}

// ReplaceRegexp is Replace with a regular expression. The replacement may
// use capture-group references.
func (m *Message) ReplaceRegexp(re *regexp.Regexp, replacement string) error {
	return m.editParts(func(text string) string {
		return re.ReplaceAllString(text, replacement)
	})
}

func (m *Message) editParts(edit func(string) string) error {
	if err := m.FetchBody(); err != nil {
		return err
	}
	charset := m.messageCharset()
	var editErr error
	m.part.Walk(func(p *message.Part) {
		if editErr != nil {
			return
		}
		switch p.ContentType() {
		case "text/plain", "text/html":
			text, _ := p.Text(charset)
			if err := p.SetText(edit(text)); err != nil {
				editErr = err
			}
		}
	})
	m.hasBody = false
	return editErr
}

// Save writes the message's current in-memory state back to the server.
// IMAP messages are immutable, so this deletes the original and appends a
// fresh copy, preserving the original flags and internal date, then
// reapplies the label set, which APPEND does not carry over. On success the
// message's UID is updated to the newly assigned one.
func (m *Message) Save() (uint32, error) {
	raw, err := m.Raw()
	if err != nil {
		return 0, err
	}
	if _, err := m.Delete(); err != nil {
		return 0, err
	}
	if _, err := m.mailbox.Select(); err != nil {
		return 0, err
	}
	resp, err := m.mailbox.account.conn.Append(m.mailbox.Name, m.Flags, m.InternalDate, raw)
	if err != nil {
		return 0, err
	}
	newUID, ok := resp.AppendUID()
	if !ok {
		return 0, fmt.Errorf("append response carries no new uid: %q", resp.Result.Text)
	}
	if len(m.Labels) > 0 {
		if _, err := m.mailbox.account.conn.UIDStoreLabelsAdd(newUID, m.Labels...); err != nil {
			return 0, err
		}
	}
	uid, err := parseUID(newUID)
	if err != nil {
		return 0, err
	}
	m.UID = uid
	return uid, nil
}

func parseUID(s string) (uint32, error) {
	var uid uint32
	if _, err := fmt.Sscanf(s, "%d", &uid); err != nil {
		return 0, fmt.Errorf("parsing uid %q: %v", s, err)
	}
	return uid, nil
}
