package gmail

import (
	"fmt"
	"strings"
	"time"

	"github.com/pes10k/gimap/metrics"
)

// Fidelity selects how much of each message a fetch materializes.
type Fidelity int

const (
	// UIDOnly fetches identifiers only.
	UIDOnly Fidelity = iota
	// HeadersOnly fetches identifiers, flags, labels, date and the envelope
	// headers.
	HeadersOnly
	// Teaser fetches the full body but exposes only headers plus a short
	// text snippet.
	Teaser
	// FullBody fetches and parses the complete message.
	FullBody
)

// Attributes fetched per fidelity. Teaser and FullBody need the whole body;
// the teaser is computed client-side.
const (
	fetchUIDOnly = "(X-GM-MSGID X-GM-LABELS UID)"
	fetchHeaders = `(X-GM-MSGID X-GM-LABELS UID INTERNALDATE FLAGS BODY.PEEK[HEADER.FIELDS (FROM CC TO SUBJECT DATE MESSAGE-ID)])`
	fetchFull    = "(X-GM-MSGID X-GM-LABELS UID INTERNALDATE FLAGS BODY.PEEK[])"
)

func (f Fidelity) fetchItems() string {
	switch f {
	case UIDOnly:
		return fetchUIDOnly
	case HeadersOnly:
		return fetchHeaders
	}
	return fetchFull
}

// Mailbox is one mailbox in an account. The zero count means not yet
// selected; Count selects to find out.
type Mailbox struct {
	account *Account
	Name    string

	count uint32 // Message count as of the last SELECT.
}

func (mb *Mailbox) String() string {
	return mb.Name
}

// Account returns the owning session.
func (mb *Mailbox) Account() *Account {
	return mb.account
}

// Select makes this the session's selected mailbox, skipping the wire
// exchange when it already is. Returns the mailbox's message count.
func (mb *Mailbox) Select() (uint32, error) {
	return mb.account.selectMailbox(mb)
}

// Count returns the number of messages in the mailbox.
func (mb *Mailbox) Count() (uint32, error) {
	return mb.Select()
}

// page applies limit and offset to a full ordered id list. An offset at or
// past the end yields nil. A negative limit means no limit: everything from
// offset to the end.
func page[T any](list []T, limit, offset int) []T {
	if offset >= len(list) || offset < 0 {
		return nil
	}
	list = list[offset:]
	if limit < 0 || limit >= len(list) {
		return list
	}
	return list[:limit]
}

// Search finds messages matching term, using the provider's raw full-text
// search syntax (e.g. `from:someone subject:hello`). Results are fetched at
// the given fidelity, paginated by limit and offset over the full match
// list. A negative limit returns all matches from offset on.
func (mb *Mailbox) Search(term string, limit, offset int, fidelity Fidelity) ([]*Message, error) {
	if _, err := mb.Select(); err != nil {
		return nil, err
	}
	resp, err := mb.account.conn.UIDSearchGmailRaw(term)
	if err != nil {
		return nil, err
	}
	ids, _ := resp.SearchIDs()
	return mb.fetch(page(ids, limit, offset), fidelity)
}

// Messages returns the mailbox's messages, paginated like Search.
func (mb *Mailbox) Messages(limit, offset int, fidelity Fidelity) ([]*Message, error) {
	if _, err := mb.Select(); err != nil {
		return nil, err
	}
	resp, err := mb.account.conn.UIDSearch("ALL")
	if err != nil {
		return nil, err
	}
	ids, _ := resp.SearchIDs()
	return mb.fetch(page(ids, limit, offset), fidelity)
}

// MessagesByUID fetches the given UIDs at the given fidelity. Unknown UIDs
// are absent from the result rather than an error, matching FETCH semantics.
func (mb *Mailbox) MessagesByUID(uids []string, fidelity Fidelity) ([]*Message, error) {
	if _, err := mb.Select(); err != nil {
		return nil, err
	}
	return mb.fetch(uids, fidelity)
}

func (mb *Mailbox) fetch(uids []string, fidelity Fidelity) ([]*Message, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	resp, err := mb.account.conn.UIDFetch(strings.Join(uids, ","), fidelity.fetchItems())
	if err != nil {
		return nil, err
	}
	var msgs []*Message
	for _, line := range resp.Untagged {
		if !strings.Contains(line, " FETCH ") {
			continue
		}
		m, err := parseMessage(mb, line, fidelity)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Retry schedule for the trash-indexing race in DeleteMessage. The copy into
// the trash becomes searchable asynchronously; these constants bound how
// long we wait for it. Empirically chosen upstream, kept as-is.
const (
	trashSearchAttempts = 5
	trashSearchDelay    = 2 * time.Second
)

// Sleeping is indirected for tests.
var sleep = time.Sleep

// DeleteMessage removes the message with the given UID and RFC 822
// Message-Id from the mailbox and from the trash. IMAP has no single verb
// for this; the protocol is: copy to trash, flag and expunge the original,
// then find the copy in the trash by message id and expunge it too.
//
// The trash copy is indexed asynchronously, so the search retries up to
// trashSearchAttempts times with a fixed delay. If the copy never turns up
// the operation is abandoned: it returns false with a nil error. That is a
// deliberate best-effort outcome, the message is gone from its mailbox
// either way.
func (mb *Mailbox) DeleteMessage(uid uint32, messageID string) (bool, error) {
	a := mb.account
	if _, err := mb.Select(); err != nil {
		return false, err
	}
	uidSet := fmt.Sprintf("%d", uid)
	if _, err := a.conn.UIDCopy(uidSet, a.trash); err != nil {
		return false, err
	}
	if _, err := a.conn.UIDStoreFlagsAdd(uidSet, `\Deleted`); err != nil {
		return false, err
	}
	if _, err := a.conn.Expunge(); err != nil {
		return false, err
	}
	if err := a.selectRaw(mb.Name); err != nil {
		return false, err
	}

	if err := a.selectRaw(a.trash); err != nil {
		return false, err
	}
	found := ""
	for attempt := 0; attempt < trashSearchAttempts; attempt++ {
		if attempt > 0 {
			sleep(trashSearchDelay)
			metrics.TrashSearchRetryInc()
		}
		resp, err := a.conn.UIDSearchGmailRaw("rfc822msgid:" + strings.Trim(messageID, "<>"))
		if err != nil {
			return false, err
		}
		if ids, ok := resp.SearchIDs(); ok && len(ids) > 0 {
			found = ids[len(ids)-1]
			break
		}
	}
	if found == "" {
		metrics.DeleteAbandonedInc()
		if _, err := a.selectMailbox(mb); err != nil {
			return false, err
		}
		return false, nil
	}
	if _, err := a.conn.UIDStoreFlagsAdd(found, `\Deleted`); err != nil {
		return false, err
	}
	if _, err := a.conn.Expunge(); err != nil {
		return false, err
	}
	// Restore the session's mailbox context. The trash hop invalidated the
	// session cache, so this is an actual SELECT that re-establishes it.
	if _, err := a.selectMailbox(mb); err != nil {
		return false, err
	}
	return true, nil
}
