package gmail

import (
	"bufio"
	"bytes"
	"fmt"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pes10k/gimap/imap"
	"github.com/pes10k/gimap/message"
)

// Envelope holds the structured metadata extracted from one FETCH response:
// identifiers, labels, flags, dates and the decoded header fields. The
// sequence id is session-local and volatile; the persistent id survives
// mailbox moves; the UID is stable only within one mailbox.
type Envelope struct {
	SeqID        uint32
	PersistentID uint64 // X-GM-MSGID.
	UID          uint32
	Labels       []string // Post-unescaping, see unescapeToken.
	Flags        []string
	InternalDate time.Time // Zero when the fetch did not include it.

	Subject   string
	Date      string
	MessageID string
	CC        string
	From      []message.Address
	To        []message.Address
}

// The metadata line of a FETCH response comes in two fixed shapes, with and
// without a trailing flag list. The internal date is optional in both.
var (
	metadataPattern = regexp.MustCompile(
		`^(\d+) FETCH \(X-GM-MSGID (\d+) X-GM-LABELS \((.*?)\) UID (\d+)(?: INTERNALDATE "([^"]*)")? FLAGS \((.*?)\)`)
	metadataPatternNoFlags = regexp.MustCompile(
		`^(\d+) FETCH \(X-GM-MSGID (\d+) X-GM-LABELS \((.*?)\) UID (\d+)(?: INTERNALDATE "([^"]*)")?`)
)

// internalDateLayout is the INTERNALDATE wire format, RFC 3501 date-time.
const internalDateLayout = "_2-Jan-2006 15:04:05 -0700"

// parseEnvelope extracts an Envelope from one untagged FETCH line (with any
// literals inlined in wire form).
func parseEnvelope(line string) (*Envelope, error) {
	m := metadataPattern.FindStringSubmatch(line)
	var flags string
	hasFlags := m != nil
	if m == nil {
		if m = metadataPatternNoFlags.FindStringSubmatch(line); m == nil {
			return nil, fmt.Errorf("fetch metadata line does not match either known shape: %q", firstLine(line))
		}
	} else {
		flags = m[6]
	}

	env := &Envelope{}
	seq, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parsing sequence id: %v", err)
	}
	env.SeqID = uint32(seq)
	if env.PersistentID, err = strconv.ParseUint(m[2], 10, 64); err != nil {
		return nil, fmt.Errorf("parsing persistent id: %v", err)
	}
	uid, err := strconv.ParseUint(m[4], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parsing uid: %v", err)
	}
	env.UID = uint32(uid)
	if m[5] != "" {
		if env.InternalDate, err = time.Parse(internalDateLayout, m[5]); err != nil {
			return nil, fmt.Errorf("parsing internal date %q: %v", m[5], err)
		}
	}
	if env.Labels, err = parseLabels(m[3]); err != nil {
		return nil, err
	}
	if hasFlags {
		for _, f := range strings.Fields(flags) {
			env.Flags = append(env.Flags, unescapeToken(f))
		}
	}
	return env, nil
}

// parseLabels decodes a raw label-list substring. Labels can be atoms,
// backslash-prefixed system labels or quoted strings with spaces, so the
// grammar parser does the splitting.
func parseLabels(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	tokens, err := imap.Parse("(" + raw + ")")
	if err != nil {
		return nil, err
	}
	list, ok := tokens[0].(imap.List)
	if !ok {
		return nil, fmt.Errorf("label list: got %T, expected list", tokens[0])
	}
	labels := make([]string, 0, len(list))
	for _, t := range list {
		switch l := t.(type) {
		case imap.Flag:
			labels = append(labels, `\`+unescapeToken(string(l)))
		case imap.Atom:
			labels = append(labels, unescapeToken(string(l)))
		case imap.QuotedString:
			labels = append(labels, unescapeToken(string(l)))
		default:
			return nil, fmt.Errorf("label list: unexpected %T", t)
		}
	}
	return labels, nil
}

// unescapeToken collapses doubled backslash escapes once, the form labels
// and flags arrive in on the wire.
func unescapeToken(s string) string {
	return strings.ReplaceAll(s, `\\`, `\`)
}

func firstLine(s string) string {
	if o := strings.IndexByte(s, '\n'); o >= 0 {
		return strings.TrimRight(s[:o], "\r")
	}
	return s
}

// fillHeaders decodes the header block accompanying a fetch into the
// envelope's header fields. Encoded words decode per their declared charset,
// falling back to ASCII with replacement. A degenerate "None" value is
// treated as absent.
func (env *Envelope) fillHeaders(header textproto.MIMEHeader) {
	get := func(key string) string {
		v := header.Get(key)
		if v == "None" {
			return ""
		}
		return v
	}
	env.Subject = message.DecodeHeader(get("Subject"))
	env.Date = get("Date")
	env.MessageID = get("Message-Id")
	env.CC = message.DecodeHeader(get("Cc"))
	env.From = message.ParseAddressList(get("From"))
	env.To = message.ParseAddressList(get("To"))
}

// parseHeaderBlock reads a bare header block, as returned for
// BODY[HEADER.FIELDS (...)].
func parseHeaderBlock(data []byte) (textproto.MIMEHeader, error) {
	if !bytes.HasSuffix(data, []byte("\r\n\r\n")) && !bytes.HasSuffix(data, []byte("\n\n")) {
		data = append(data, '\r', '\n')
	}
	r := textproto.NewReader(bufio.NewReader(bytes.NewReader(data)))
	h, err := r.ReadMIMEHeader()
	if err != nil && len(h) == 0 {
		return nil, fmt.Errorf("parsing header block: %v", err)
	}
	return h, nil
}

// bodyLiteral pulls the BODY[...] literal out of a FETCH line using the
// grammar parser, nil if the fetch had no body attribute.
func bodyLiteral(line string) ([]byte, error) {
	o := strings.Index(line, " FETCH ")
	if o < 0 {
		return nil, fmt.Errorf("not a fetch line: %q", firstLine(line))
	}
	tokens, err := imap.Parse(line[o+len(" FETCH "):])
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty fetch line")
	}
	list, ok := tokens[0].(imap.List)
	if !ok {
		return nil, fmt.Errorf("fetch line: got %T, expected attribute list", tokens[0])
	}
	for i, t := range list {
		spec, ok := t.(imap.AttributeSpec)
		if !ok || spec.Primary != "BODY" || i+1 >= len(list) {
			continue
		}
		if lit, ok := list[i+1].(imap.Literal); ok {
			return []byte(lit), nil
		}
	}
	return nil, nil
}

// parseMessage builds a Message from one untagged FETCH line at the given
// fidelity.
func parseMessage(mb *Mailbox, line string, fidelity Fidelity) (*Message, error) {
	env, err := parseEnvelope(line)
	if err != nil {
		return nil, err
	}
	m := &Message{mailbox: mb, Envelope: *env}
	if fidelity == UIDOnly {
		return m, nil
	}
	body, err := bodyLiteral(line)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return m, nil
	}
	switch fidelity {
	case HeadersOnly:
		h, err := parseHeaderBlock(body)
		if err != nil {
			return nil, err
		}
		m.Envelope.fillHeaders(h)
	default:
		if err := m.setRaw(body); err != nil {
			return nil, err
		}
	}
	return m, nil
}
