package message

import (
	"io"
	"mime"
	"net/mail"
	"strings"

	"github.com/pes10k/gimap/imapio"
)

// Address is a parsed mail address with an optional display name.
type Address struct {
	Name    string // Decoded display name, may be empty.
	Address string // localpart@domain.
}

var wordDecoder = mime.WordDecoder{
	CharsetReader: func(charset string, r io.Reader) (io.Reader, error) {
		return imapio.DecodeReader(charset, r), nil
	},
}

// DecodeHeader decodes RFC 2047 encoded words in a header value. Values that
// fail to decode are returned with non-ASCII bytes replaced, never an error:
// headers written by broken senders still need displaying.
func DecodeHeader(s string) string {
	if d, err := wordDecoder.DecodeHeader(s); err == nil {
		return d
	}
	return asciiWithReplacement([]byte(s))
}

// ParseAddressList parses an address header value, potentially multiple
// comma-separated addresses with optional display names. Unparseable input
// yields a single address with the raw value as display name, matching how
// mail clients show malformed senders.
func ParseAddressList(s string) []Address {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parser := mail.AddressParser{WordDecoder: &wordDecoder}
	l, err := parser.ParseList(s)
	if err != nil {
		return []Address{{Name: DecodeHeader(s)}}
	}
	r := make([]Address, len(l))
	for i, a := range l {
		r[i] = Address{a.Name, a.Address}
	}
	return r
}
