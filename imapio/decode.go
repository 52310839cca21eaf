package imapio

import (
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// EncodingForCharset looks up the text encoding for an IANA/MIME charset
// name. It returns nil for us-ascii, utf-8, the empty string and unknown
// charsets, in which case the data should be used as-is.
func EncodingForCharset(charset string) encoding.Encoding {
	switch strings.ToLower(charset) {
	case "", "us-ascii", "utf-8":
		return nil
	}
	enc, _ := ianaindex.MIME.Encoding(charset)
	if enc == nil {
		enc, _ = ianaindex.IANA.Encoding(charset)
	}
	return enc
}

// DecodeReader returns a reader that reads from r, decoding as charset. If
// charset is empty, us-ascii, utf-8 or unknown, the original reader is
// returned and no decoding takes place.
func DecodeReader(charset string, r io.Reader) io.Reader {
	enc := EncodingForCharset(charset)
	if enc == nil {
		return r
	}
	return enc.NewDecoder().Reader(r)
}
