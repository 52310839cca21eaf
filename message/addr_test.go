package message

import (
	"testing"
)

func TestDecodeHeader(t *testing.T) {
	tcompare(t, DecodeHeader("plain subject"), "plain subject")
	tcompare(t, DecodeHeader("=?utf-8?q?caf=C3=A9?="), "café")
	tcompare(t, DecodeHeader("=?ISO-8859-1?Q?Caf=E9?="), "Café")
	tcompare(t, DecodeHeader("=?utf-8?B?aGVsbG8gd29ybGQ=?="), "hello world")
	// Unknown charsets fall back to replacement instead of failing.
	if DecodeHeader("=?x-nothing?q?data?=") == "" {
		t.Fatalf("unknown charset dropped the value entirely")
	}
}

func TestParseAddressList(t *testing.T) {
	addrs := ParseAddressList("Alice A <alice@example.com>, bob@example.com")
	tcompare(t, addrs, []Address{
		{Name: "Alice A", Address: "alice@example.com"},
		{Name: "", Address: "bob@example.com"},
	})

	// Display names get RFC 2047 decoding, address parts do not.
	addrs = ParseAddressList("=?utf-8?q?B=C3=B3b?= <bob@example.com>")
	tcompare(t, addrs, []Address{{Name: "Bób", Address: "bob@example.com"}})

	tcompare(t, len(ParseAddressList("")), 0)
	tcompare(t, len(ParseAddressList("  ")), 0)

	// Malformed input degrades to a display-name-only entry.
	addrs = ParseAddressList("not an address at all <<>")
	tcompare(t, len(addrs), 1)
	tcompare(t, addrs[0].Address, "")
}
