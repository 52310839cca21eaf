package message

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// TeaserLength is the maximum number of characters (not bytes) in a teaser.
const TeaserLength = 256

// Teaser returns a short plain-text snippet for showing next to the subject
// in a mailbox listing. It comes from the first text/plain or text/html part
// that is not an attachment. HTML is reduced to its text content. The empty
// string means no textual part was found.
func (p *Part) Teaser(fallbackCharset string) string {
	var teaser string
	p.Walk(func(sp *Part) {
		if teaser != "" {
			return
		}
		disp, _ := sp.DispositionFilename()
		if disp == "attachment" {
			return
		}
		switch sp.ContentType() {
		case "text/plain":
			text, _ := sp.Text(fallbackCharset)
			teaser = teaserText(text)
		case "text/html":
			text, _ := sp.Text(fallbackCharset)
			teaser = teaserText(htmlText(text))
		}
	})
	return teaser
}

var spaceRun = regexp.MustCompile(`[ \t\r\n\x{00a0}\x{200b}]+`)

// teaserText collapses whitespace, drops quoted lines and truncates to
// TeaserLength characters.
func teaserText(s string) string {
	var kept []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ">") {
			continue
		}
		kept = append(kept, line)
	}
	s = spaceRun.ReplaceAllString(strings.Join(kept, " "), " ")
	s = strings.TrimSpace(s)
	var n, o int
	for o = range s {
		n++
		if n > TeaserLength {
			return s[:o]
		}
	}
	return s
}

// Text inside these elements, recursively, never contributes to a teaser.
var skipAtoms = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Template: true,
	atom.Title:    true,
}

// htmlText extracts the text content from an HTML document, one line per
// block of text. It tokenizes rather than builds a DOM: teasers only need
// the leading text and malformed mail HTML should still yield something.
func htmlText(s string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	depth := 0 // Inside skipped elements.
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken:
			name, _ := z.TagName()
			if skipAtoms[atom.Lookup(name)] {
				depth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if depth > 0 && skipAtoms[atom.Lookup(name)] {
				depth--
			}
		case html.TextToken:
			if depth > 0 {
				continue
			}
			if t := strings.TrimSpace(string(z.Text())); t != "" {
				b.WriteString(t)
				b.WriteString("\n")
			}
		}
		if b.Len() > 4*TeaserLength {
			return b.String()
		}
	}
}
