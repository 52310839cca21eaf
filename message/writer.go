package message

import (
	"bytes"
)

// Render writes the part tree back to wire form, suitable for APPEND. Header
// bytes are the original raw bytes, so unmodified parts render exactly as
// they arrived. Multipart bodies are reassembled from their subparts with the
// original boundary.
func (p *Part) Render() []byte {
	var b bytes.Buffer
	p.render(&b)
	return b.Bytes()
}

func (p *Part) render(b *bytes.Buffer) {
	b.Write(p.rawHeader)
	if len(p.Parts) == 0 {
		b.Write(p.rawBody)
		return
	}
	bound := p.ContentTypeParams["boundary"]
	for _, sp := range p.Parts {
		b.WriteString("--" + bound + "\r\n")
		sp.render(b)
		b.WriteString("\r\n")
	}
	b.WriteString("--" + bound + "--\r\n")
}
