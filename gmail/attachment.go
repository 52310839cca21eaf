package gmail

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/pes10k/gimap/message"
)

// Attachment is one attachment part of a message: its content type, the
// RFC 2047-decoded filename and the payload, raw and decoded.
type Attachment struct {
	ContentType string
	Filename    string

	part *message.Part
}

// Raw returns the payload with its content-transfer-encoding intact.
func (a Attachment) Raw() []byte {
	return a.part.RawBody()
}

// Decoded returns the payload with the content-transfer-encoding reversed.
func (a Attachment) Decoded() ([]byte, error) {
	return a.part.DecodedBody()
}

// SHA256 returns a hex content hash of the decoded payload, for identity
// and deduplication, not security. Payloads that fail to decode hash their
// raw form so the identity is still stable.
func (a Attachment) SHA256() string {
	data, err := a.Decoded()
	if err != nil {
		data = a.Raw()
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Attachments returns the message's attachment parts: parts with an
// attachment disposition, or non-text leaves carrying a filename.
func (m *Message) Attachments() ([]Attachment, error) {
	if err := m.FetchBody(); err != nil {
		return nil, err
	}
	var attachments []Attachment
	m.part.Walk(func(p *message.Part) {
		disp, filename := p.DispositionFilename()
		if disp != "attachment" && filename == "" {
			return
		}
		if len(p.RawBody()) == 0 && disp != "attachment" {
			return
		}
		attachments = append(attachments, Attachment{
			ContentType: p.ContentType(),
			Filename:    filename,
			part:        p,
		})
	})
	return attachments, nil
}
