package imap

import (
	"fmt"
	"strings"
)

// Status is the tagged final result of a command.
type Status string

const (
	OK  Status = "OK"  // Command succeeded.
	NO  Status = "NO"  // Command failed.
	BAD Status = "BAD" // Syntax error.
	BYE Status = "BYE" // Server is closing the connection.
)

// Result is the final response for a command.
type Result struct {
	Status   Status
	Code     string   // Response code between brackets, e.g. "APPENDUID". Empty if absent.
	CodeArgs []string // Arguments of the response code.
	Text     string   // Remaining human-readable text.
}

// Response is the result of one command: the tagged result plus the bodies of
// any untagged responses read before it. Each untagged body has literal
// contents inlined, so it can be handed to Parse or matched directly.
type Response struct {
	Result
	Untagged []string
}

// Exists returns the message count from an untagged EXISTS response, if any.
func (r Response) Exists() (uint32, bool) {
	for _, u := range r.Untagged {
		var n uint32
		if _, err := fmt.Sscanf(u, "%d EXISTS", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

// SearchIDs returns the identifiers from an untagged SEARCH response. The
// second return value is false if no SEARCH response is present.
func (r Response) SearchIDs() ([]string, bool) {
	for _, u := range r.Untagged {
		rest, ok := strings.CutPrefix(u, "SEARCH")
		if !ok {
			continue
		}
		return strings.Fields(rest), true
	}
	return nil, false
}

// AppendUID returns the UID assigned by an APPEND, from the APPENDUID
// response code.
func (r Response) AppendUID() (string, bool) {
	if r.Code == "APPENDUID" && len(r.CodeArgs) == 2 {
		return r.CodeArgs[1], true
	}
	return "", false
}

// AuthError indicates rejected credentials.
type AuthError struct {
	Mechanism string // "login" or "xoauth2".
	Result    Result
}

func (e AuthError) Error() string {
	return fmt.Sprintf("authentication with %s failed: %s %s", e.Mechanism, e.Result.Status, e.Result.Text)
}

// ProtocolError indicates a non-OK status for a command. It carries the
// status and any server-provided data.
type ProtocolError struct {
	Command string // First word of the failing command, e.g. "select".
	Result  Result
}

func (e ProtocolError) Error() string {
	s := fmt.Sprintf("%s: server returned %s", e.Command, e.Result.Status)
	if e.Result.Code != "" {
		s += " [" + strings.Join(append([]string{e.Result.Code}, e.Result.CodeArgs...), " ") + "]"
	}
	if e.Result.Text != "" {
		s += " " + e.Result.Text
	}
	return s
}

// SessionClosedError indicates a command was attempted on a logged-out
// session.
type SessionClosedError struct {
	Op string
}

func (e SessionClosedError) Error() string {
	return e.Op + ": session is logged out"
}

// astring returns s as an IMAP astring: as-is if it is a valid atom,
// otherwise quoted or as literal.
func astring(s string) string {
	if s == "" {
		return stringx(s)
	}
	for _, c := range []byte(s) {
		if !isAtomChar(c) || c == '[' {
			return stringx(s)
		}
	}
	return s
}

// stringx returns s as IMAP quoted string or literal.
func stringx(s string) string {
	r := `"`
	for _, c := range s {
		if c == '\x00' || c == '\r' || c == '\n' {
			return fmt.Sprintf("{%d}\r\n%s", len(s), s)
		}
		if c == '\\' || c == '"' {
			r += `\`
		}
		r += string(c)
	}
	r += `"`
	return r
}
