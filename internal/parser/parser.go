// Package parser separates inline action markers from streamed assistant text.
//
// Assistant replies embed out-of-band commands as markers of the form
// [[NAME]], where NAME matches [A-Z_][A-Z0-9_]*. Replies arrive in chunks
// whose boundaries are arbitrary, so a marker may be split across several
// chunks. A Parser buffers just enough of the tail to recognise such markers
// and releases everything else as clean text as soon as it is known not to
// belong to one.
//
// Usage:
//
//	p := parser.New()
//	for chunk := range chunks {
//		text, cmds := p.Parse(chunk)
//		// speak text, act on cmds
//	}
//	final := p.Finalize()
package parser

import (
	"regexp"
	"strings"
)

// markerPattern matches a complete marker and captures its command name.
var markerPattern = regexp.MustCompile(`\[\[([A-Z_][A-Z0-9_]*)\]\]`)

// Result is the cumulative outcome of a parsed stream.
type Result struct {
	CleanText string   `json:"clean_text"`
	Commands  []string `json:"commands"`
	IsEnd     bool     `json:"is_end"`
}

// Parser is an incremental marker demultiplexer for a single streamed
// response. It is not safe for concurrent use.
type Parser struct {
	buffer    string
	cleanText strings.Builder
	commands  []string
	finalized bool
}

// New returns a parser with empty state.
func New() *Parser {
	return &Parser{commands: []string{}}
}

// Parse consumes the next chunk of the stream. It returns the text newly
// confirmed as marker-free and the command names whose markers completed
// in this call, in order of appearance.
//
// Text that could still be the beginning of a marker stays buffered until a
// later chunk resolves it or Finalize is called. Parse never fails; input
// that does not form a valid marker is treated as ordinary text. After
// Finalize, Parse returns empty results and leaves the state unchanged.
func (p *Parser) Parse(chunk string) (string, []string) {
	if p.finalized {
		return "", nil
	}
	p.buffer += chunk

	var (
		clean    strings.Builder
		commands []string
	)
	for {
		loc := markerPattern.FindStringSubmatchIndex(p.buffer)
		if loc == nil {
			break
		}
		clean.WriteString(p.buffer[:loc[0]])
		commands = append(commands, p.buffer[loc[2]:loc[3]])
		p.buffer = p.buffer[loc[1]:]
	}

	hold := pendingStart(p.buffer)
	clean.WriteString(p.buffer[:hold])
	p.buffer = p.buffer[hold:]

	p.cleanText.WriteString(clean.String())
	p.commands = append(p.commands, commands...)
	return clean.String(), commands
}

// Finalize ends the stream. Anything still buffered, including an
// unterminated marker opener, is emitted verbatim as clean text. The
// returned result holds the full cumulative clean text and command list.
//
// Calling Finalize again is redundant but safe: the buffer is already empty,
// so it returns the same cumulative state.
func (p *Parser) Finalize() Result {
	p.cleanText.WriteString(p.buffer)
	p.buffer = ""
	p.finalized = true
	return Result{
		CleanText: p.cleanText.String(),
		Commands:  p.Commands(),
		IsEnd:     true,
	}
}

// CleanText returns the clean text confirmed so far.
func (p *Parser) CleanText() string {
	return p.cleanText.String()
}

// Commands returns a copy of the commands extracted so far.
func (p *Parser) Commands() []string {
	out := make([]string, len(p.commands))
	copy(out, p.commands)
	return out
}

// Pending returns the buffered text not yet classified.
func (p *Parser) Pending() string {
	return p.buffer
}

// pendingStart returns the index of the earliest '[' in s from which the
// rest of s can still grow into a complete marker, or len(s) if there is
// none. Complete markers must already have been removed from s.
func pendingStart(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '[' && isMarkerPrefix(s[i:]) {
			return i
		}
	}
	return len(s)
}

// isMarkerPrefix reports whether s is a proper prefix of some marker.
func isMarkerPrefix(s string) bool {
	if len(s) == 0 || s[0] != '[' {
		return false
	}
	if len(s) == 1 {
		return true
	}
	if s[1] != '[' {
		return false
	}
	if len(s) == 2 {
		return true
	}
	if !isNameStart(s[2]) {
		return false
	}
	i := 3
	for i < len(s) && isNameChar(s[i]) {
		i++
	}
	// At most one closing bracket may follow; two would complete the marker.
	if i < len(s) && s[i] == ']' {
		i++
	}
	return i == len(s)
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}

// Normalize collapses a reply for display and speech: each line is trimmed,
// blank lines are dropped and the rest are joined with single spaces.
func Normalize(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, " ")
}

// ParseAll runs a complete text through a fresh parser as a single chunk.
func ParseAll(text string) Result {
	p := New()
	p.Parse(text)
	return p.Finalize()
}
