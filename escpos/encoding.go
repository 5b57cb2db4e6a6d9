package escpos

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

type codePage struct {
	table   byte
	charmap *charmap.Charmap
}

// codePages maps names to their ESC t table numbers (Epson numbering)
var codePages = map[string]codePage{
	"cp437":  {0, charmap.CodePage437},
	"cp850":  {2, charmap.CodePage850},
	"cp1252": {16, charmap.Windows1252},
	"cp866":  {17, charmap.CodePage866},
	"cp858":  {19, charmap.CodePage858},
}

// CodePages lists the supported code page names
func CodePages() []string {
	names := make([]string, 0, len(codePages))
	for name := range codePages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TextEncoder turns receipt text into printer bytes. The zero value sends UTF-8.
type TextEncoder struct {
	name    string
	table   byte
	charmap *charmap.Charmap
}

// NewTextEncoder returns an encoder for the named code page. An empty name
// or "utf-8" passes text through unchanged.
func NewTextEncoder(name string) (*TextEncoder, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "utf-8" || name == "utf8" {
		return &TextEncoder{}, nil
	}

	cp, ok := codePages[name]
	if !ok {
		return nil, fmt.Errorf("unknown code page %q (supported: %s)", name, strings.Join(CodePages(), ", "))
	}
	return &TextEncoder{
		name:    name,
		table:   cp.table,
		charmap: cp.charmap,
	}, nil
}

// Name returns the code page name, or "utf-8"
func (e *TextEncoder) Name() string {
	if e == nil || e.charmap == nil {
		return "utf-8"
	}
	return e.name
}

// Setup returns the command that selects the code page, or nil for UTF-8
func (e *TextEncoder) Setup() []byte {
	if e == nil || e.charmap == nil {
		return nil
	}
	return SelectCodePage(e.table)
}

// Encode converts text; runes missing from the code page become '?'
func (e *TextEncoder) Encode(s string) []byte {
	if e == nil || e.charmap == nil {
		return []byte(s)
	}
	b := make([]byte, 0, len(s))
	for _, r := range s {
		c, ok := e.charmap.EncodeRune(r)
		if !ok {
			c = '?'
		}
		b = append(b, c)
	}
	return b
}
