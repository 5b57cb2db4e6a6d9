// Package escpos encodes ESC/POS printer directives and formats fixed-width
// receipt text.
package escpos

// ESC/POS command bytes
const (
	ESC byte = 0x1B
	GS  byte = 0x1D
	LF  byte = 0x0A
)

// Alignment for ESC a
type Alignment byte

const (
	AlignLeft   Alignment = 0x00
	AlignCenter Alignment = 0x01
	AlignRight  Alignment = 0x02
)

// Size is a GS ! character size selection
type Size byte

const (
	SizeNormal Size = 0x00
	SizeDouble Size = 0x11
	SizeLarge  Size = 0x22
)

// Init resets the printer (ESC @)
func Init() []byte { return []byte{ESC, 0x40} }

// Align sets justification (ESC a n)
func Align(a Alignment) []byte { return []byte{ESC, 0x61, byte(a)} }

// Bold toggles emphasized mode (ESC E n)
func Bold(on bool) []byte { return []byte{ESC, 0x45, flag(on)} }

// Underline toggles single-dot underline (ESC - n)
func Underline(on bool) []byte { return []byte{ESC, 0x2D, flag(on)} }

// SetSize selects character width and height (GS ! n)
func SetSize(s Size) []byte { return []byte{GS, 0x21, byte(s)} }

// Cut performs a full paper cut (GS V 0)
func Cut() []byte { return []byte{GS, 0x56, 0x00} }

// LineFeed prints the buffer and advances one line
func LineFeed() []byte { return []byte{LF} }

// FeedLines prints the buffer and feeds n lines (ESC d n)
func FeedLines(n byte) []byte { return []byte{ESC, 0x64, n} }

// DrawerKick pulses drawer pin 2 for 50ms on / 500ms off (ESC p 0 25 250)
func DrawerKick() []byte { return []byte{ESC, 0x70, 0x00, 0x19, 0xFA} }

// SelectCodePage selects a character code table (ESC t n)
func SelectCodePage(n byte) []byte { return []byte{ESC, 0x74, n} }

func flag(on bool) byte {
	if on {
		return 0x01
	}
	return 0x00
}
