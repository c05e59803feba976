// package befunge implements the funge interpreter: programs, processes, the
// instruction table, and the Engine which schedules processes beat by beat.
package befunge

import (
	"bytes"
	"fmt"
)

// MaxDim is the maximum width or height of a Program.
const MaxDim = 1024

// Program is an immutable, rectangular grid of instruction bytes.
// Addressing wraps in both dimensions.
type Program struct {
	width, height int
	cells         []byte
}

// Parse builds a Program from source text.
// Lines are separated by '\n', a trailing '\r' on a line is ignored, and trailing empty lines are dropped.
// Short lines are padded with spaces.
// Parse fails if no non-empty line remains, or if either dimension exceeds MaxDim.
func Parse(src []byte) (*Program, error) {
	lines := bytes.Split(src, []byte{'\n'})
	for i := range lines {
		lines[i] = bytes.TrimSuffix(lines[i], []byte{'\r'})
	}
	for len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}
	var width int
	for _, line := range lines {
		width = max(width, len(line))
	}
	if width == 0 {
		return nil, &ParseError{Msg: "empty program"}
	}
	if width > MaxDim || len(lines) > MaxDim {
		return nil, &ParseError{Msg: fmt.Sprintf("program too large (%dx%d), max is %dx%d", width, len(lines), MaxDim, MaxDim)}
	}
	p := &Program{
		width:  width,
		height: len(lines),
		cells:  bytes.Repeat([]byte{' '}, width*len(lines)),
	}
	for y, line := range lines {
		copy(p.cells[y*width:], line)
	}
	return p, nil
}

// MustParse calls Parse and panics on error.
func MustParse(src string) *Program {
	p, err := Parse([]byte(src))
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Program) Width() int {
	return p.width
}

func (p *Program) Height() int {
	return p.height
}

// At returns the instruction at (x, y), wrapping both coordinates.
func (p *Program) At(x, y int) byte {
	x, y = p.wrap(x, y)
	return p.cells[y*p.width+x]
}

func (p *Program) wrap(x, y int) (int, int) {
	x %= p.width
	if x < 0 {
		x += p.width
	}
	y %= p.height
	if y < 0 {
		y += p.height
	}
	return x, y
}

// String returns the grid, one row per line.
func (p *Program) String() string {
	var sb bytes.Buffer
	for y := 0; y < p.height; y++ {
		sb.Write(p.cells[y*p.width : (y+1)*p.width])
		sb.WriteByte('\n')
	}
	return sb.String()
}
