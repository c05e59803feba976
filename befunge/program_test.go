package befunge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	type testCase struct {
		Src    string
		Width  int
		Height int
	}
	tcs := []testCase{
		{Src: "@", Width: 1, Height: 1},
		{Src: "> 1 2^\n@", Width: 6, Height: 2},
		{Src: "ab\r\ncde\r\n", Width: 3, Height: 2},
		{Src: "12\n\n\n", Width: 2, Height: 1},
		{Src: "\n\n3", Width: 1, Height: 3},
	}
	for _, tc := range tcs {
		t.Run(tc.Src, func(t *testing.T) {
			p, err := Parse([]byte(tc.Src))
			require.NoError(t, err)
			require.Equal(t, tc.Width, p.Width())
			require.Equal(t, tc.Height, p.Height())
		})
	}
}

func TestParsePadding(t *testing.T) {
	p := MustParse("abc\nd\nef")
	require.Equal(t, "abc\nd  \nef \n", p.String())
	require.Equal(t, byte(' '), p.At(2, 1))
}

func TestParseReject(t *testing.T) {
	for _, src := range []string{"", "\n", "\r\n\r\n"} {
		_, err := Parse([]byte(src))
		var perr *ParseError
		require.True(t, errors.As(err, &perr), "src=%q err=%v", src, err)
	}
	wide := make([]byte, MaxDim+1)
	for i := range wide {
		wide[i] = ' '
	}
	_, err := Parse(wide)
	require.Error(t, err)
}

func TestProgramWrap(t *testing.T) {
	p := MustParse("abc\ndef")
	require.Equal(t, byte('a'), p.At(3, 0))
	require.Equal(t, byte('c'), p.At(-1, 0))
	require.Equal(t, byte('d'), p.At(0, -1))
	require.Equal(t, byte('f'), p.At(5, 3))
}

func TestStepWrapsRight(t *testing.T) {
	p := MustParse("abcd\nefgh\nijkl")
	for y := 0; y < p.Height(); y++ {
		proc := NewProcess(1, "wrap", p)
		top := proc.Top()
		top.X, top.Y = p.Width()-1, y
		proc.Step()
		require.Equal(t, Frame{X: 0, Y: y, Dir: Right}, *proc.Top())
	}
}

func TestStepWrapsEveryDirection(t *testing.T) {
	p := MustParse("abc\ndef")
	proc := NewProcess(1, "wrap", p)

	proc.SetDirection(Left)
	proc.Step()
	require.Equal(t, Frame{X: 2, Y: 0, Dir: Left}, *proc.Top())

	proc.SetDirection(Up)
	proc.Step()
	require.Equal(t, Frame{X: 2, Y: 1, Dir: Up}, *proc.Top())

	proc.SetDirection(Down)
	proc.Step()
	require.Equal(t, Frame{X: 2, Y: 0, Dir: Down}, *proc.Top())
}
