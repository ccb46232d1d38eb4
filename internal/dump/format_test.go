package dump

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexDump(t *testing.T) {
	assert.Equal(t, "", HexDump(nil))
	assert.Equal(t, "00", HexDump([]byte{0}))
	assert.Equal(t, "de ad be ef", HexDump([]byte{0xDE, 0xAD, 0xBE, 0xEF}))
}

func TestPrintable(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"empty", nil, ""},
		{"ascii", []byte("Hello, world!"), "Hello, world!"},
		{"c escapes", []byte{0, '\a', '\b', '\t', '\n', '\v', '\f', '\r'}, `\0\a\b\t\n\v\f\r`},
		{"octal", []byte{0x01, 0x1f, 0x7f, 0xff}, `\001\037\177\377`},
		{"quotes kept", []byte(`"\`), `"\`},
		{"mixed", []byte{'L', 'v', 0x00, 0x32}, `Lv\02`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Printable(tt.in))
		})
	}
}

func TestColorEnabled(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer f.Close()

	on, err := ColorEnabled(ColorAlways, f)
	require.NoError(t, err)
	assert.True(t, on)

	on, err = ColorEnabled(ColorNever, f)
	require.NoError(t, err)
	assert.False(t, on)

	on, err = ColorEnabled(ColorAuto, f)
	require.NoError(t, err)
	assert.False(t, on, "a regular file MUST NOT get colors")

	on, err = ColorEnabled(ColorAuto, nil)
	require.NoError(t, err)
	assert.False(t, on)

	_, err = ColorEnabled("sometimes", f)
	assert.Error(t, err)
}
