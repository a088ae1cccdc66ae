package assistant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecoder(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
		tail   string
	}{
		{
			name:   "ascii passes straight through",
			chunks: []string{"abc", "def"},
			want:   []string{"abc", "def"},
		},
		{
			name:   "two-byte rune split",
			chunks: []string{"caf\xc3", "\xa9"},
			want:   []string{"caf", "é"},
		},
		{
			name:   "four-byte rune split three ways",
			chunks: []string{"\xf0\x9f", "\x94", "\xa5!"},
			want:   []string{"", "", "🔥!"},
		},
		{
			name:   "invalid byte is replaced",
			chunks: []string{"a\xffb"},
			want:   []string{"a�b"},
		},
		{
			name:   "each invalid byte in a run is replaced",
			chunks: []string{"a\xff\xfeb"},
			want:   []string{"a\uFFFD\uFFFDb"},
		},
		{
			name:   "truncated rune mid-chunk is one replacement",
			chunks: []string{"\xe2\x82A"},
			want:   []string{"\uFFFDA"},
		},
		{
			name:   "surrogate encoding is replaced per byte",
			chunks: []string{"\xed\xa0\x80"},
			want:   []string{"\uFFFD\uFFFD\uFFFD"},
		},
		{
			name:   "truncated rune flushed at end",
			chunks: []string{"ok\xe2\x82"},
			want:   []string{"ok"},
			tail:   "�",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d decoder
			for i, c := range tt.chunks {
				assert.Equal(t, tt.want[i], d.decode([]byte(c)), "chunk %d", i)
			}
			assert.Equal(t, tt.tail, d.flush())
		})
	}
}

func TestIncompleteSuffix(t *testing.T) {
	assert.Equal(t, 0, incompleteSuffix(nil))
	assert.Equal(t, 0, incompleteSuffix([]byte("abc")))
	assert.Equal(t, 1, incompleteSuffix([]byte("a\xc3")))
	assert.Equal(t, 2, incompleteSuffix([]byte("a\xe2\x82")))
	assert.Equal(t, 3, incompleteSuffix([]byte("\xf0\x9f\x94")))
	assert.Equal(t, 0, incompleteSuffix([]byte("\xf0\x9f\x94\xa5")))
	assert.Equal(t, 0, incompleteSuffix([]byte("a\x80")))
}
