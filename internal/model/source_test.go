package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSourceID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"watch", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"watch extra params", "https://youtube.com/watch?feature=share&v=dQw4w9WgXcQ&t=42", "dQw4w9WgXcQ"},
		{"mobile", "https://m.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"short link", "https://youtu.be/dQw4w9WgXcQ?si=abc", "dQw4w9WgXcQ"},
		{"embed", "https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"shorts", "https://www.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"no scheme", "youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"bare id", "dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"dash and underscore", "https://youtu.be/a-b_c-d_e-f", "a-b_c-d_e-f"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSourceID(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSourceID_Invalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"",
		"   ",
		"https://vimeo.com/123456789",
		"https://www.youtube.com/watch?v=short",
		"https://www.youtube.com/channel/UC1234567890",
		"https://youtu.be/",
		"not a url at all",
	} {
		t.Run(in, func(t *testing.T) {
			t.Parallel()
			_, err := ParseSourceID(in)
			require.Error(t, err)
			assert.Equal(t, ErrorKindValidation, KindOf(err))
		})
	}
}

func TestWatchURL(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "https://www.youtube.com/watch?v=abc123abc12", WatchURL("abc123abc12"))
}
