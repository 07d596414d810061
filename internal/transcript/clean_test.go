package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"whitespace", "  hello\n\n  world\t ", "hello world"},
		{"entities", "it&amp;#39;s &quot;fine&quot;", `it's "fine"`},
		{"cues", "[Music] welcome back [Applause] everyone [LAUGHTER]", "welcome back everyone"},
		{"chevrons", ">> so today >> we talk", "so today we talk"},
		{"speaker labels", "JOHN: hello there MARY SMITH: hi", "hello there hi"},
		{"nfc", "cafe\u0301", "caf\u00e9"},
		{"keeps brackets with content", "see [slide 3] now", "see [slide 3] now"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Clean(tc.in))
		})
	}
}
