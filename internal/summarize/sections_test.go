package summarize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSections(t *testing.T) {
	md := "# Go Talk\n\nintro line\n\n## TL;DR\nshort\n\n### Sub\nnested\n## Key Takeaways\n* one\n• two\n"
	sections := ParseSections(md)
	require.Len(t, sections, 3)
	assert.Equal(t, "", sections[0].Heading)
	assert.Equal(t, "# Go Talk\n\nintro line", sections[0].Body)
	assert.Equal(t, "TL;DR", sections[1].Heading)
	assert.Equal(t, "short\n\n### Sub\nnested", sections[1].Body)
	assert.Equal(t, []string{"one", "two"}, KeyPoints(sections))
}

func TestParseSections_Empty(t *testing.T) {
	assert.Empty(t, ParseSections(""))
	assert.Nil(t, KeyPoints(nil))
}
