package domain

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

func TestSlugifyShape(t *testing.T) {
	cases := []string{
		"My Feature!",
		"already-a-slug",
		"___",
		"",
		"Héllo Wörld",
		"UPPER_CASE_123",
		"---leading-and-trailing---",
	}

	for _, in := range cases {
		slug := Slugify(in)
		if slug == "" {
			continue
		}
		require.LessOrEqual(t, len(slug), maxSlugLen, "input %q", in)
		assert.Regexp(t, slugPattern, slug, "input %q produced %q", in, slug)
	}
}

func TestSlugifyExamples(t *testing.T) {
	assert.Equal(t, "my-feature", Slugify("My Feature!"))
	assert.Equal(t, "", Slugify("___"))
	assert.Equal(t, "repo", Slugify("repo"))
}

func TestSlugifyTruncatesLongInput(t *testing.T) {
	long := ""
	for i := 0; i < 100; i++ {
		long += "a"
	}
	slug := Slugify(long)
	assert.LessOrEqual(t, len(slug), maxSlugLen)
}

func TestEnvToken(t *testing.T) {
	assert.Equal(t, "MY_FEATURE", EnvToken("my-feature"))
	assert.Equal(t, "WEB", EnvToken("web"))
}
