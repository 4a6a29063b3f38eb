package scrape

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanDescription(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "empty",
			input: "",
			want:  "",
		},
		{
			name:  "entities decoded",
			input: "Read Smith &amp; Jones, ch. 3 &#39;Intro&#39;",
			want:  "Read Smith & Jones, ch. 3 'Intro'",
		},
		{
			name:  "tags stripped",
			input: "<p>Submit <b>before</b> class.</p>",
			want:  "Submit before class.",
		},
		{
			name:  "whitespace collapsed",
			input: "<div>one</div>\n\n  <div>two</div>",
			want:  "one two",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CleanDescription(tc.input))
		})
	}
}

func TestCleanDescription_Caps(t *testing.T) {
	long := strings.Repeat("x", 600)
	got := CleanDescription(long)
	assert.Len(t, got, 503)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Smith & Jones Quiz", CleanTitle("  Smith &amp; Jones\nQuiz "))
}
