package extract

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestCleanText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"trim and collapse", "  Hello  World  ", "Hello World"},
		{"newlines and tabs", "a\n\n\tb\r\nc", "a b c"},
		{"non-breaking space", "a  b", "a b"},
		{"only whitespace", " \n\t ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, CleanText(tc.in))
		})
	}
}

func TestTruncateNeverExceedsLimit(t *testing.T) {
	t.Parallel()

	inputs := []string{"", "short", strings.Repeat("x", 5000), strings.Repeat("é", 300), "日本語のテキスト"}
	for _, in := range inputs {
		for _, limit := range []int{0, 1, 3, 10, 1000} {
			got := Truncate(in, limit)
			assert.LessOrEqual(t, utf8.RuneCountInString(got), limit)
			assert.True(t, strings.HasPrefix(in, got))
			assert.True(t, utf8.ValidString(got))
		}
	}
}
