package extractor

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestExtractStripsQuotedHistory(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "attribution line",
			text: "Thanks, still broken\n\nOn Mon, Jan 1, 2024 at 10:00 AM Support <support@example.com> wrote:\n> Previous message\n> more",
			want: "Thanks, still broken",
		},
		{
			name: "attribution wrapped over two lines",
			text: "Yes\n\nOn Mon, Jan 1, 2024 at 10:00 AM Support <\nsupport@example.com> wrote:\n> old",
			want: "Yes",
		},
		{
			name: "signature delimiter",
			text: "Please reset my password.\n\n-- \nAlice\nACME Corp",
			want: "Please reset my password.",
		},
		{
			name: "original message separator",
			text: "Got it.\n\n-----Original Message-----\nFrom: Support\nSent: Monday\n\nold",
			want: "Got it.",
		},
		{
			name: "outlook reply header",
			text: "Works now\n\nFrom: Support <support@example.com>\nSent: Monday, January 1, 2024\nTo: Alice\nSubject: RE: Help",
			want: "Works now",
		},
		{
			name: "interleaved quotes",
			text: "> question?\nanswer\n> q2\nanswer2",
			want: "answer\nanswer2",
		},
		{
			name: "mobile trailer",
			text: "ok\n\nSent from my iPhone",
			want: "ok",
		},
		{
			name: "crlf line endings",
			text: "Hello\r\n\r\nOn Tue, Bob wrote:\r\n> x",
			want: "Hello",
		},
		{
			name: "plain body is kept",
			text: "My printer is on fire.\n\nPlease help.",
			want: "My printer is on fire.\n\nPlease help.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.text, ""))
		})
	}
}

func TestExtractFallsBackToExcerpt(t *testing.T) {
	assert.Equal(t, "> all quoted\n> lines", Extract("> all quoted\n> lines", ""))

	long := "> " + strings.Repeat("a", 1000)
	got := Extract(long, "")
	assert.Equal(t, DefaultFallbackChars, utf8.RuneCountInString(got))

	short := New(WithFallbackChars(10)).Extract(long, "")
	assert.Equal(t, "> aaaaaaaa", short)

	multibyte := "> " + strings.Repeat("é", 600)
	assert.Equal(t, DefaultFallbackChars, utf8.RuneCountInString(Extract(multibyte, "")))
}

func TestExtractEmptyInput(t *testing.T) {
	assert.Equal(t, "", Extract("", ""))
	assert.Equal(t, "", Extract("   \n\t", ""))
	assert.Equal(t, "", Extract("", "<html><head><title>x</title></head><body></body></html>"))
}

func TestExtractUsesHTMLWhenTextMissing(t *testing.T) {
	html := `<div dir="ltr">Thanks!</div><div class="gmail_quote"><div class="gmail_attr">On Mon, Alice wrote:</div><blockquote>prev</blockquote></div>`
	assert.Equal(t, "Thanks!", Extract("", html))

	assert.Equal(t, "Text wins", Extract("Text wins", "<p>html loses</p>"))
}

func TestHTMLToText(t *testing.T) {
	got := HTMLToText(`<p>Hello <b>there</b></p><blockquote>old stuff</blockquote>`)
	assert.Contains(t, got, "Hello there")
	assert.Contains(t, got, "> old stuff")
	assert.Equal(t, "Hello there", Extract("", `<p>Hello <b>there</b></p><blockquote>old stuff</blockquote>`))

	assert.Equal(t, "Price & value ok", HTMLToText(`<div>Price &amp; value&nbsp;ok</div><script>var x=1;</script>`))
	assert.Equal(t, "line one\nline two", HTMLToText(`line one<br/>line two`))
	assert.Equal(t, "unclosed bold", HTMLToText(`<div><p>unclosed <b>bold`))
}

func TestExtractNeverPanics(t *testing.T) {
	inputs := []string{
		"",
		"<",
		"<<<>>>",
		"\x00\xff\xfe",
		strings.Repeat(">", 10000),
		"<blockquote><blockquote>",
		"</div></div></blockquote>",
		"On wrote:",
		"--",
		"From:",
		"<div class=\"gmail_quote\"",
	}

	e := New()
	for _, in := range inputs {
		assert.NotPanics(t, func() { e.Extract(in, "") })
		assert.NotPanics(t, func() { e.Extract("", in) })
		assert.NotPanics(t, func() { e.Extract(in, in) })
	}
}
