package extractor

import (
	"strings"

	"golang.org/x/net/html"
)

// Elements whose text is never visible
var hiddenElements = map[string]bool{
	"head":   true,
	"script": true,
	"style":  true,
	"title":  true,
}

// Elements that end the current line
var blockElements = map[string]bool{
	"address": true, "article": true, "blockquote": true, "br": true,
	"div": true, "footer": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "header": true, "hr": true,
	"li": true, "ol": true, "p": true, "pre": true, "section": true,
	"table": true, "tr": true, "ul": true,
}

// HTMLToText renders an HTML body as plain text. Content inside <blockquote>
// and Gmail/Outlook quote containers is prefixed with "> " so the reply
// extractor treats it as quoted history.
func HTMLToText(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	w := &textWriter{}

	// one entry per open div/blockquote: whether it opened a quote
	var containers []bool
	hidden := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			w.newline()
			return collapseBlankLines(strings.TrimSpace(w.out.String()))

		case html.TextToken:
			if hidden == 0 {
				w.text(string(z.Text()))
			}

		case html.StartTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if hiddenElements[tag] {
				hidden++
				continue
			}
			if tag == "div" || tag == "blockquote" {
				quote := tag == "blockquote" || (hasAttr && isQuoteContainer(z))
				containers = append(containers, quote)
				if quote {
					w.newline()
					w.quote++
				}
			}
			if blockElements[tag] {
				w.newline()
			}

		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blockElements[string(name)] {
				w.newline()
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if hiddenElements[tag] {
				if hidden > 0 {
					hidden--
				}
				continue
			}
			if blockElements[tag] {
				w.newline()
			}
			if (tag == "div" || tag == "blockquote") && len(containers) > 0 {
				quote := containers[len(containers)-1]
				containers = containers[:len(containers)-1]
				if quote && w.quote > 0 {
					w.newline()
					w.quote--
				}
			}
		}
	}
}

func isQuoteContainer(z *html.Tokenizer) bool {
	for {
		key, val, more := z.TagAttr()
		k := string(key)
		v := string(val)
		if (k == "class" && strings.Contains(v, "gmail_quote")) ||
			(k == "id" && (v == "divRplyFwdMsg" || v == "appendonsend")) ||
			(k == "type" && strings.EqualFold(v, "cite")) {
			return true
		}
		if !more {
			return false
		}
	}
}

type textWriter struct {
	out    strings.Builder
	line   strings.Builder
	quote  int
	quoted bool
}

func (w *textWriter) text(s string) {
	if w.line.Len() == 0 {
		w.quoted = w.quote > 0
	}
	w.line.WriteString(s)
}

func (w *textWriter) newline() {
	line := strings.Join(strings.Fields(w.line.String()), " ")
	w.line.Reset()
	if line == "" {
		if w.out.Len() > 0 {
			w.out.WriteByte('\n')
		}
		return
	}
	if w.quoted {
		line = "> " + line
	}
	w.out.WriteString(line)
	w.out.WriteByte('\n')
}
