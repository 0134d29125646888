package format

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ParseResult contains plain text and message entities
type ParseResult struct {
	Text     string
	Entities []tgbotapi.MessageEntity
}

// UTF16Len returns the length of s in UTF-16 code units, the unit Telegram
// uses for entity offsets and lengths.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

type rule struct {
	re  *regexp.Regexp
	typ string
}

// Rules run in order. Group 1 is the visible text; a link also has its
// target in group 2. Code goes first so its content stays literal.
var rules = []rule{
	{regexp.MustCompile("`([^`\n]+?)`"), "code"},
	{regexp.MustCompile(`\[([^\]\n]+)\]\((https?://[^)\s]+)\)`), "text_link"},
	{regexp.MustCompile(`(?m)^#{1,6}[ \t]+(.+?)[ \t]*$`), "bold"},
	{regexp.MustCompile(`\*\*(.+?)\*\*`), "bold"},
	{regexp.MustCompile(`__(.+?)__`), "bold"},
	{regexp.MustCompile(`(?:^|[^*\w])\*([^*\n]+?)\*`), "italic"},
	{regexp.MustCompile(`(?:^|[^_\w])_([^_\n]+?)_`), "italic"},
}

type parser struct {
	text     string
	entities []tgbotapi.MessageEntity
}

// ParseMarkdown converts a small Markdown subset into plain text plus
// Telegram message entities:
//   - **bold** or __bold__, and # headers rendered bold
//   - *italic* or _italic_
//   - `code`
//   - [text](https://link)
func ParseMarkdown(text string) ParseResult {
	p := &parser{text: text}
	for _, r := range rules {
		p.apply(r)
	}

	sort.SliceStable(p.entities, func(i, j int) bool {
		return p.entities[i].Offset < p.entities[j].Offset
	})

	return ParseResult{
		Text:     strings.TrimRight(p.text, " \n"),
		Entities: p.entities,
	}
}

func (p *parser) apply(r rule) {
	from := 0
	for from < len(p.text) {
		loc := r.re.FindStringSubmatchIndex(p.text[from:])
		if loc == nil {
			return
		}
		for i := range loc {
			if loc[i] >= 0 {
				loc[i] += from
			}
		}

		// The match may include one leading context byte; the marker
		// starts right before the inner group.
		innerStart, innerEnd := loc[2], loc[3]
		start := loc[0]
		end := loc[1]
		if r.typ == "italic" {
			start = innerStart - 1
		}

		if p.inCode(UTF16Len(p.text[:start])) {
			from = end
			continue
		}

		e := tgbotapi.MessageEntity{Type: r.typ}
		if r.typ == "text_link" {
			e.URL = p.text[loc[4]:loc[5]]
		}
		e.Offset = UTF16Len(p.text[:start])
		e.Length = UTF16Len(p.text[innerStart:innerEnd])

		p.strip(start, innerStart, innerEnd, end)
		p.entities = append(p.entities, e)
		from = start + (innerEnd - innerStart)
	}
}

// strip removes the markers around text[innerStart:innerEnd] and moves the
// entities found so far to their new offsets.
func (p *parser) strip(start, innerStart, innerEnd, end int) {
	pre := UTF16Len(p.text[start:innerStart])
	post := UTF16Len(p.text[innerEnd:end])
	innerOff := UTF16Len(p.text[:innerStart])
	endOff := UTF16Len(p.text[:innerEnd])

	for i := range p.entities {
		e := &p.entities[i]
		switch {
		case e.Offset >= endOff:
			e.Offset -= pre + post
		case e.Offset >= innerOff:
			e.Offset -= pre
		}
	}
	p.text = p.text[:start] + p.text[innerStart:innerEnd] + p.text[end:]
}

func (p *parser) inCode(offset int) bool {
	for _, e := range p.entities {
		if e.Type == "code" && offset >= e.Offset && offset < e.Offset+e.Length {
			return true
		}
	}
	return false
}
