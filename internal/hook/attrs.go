package hook

import (
	"log/slog"
	"strconv"
	"strings"
	"unicode"
)

// attrText renders attributes as " key=value" pairs, the way the standard
// library's default handler prints them after the message.
type attrText struct {
	pre    []byte // attributes already bound with WithAttrs
	groups string // dotted group prefix from WithGroup
}

func (a attrText) withAttrs(attrs []slog.Attr) attrText {
	pre := append([]byte(nil), a.pre...)
	for _, at := range attrs {
		pre = appendAttr(pre, a.groups, at)
	}
	return attrText{pre: pre, groups: a.groups}
}

func (a attrText) withGroup(name string) attrText {
	if name == "" {
		return a
	}
	return attrText{pre: a.pre, groups: a.groups + name + "."}
}

// appendRecord appends the bound attributes followed by the record's own.
func (a attrText) appendRecord(buf []byte, r slog.Record) []byte {
	buf = append(buf, a.pre...)
	r.Attrs(func(at slog.Attr) bool {
		buf = appendAttr(buf, a.groups, at)
		return true
	})
	return buf
}

func appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		sub := prefix
		if a.Key != "" {
			sub = prefix + a.Key + "."
		}
		for _, g := range a.Value.Group() {
			buf = appendAttr(buf, sub, g)
		}
		return buf
	}

	buf = append(buf, ' ')
	buf = append(buf, prefix...)
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	return appendValue(buf, a.Value.String())
}

func appendValue(buf []byte, s string) []byte {
	if needsQuoting(s) {
		return strconv.AppendQuote(buf, s)
	}
	return append(buf, s...)
}

func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '"' || r == '=' || !unicode.IsPrint(r)
	}) >= 0
}
