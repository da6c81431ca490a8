package ixbrl

import (
	"html"
	"sort"
	"strings"
)

// node is a minimal, parser-agnostic element tree shared by the
// encoding/xml path and the golang.org/x/net/html fallback path. Only the
// handful of operations the extraction code needs are implemented:
// attribute lookup, local-name-based descendant search, and text
// extraction.
type node struct {
	localName string
	rawName   string
	attrs     map[string]string
	children  []*node
	parent    *node
	textBuf   []byte // direct text content only, not interleaved with children
	rawBuf    []byte // same content, preserved for escape="true" passthrough
	mixed     []mixedContent
}

// mixedContent is one ordered piece of an element's content: either a run
// of text or a single child element, recorded in document order. Unlike
// textBuf/children, which separate text from elements, mixed preserves
// interleaving so innerMarkup can reconstruct the original tag structure.
type mixedContent struct {
	text string
	elem *node
}

func (n *node) attr(name string) string {
	if v, ok := n.attrs[name]; ok {
		return v
	}
	for k, v := range n.attrs {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// text returns the concatenated text of this element and all descendants,
// matching BeautifulSoup's get_text(strip=True) behaviour used by the
// reference parser (stripped of leading/trailing whitespace by the
// caller).
func (n *node) text() string {
	var b strings.Builder
	for _, m := range n.mixed {
		if m.elem != nil {
			b.WriteString(m.elem.text())
		} else {
			b.WriteString(m.text)
		}
	}
	return b.String()
}

// innerMarkup reconstructs this element's content as markup text, used for
// ix:nonNumeric elements with escape="true" whose fact value is itself
// markup. Mirrors "".join(str(child) for child in tag.contents) in the
// reference parser: child element tags are rebuilt from the parsed
// attributes rather than copied byte-for-byte, so attribute order and
// original whitespace inside a tag are not guaranteed to match the source,
// but the tag structure and text content round-trip.
func (n *node) innerMarkup() string {
	var b strings.Builder
	for _, m := range n.mixed {
		if m.elem != nil {
			m.elem.serialize(&b)
		} else {
			b.WriteString(m.text)
		}
	}
	return b.String()
}

// serialize writes this element and its subtree as markup text onto b.
func (n *node) serialize(b *strings.Builder) {
	name := n.rawName
	if name == "" {
		name = n.localName
	}
	b.WriteByte('<')
	b.WriteString(name)
	for _, k := range sortedAttrKeys(n.attrs) {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(n.attrs[k]))
		b.WriteByte('"')
	}
	b.WriteByte('>')
	for _, m := range n.mixed {
		if m.elem != nil {
			m.elem.serialize(b)
		} else {
			b.WriteString(html.EscapeString(m.text))
		}
	}
	b.WriteString("</")
	b.WriteString(name)
	b.WriteByte('>')
}

func sortedAttrKeys(attrs map[string]string) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// raw returns the best-effort serialized text of this element's subtree,
// used for Context.SegmentRaw (diagnostic-only field, not parsed further).
func (n *node) raw() string {
	var b strings.Builder
	b.Write(n.rawBuf)
	for _, c := range n.children {
		b.WriteString(c.raw())
	}
	return b.String()
}

// findFirst returns the first descendant (depth-first, any depth) whose
// local name matches, ignoring any namespace prefix. Names compare
// case-insensitively because the HTML fallback parser lowercases them.
func (n *node) findFirst(localName string) *node {
	for _, c := range n.children {
		if strings.EqualFold(c.localName, localName) {
			return c
		}
		if found := c.findFirst(localName); found != nil {
			return found
		}
	}
	return nil
}

// findAll returns every descendant (any depth) whose local name matches,
// compared case-insensitively as in findFirst.
func (n *node) findAll(localName string) []*node {
	var out []*node
	for _, c := range n.children {
		if strings.EqualFold(c.localName, localName) {
			out = append(out, c)
		}
		out = append(out, c.findAll(localName)...)
	}
	return out
}

// childElements returns immediate element children only, used by the
// typedMember parser which needs exactly the first child element.
func (n *node) childElements() []*node {
	return n.children
}
