// Package ixbrl parses inline-XBRL (and plain XBRL-XML) filing documents
// into the shared model types. Two parse strategies are tried in order: a
// namespace-aware but tolerant encoding/xml decode, and — if that fails —
// a recovering HTML walk via golang.org/x/net/html. Both strategies feed
// the same local-name-based extraction so the caller never sees which path
// was taken.
package ixbrl

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"github.com/ch-ixbrl/ingest/model"
	"github.com/ch-ixbrl/ingest/normalize"
)

// Parser parses filing bytes into a ParsedFiling. It carries only a logger
// (for parse-time warnings that should not fail the filing) and no other
// state, so one Parser can be shared across goroutines.
type Parser struct {
	log *logrus.Logger
}

// New returns a Parser that logs warnings (XML fallback, unparseable
// numeric values, duration contexts whose start is after their end)
// through log. A nil logger disables warning output.
func New(log *logrus.Logger) *Parser {
	return &Parser{log: log}
}

func (p *Parser) warnf(format string, args ...interface{}) {
	if p.log != nil {
		p.log.Warnf(format, args...)
	}
}

// Parse extracts contexts, units and facts from raw filing bytes. It first
// attempts a strict-ish XML decode; on failure it falls back to a
// recovering HTML parse so that filings with unescaped ampersands, stray
// void elements, or a missing XML declaration still yield data.
func (p *Parser) Parse(raw []byte) (*model.ParsedFiling, error) {
	doc, err := parseXMLTree(raw)
	if err != nil {
		p.warnf("strict xml decode failed, falling back to html parser: %v", err)
		doc, err = parseHTMLTree(raw)
		if err != nil {
			return nil, fmt.Errorf("ixbrl: both xml and html parse failed: %w", err)
		}
	}

	result := &model.ParsedFiling{}

	seenCtx := map[string]bool{}
	for _, el := range doc.findAll("context") {
		ref := el.attr("id")
		if ref == "" || seenCtx[ref] {
			continue
		}
		seenCtx[ref] = true
		result.Contexts = append(result.Contexts, p.parseContext(el))
	}

	seenUnit := map[string]bool{}
	for _, el := range doc.findAll("unit") {
		ref := el.attr("id")
		if ref == "" || seenUnit[ref] {
			continue
		}
		seenUnit[ref] = true
		result.Units = append(result.Units, parseUnit(el))
	}

	for _, el := range doc.findAll("nonFraction") {
		if el.attr("name") == "" {
			continue
		}
		result.NumericFacts = append(result.NumericFacts, p.parseNumericFact(el))
	}

	for _, el := range doc.findAll("nonNumeric") {
		if el.attr("name") == "" {
			continue
		}
		result.TextFacts = append(result.TextFacts, parseTextFact(el))
	}

	p.promoteMetadata(result)
	p.checkDurationOrdering(result)

	return result, nil
}

// promoteMetadata lifts well-known text facts up to top-level filing fields,
// exactly mirroring the concept-name switch in the original parser.
func (p *Parser) promoteMetadata(result *model.ParsedFiling) {
	for _, fact := range result.TextFacts {
		switch fact.Concept {
		case "UKCompaniesHouseRegisteredNumber", "CompaniesHouseRegisteredNumber":
			result.CompanyNumber = fact.Value
		case "EntityCurrentLegalOrRegisteredName", "EntityCurrentLegalName":
			result.CompanyName = fact.Value
		case "BalanceSheetDate":
			result.BalanceSheetDate = fact.Value
		case "StartDateForPeriodCoveredByReport":
			result.PeriodStartDate = fact.Value
		case "EndDateForPeriodCoveredByReport":
			result.PeriodEndDate = fact.Value
		}
	}
}

func (p *Parser) checkDurationOrdering(result *model.ParsedFiling) {
	for _, ctx := range result.Contexts {
		if ctx.PeriodType != "duration" || ctx.StartDate == "" || ctx.EndDate == "" {
			continue
		}
		start := normalize.DateToISO(ctx.StartDate)
		end := normalize.DateToISO(ctx.EndDate)
		if start != "" && end != "" && start > end {
			p.warnf("context %s: period_start %s is after period_end %s", ctx.ContextRef, start, end)
		}
	}
}

func (p *Parser) parseContext(el *node) model.Context {
	ctx := model.Context{
		ContextRef: el.attr("id"),
		PeriodType: "forever",
	}

	if ident := el.findFirst("identifier"); ident != nil {
		ctx.EntityIdentifier = strings.TrimSpace(ident.text())
		ctx.EntityScheme = ident.attr("scheme")
	}

	if period := el.findFirst("period"); period != nil {
		if instant := period.findFirst("instant"); instant != nil {
			ctx.PeriodType = "instant"
			ctx.InstantDate = strings.TrimSpace(instant.text())
		} else {
			start := period.findFirst("startDate")
			end := period.findFirst("endDate")
			if start != nil || end != nil {
				ctx.PeriodType = "duration"
				if start != nil {
					ctx.StartDate = strings.TrimSpace(start.text())
				}
				if end != nil {
					ctx.EndDate = strings.TrimSpace(end.text())
				}
			}
		}
	}

	segment := el.findFirst("segment")
	if segment == nil {
		segment = el.findFirst("scenario")
	}
	if segment != nil {
		ctx.SegmentRaw = segment.raw()
		dims := &model.Dimensions{}
		for _, m := range segment.findAll("explicitMember") {
			dims.Explicit = append(dims.Explicit, model.ExplicitMember{
				Dimension: m.attr("dimension"),
				Member:    strings.TrimSpace(m.text()),
			})
		}
		for _, m := range segment.findAll("typedMember") {
			children := m.childElements()
			value := ""
			if len(children) > 0 {
				value = strings.TrimSpace(children[0].text())
			}
			dims.Typed = append(dims.Typed, model.TypedMember{
				Dimension: m.attr("dimension"),
				Value:     value,
			})
		}
		if !dims.IsEmpty() {
			sort.Slice(dims.Explicit, func(i, j int) bool {
				if dims.Explicit[i].Dimension != dims.Explicit[j].Dimension {
					return dims.Explicit[i].Dimension < dims.Explicit[j].Dimension
				}
				return dims.Explicit[i].Member < dims.Explicit[j].Member
			})
			sort.Slice(dims.Typed, func(i, j int) bool {
				if dims.Typed[i].Dimension != dims.Typed[j].Dimension {
					return dims.Typed[i].Dimension < dims.Typed[j].Dimension
				}
				return dims.Typed[i].Value < dims.Typed[j].Value
			})
			ctx.Dimensions = dims
		}
	}

	return ctx
}

func parseUnit(el *node) model.Unit {
	measureRaw := ""
	if m := el.findFirst("measure"); m != nil {
		measureRaw = strings.TrimSpace(m.text())
	}
	return model.Unit{
		UnitRef:    el.attr("id"),
		MeasureRaw: measureRaw,
		Measure:    normalize.Measure(measureRaw),
	}
}

func (p *Parser) parseNumericFact(el *node) model.NumericFact {
	conceptRaw := el.attr("name")
	valueRaw := strings.TrimSpace(el.text())
	sign := el.attr("sign")
	scale := normalize.IntAttr(el.attr("scale"))
	format := el.attr("format")

	value, ok := normalize.NumericValue(valueRaw, sign, scale, format)
	if !ok {
		p.warnf("concept %s: could not parse numeric value %q", conceptRaw, valueRaw)
	}

	return model.NumericFact{
		ConceptRaw: conceptRaw,
		Concept:    normalize.Concept(conceptRaw),
		ContextRef: el.attr("contextRef"),
		UnitRef:    el.attr("unitRef"),
		ValueRaw:   valueRaw,
		Value:      value,
		HasValue:   ok,
		Sign:       sign,
		Decimals:   normalize.IntAttr(el.attr("decimals")),
		Scale:      scale,
		Format:     format,
	}
}

func parseTextFact(el *node) model.TextFact {
	conceptRaw := el.attr("name")
	escape := el.attr("escape")

	var value string
	if escape != "" {
		value = el.innerMarkup()
	} else {
		value = strings.TrimSpace(el.text())
	}

	return model.TextFact{
		ConceptRaw: conceptRaw,
		Concept:    normalize.Concept(conceptRaw),
		ContextRef: el.attr("contextRef"),
		Value:      value,
		HasValue:   value != "",
		Format:     el.attr("format"),
		Escape:     escape,
	}
}

// parseXMLTree decodes raw bytes into the internal node tree using
// encoding/xml in tolerant mode: HTML entities and auto-closing void
// elements are accepted so that loosely-escaped iXBRL still decodes.
func parseXMLTree(raw []byte) (*node, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity

	root := &node{localName: "#root"}
	stack := []*node{root}

	for {
		tok, err := dec.Token()
		if err != nil {
			if err.Error() == "EOF" {
				break
			}
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{
				localName: t.Name.Local,
				rawName:   qualifiedName(t.Name),
				attrs:     map[string]string{},
			}
			for _, a := range t.Attr {
				n.attrs[a.Name.Local] = a.Value
			}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, n)
			parent.mixed = append(parent.mixed, mixedContent{elem: n})
			n.parent = parent
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			cur := stack[len(stack)-1]
			cur.textBuf = append(cur.textBuf, t...)
			cur.rawBuf = append(cur.rawBuf, t...)
			cur.mixed = append(cur.mixed, mixedContent{text: string(t)})
		}
	}

	if len(root.children) == 0 {
		return nil, fmt.Errorf("ixbrl: xml decode produced no elements")
	}
	return root, nil
}

// parseHTMLTree is the recovering fallback: golang.org/x/net/html tolerates
// essentially any byte soup and produces a usable DOM, which is then
// adapted into the same node shape so downstream code is parser-agnostic.
func parseHTMLTree(raw []byte) (*node, error) {
	htmlNode, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	root := &node{localName: "#root"}
	convertHTMLNode(htmlNode, root)
	return root, nil
}

func convertHTMLNode(h *html.Node, parent *node) {
	if h.Type == html.ElementNode {
		local := localPart(h.Data)
		n := &node{
			localName: local,
			rawName:   h.Data,
			attrs:     map[string]string{},
			parent:    parent,
		}
		for _, a := range h.Attr {
			n.attrs[localPart(a.Key)] = a.Val
		}
		parent.children = append(parent.children, n)
		parent.mixed = append(parent.mixed, mixedContent{elem: n})
		parent = n
	} else if h.Type == html.TextNode {
		parent.textBuf = append(parent.textBuf, []byte(h.Data)...)
		parent.rawBuf = append(parent.rawBuf, []byte(h.Data)...)
		parent.mixed = append(parent.mixed, mixedContent{text: h.Data})
	}
	for c := h.FirstChild; c != nil; c = c.NextSibling {
		convertHTMLNode(c, parent)
	}
}

// localPart strips a namespace prefix from a tag/attribute name, e.g.
// "ix:nonFraction" -> "nonFraction", "xbrli:context" -> "context".
func localPart(name string) string {
	if i := strings.LastIndex(name, ":"); i >= 0 {
		return name[i+1:]
	}
	return name
}

func qualifiedName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}
