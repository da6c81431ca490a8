// Package model holds the data shapes shared between the parser, the
// resolution cache and the store writer. None of these types carry any
// database-specific behaviour; they are the in-memory result of parsing one
// filing.
package model

import "github.com/shopspring/decimal"

// Context is a parsed <xbrli:context> element: an entity/period/dimension
// triple that numeric and text facts reference by id.
type Context struct {
	ContextRef       string
	EntityIdentifier string
	EntityScheme     string
	PeriodType       string // "instant", "duration" or "forever"
	InstantDate      string
	StartDate        string
	EndDate          string
	Dimensions       *Dimensions
	SegmentRaw       string
}

// Dimensions is the explicit/typed dimension member set carried by a
// context's segment. It is hashed (via canonical JSON) to resolve a context
// to a shared dimension_pattern row.
type Dimensions struct {
	Explicit []ExplicitMember `json:"explicit"`
	Typed    []TypedMember    `json:"typed"`
}

// IsEmpty reports whether the context carries no dimension members, in
// which case it resolves to no dimension_pattern row at all.
func (d *Dimensions) IsEmpty() bool {
	return d == nil || (len(d.Explicit) == 0 && len(d.Typed) == 0)
}

type ExplicitMember struct {
	Dimension string `json:"dimension"`
	Member    string `json:"member"`
}

type TypedMember struct {
	Dimension string `json:"dimension"`
	Value     string `json:"value"`
}

// Unit is a parsed <xbrli:unit> element.
type Unit struct {
	UnitRef    string
	MeasureRaw string
	Measure    string
}

// NumericFact is a parsed <ix:nonFraction> element.
type NumericFact struct {
	ConceptRaw string
	Concept    string
	ContextRef string
	UnitRef    string
	ValueRaw   string
	Value      decimal.Decimal
	HasValue   bool
	Sign       string
	Decimals   *int
	Scale      *int
	Format     string
}

// TextFact is a parsed <ix:nonNumeric> element.
type TextFact struct {
	ConceptRaw string
	Concept    string
	ContextRef string
	Value      string
	HasValue   bool
	Format     string
	Escape     string
}

// ParsedFiling is the complete result of parsing one iXBRL/XBRL document.
type ParsedFiling struct {
	Contexts      []Context
	Units         []Unit
	NumericFacts  []NumericFact
	TextFacts     []TextFact
	CompanyNumber string
	CompanyName   string

	BalanceSheetDate string
	PeriodStartDate  string
	PeriodEndDate    string
}
