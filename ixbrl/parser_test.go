package ixbrl

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleXBRL = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns:ix="http://www.xbrl.org/2013/inlineXBRL" xmlns:xbrli="http://www.xbrl.org/2003/instance">
<body>
<xbrli:context id="c1">
  <xbrli:entity>
    <xbrli:identifier scheme="http://www.companieshouse.gov.uk/">01234567</xbrli:identifier>
  </xbrli:entity>
  <xbrli:period>
    <xbrli:instant>2023-02-28</xbrli:instant>
  </xbrli:period>
</xbrli:context>
<xbrli:context id="c2">
  <xbrli:entity>
    <xbrli:identifier scheme="http://www.companieshouse.gov.uk/">01234567</xbrli:identifier>
    <xbrli:segment>
      <xbrldi:explicitMember dimension="uk-bus:EntityOfficersDimension">uk-bus:Director1Member</xbrldi:explicitMember>
    </xbrli:segment>
  </xbrli:entity>
  <xbrli:period>
    <xbrli:startDate>2022-01-01</xbrli:startDate>
    <xbrli:endDate>2022-12-31</xbrli:endDate>
  </xbrli:period>
</xbrli:context>
<xbrli:unit id="u1">
  <xbrli:measure>iso4217:GBP</xbrli:measure>
</xbrli:unit>
<ix:nonFraction name="uk-core:Equity" contextRef="c1" unitRef="u1" decimals="0" scale="3" sign="-" format="ixt:numcommadot">762,057</ix:nonFraction>
<ix:nonNumeric name="uk-core:UKCompaniesHouseRegisteredNumber" contextRef="c1">01234567</ix:nonNumeric>
<ix:nonNumeric name="uk-core:EntityCurrentLegalOrRegisteredName" contextRef="c1">EXAMPLE LIMITED</ix:nonNumeric>
</body>
</html>`

func TestParseStrictXMLSucceeds(t *testing.T) {
	p := New(logrus.New())
	result, err := p.Parse([]byte(sampleXBRL))
	require.NoError(t, err)
	require.Len(t, result.Contexts, 2)
	require.Len(t, result.Units, 1)
	require.Len(t, result.NumericFacts, 1)
	require.Len(t, result.TextFacts, 2)

	assert.Equal(t, "01234567", result.CompanyNumber)
	assert.Equal(t, "EXAMPLE LIMITED", result.CompanyName)

	fact := result.NumericFacts[0]
	assert.Equal(t, "Equity", fact.Concept)
	assert.True(t, fact.HasValue)
	assert.True(t, fact.Value.IsNegative())

	ctx2 := result.Contexts[1]
	assert.Equal(t, "duration", ctx2.PeriodType)
	require.NotNil(t, ctx2.Dimensions)
	require.Len(t, ctx2.Dimensions.Explicit, 1)
	assert.Equal(t, "uk-bus:EntityOfficersDimension", ctx2.Dimensions.Explicit[0].Dimension)
}

func TestParseFallsBackToHTMLOnMalformedXML(t *testing.T) {
	malformed := `<html><body>
<xbrli:context id="c1">
  <xbrli:period><xbrli:instant>2023-02-28</xbrli:instant></xbrli:period>
</xbrli:context>
<ix:nonFraction name="uk-core:Equity" contextRef="c1" unitRef="u1">100 & 200</ix:nonFraction>
</body></html></div>`

	p := New(logrus.New())
	result, err := p.Parse([]byte(malformed))
	require.NoError(t, err)
	require.Len(t, result.Contexts, 1)
	require.Len(t, result.NumericFacts, 1)
}

func TestParseSkipsFactsWithoutName(t *testing.T) {
	doc := `<html><body>
<xbrli:context id="c1"><xbrli:period><xbrli:instant>2023-01-01</xbrli:instant></xbrli:period></xbrli:context>
<ix:nonFraction contextRef="c1" unitRef="u1">100</ix:nonFraction>
</body></html>`
	p := New(logrus.New())
	result, err := p.Parse([]byte(doc))
	require.NoError(t, err)
	assert.Empty(t, result.NumericFacts)
}

func TestCheckDurationOrderingWarnsButDoesNotFail(t *testing.T) {
	doc := `<html><body>
<xbrli:context id="c1">
  <xbrli:period>
    <xbrli:startDate>2022-12-31</xbrli:startDate>
    <xbrli:endDate>2022-01-01</xbrli:endDate>
  </xbrli:period>
</xbrli:context>
</body></html>`
	p := New(nil)
	result, err := p.Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, result.Contexts, 1)
	assert.Equal(t, "2022-12-31", result.Contexts[0].StartDate)
}

func TestParseTextFactEscapedContentKeepsMarkup(t *testing.T) {
	doc := `<html><body>
<xbrli:context id="c1"><xbrli:period><xbrli:instant>2023-01-01</xbrli:instant></xbrli:period></xbrli:context>
<ix:nonNumeric name="uk-core:Narrative" contextRef="c1" escape="true"><b>bold</b> text</ix:nonNumeric>
</body></html>`
	p := New(nil)
	result, err := p.Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, result.TextFacts, 1)
	assert.Contains(t, result.TextFacts[0].Value, "<b>bold</b>")
}
