// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package components

import (
	"fmt"
	"math"
	"strings"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
)

// =============================================================================
// RF CONSTANTS
// =============================================================================

// NR frequency ranges in Hz.
var (
	FR1 = rfplan.Range{Lo: 410e6, Hi: 7.125e9}
	FR2 = rfplan.Range{Lo: 24.25e9, Hi: 52.6e9}
)

// B200-family hardware limits.
const (
	B200MaxFrequency    = 6e9
	B200MaxSamplingRate = 61.44e6
	B200MaxBandwidth    = 56e6
)

// Gain limits in dB.
const (
	MinGain = 0
	MaxGain = 90
)

// Sample rates that imply a 106 PRB carrier, and the match tolerance.
var prb106Rates = []float64{23.04e6, 30.72e6}

const (
	prbRateTolerance = 1e5
	prb106           = 106
)

// bandMessage is shared by every FR1/FR2 membership check.
const bandMessage = "must be inside NR FR1 (410e6-7.125e9) or FR2 (24.25e9-52.6e9)"

// =============================================================================
// RULE HELPERS
// =============================================================================

// checker wraps a config and a result so rules read as one line each.
// Rules skip silently when a field is absent or mistyped; the schema
// check owns those violations.
type checker struct {
	cfg rfplan.ComponentConfig
	res *rfplan.ValidationResult
}

func newChecker(cfg rfplan.ComponentConfig) *checker {
	return &checker{cfg: cfg, res: rfplan.NewResult()}
}

func (c *checker) num(field string) (float64, bool) {
	return c.cfg.Number(field)
}

// positive requires field > 0.
func (c *checker) positive(field string) {
	v, ok := c.num(field)
	if ok && v <= 0 {
		c.res.Fail(field, field+" must be > 0",
			rfplan.Hint{Kind: rfplan.HintMin, Min: rfplan.F(math.SmallestNonzeroFloat64), Actual: rfplan.F(v)})
	}
}

// between requires lo <= field <= hi.
func (c *checker) between(field string, lo, hi float64) {
	v, ok := c.num(field)
	if ok && (v < lo || v > hi) {
		c.res.Fail(field, fmt.Sprintf("%s must be between %g and %g", field, lo, hi),
			rfplan.Hint{Kind: rfplan.HintRange, Min: rfplan.F(lo), Max: rfplan.F(hi), Actual: rfplan.F(v)})
	}
}

// atMost requires field <= max with a custom message.
func (c *checker) atMost(field string, max float64, msg string) {
	v, ok := c.num(field)
	if ok && v > max {
		c.res.Fail(field, msg,
			rfplan.Hint{Kind: rfplan.HintMax, Max: rfplan.F(max), Actual: rfplan.F(v)})
	}
}

// inBand requires field to lie in FR1 or FR2. Non-positive values get the
// plain positivity error instead.
func (c *checker) inBand(field string) {
	v, ok := c.num(field)
	if !ok {
		return
	}
	if v <= 0 {
		c.positive(field)
		return
	}
	if !FR1.Contains(v) && !FR2.Contains(v) {
		c.res.Fail(field, field+" "+bandMessage,
			rfplan.Hint{Kind: rfplan.HintAllowedRanges, Ranges: []rfplan.Range{FR1, FR2}, Actual: rfplan.F(v)})
	}
}

// nyquist requires rateField >= 2 x bwField.
func (c *checker) nyquist(rateField, bwField string) {
	rate, ok1 := c.num(rateField)
	bw, ok2 := c.num(bwField)
	if ok1 && ok2 && rate < 2*bw {
		c.res.Fail(rateField, rateField+" must be at least 2x "+bwField,
			rfplan.Hint{
				Kind:       rfplan.HintRelative,
				Min:        rfplan.F(2 * bw),
				RelativeTo: bwField,
				Factor:     2,
				Actual:     rfplan.F(rate),
			})
	}
}

// ordered requires startField <= endField.
func (c *checker) ordered(startField, endField string) {
	lo, ok1 := c.num(startField)
	hi, ok2 := c.num(endField)
	if ok1 && ok2 && lo > hi {
		c.res.Fail(startField, startField+" must be <= "+endField,
			rfplan.Hint{Kind: rfplan.HintMax, Max: rfplan.F(hi), RelativeTo: endField, Actual: rfplan.F(lo)})
	}
}

// length requires a list field to have exactly n elements.
func (c *checker) length(field string, n int) {
	l, ok := c.cfg[field].([]any)
	if ok && len(l) != n {
		c.res.Fail(field, fmt.Sprintf("%s must have exactly %d elements", field, n),
			rfplan.Hint{Kind: rfplan.HintLength, Length: n, Actual: rfplan.F(float64(len(l)))})
	}
}

// numericList requires every element of a list field to be a number.
// Only the first offending element is reported.
func (c *checker) numericList(field string) {
	l, ok := c.cfg[field].([]any)
	if !ok {
		return
	}
	for i, e := range l {
		if _, ok := rfplan.AsNumber(e); !ok {
			c.res.Fail(field, fmt.Sprintf("%s[%d] must be a number, got %s", field, i, elementKind(e)),
				rfplan.Hint{Kind: rfplan.HintSchemaType})
			return
		}
	}
}

func elementKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// oneOfInts requires a numeric field to be one of the allowed values.
func (c *checker) oneOfInts(field string, allowed ...int) {
	v, ok := c.num(field)
	if !ok {
		return
	}
	names := make([]string, len(allowed))
	for i, a := range allowed {
		if v == float64(a) {
			return
		}
		names[i] = fmt.Sprint(a)
	}
	c.res.Fail(field, fmt.Sprintf("%s must be one of {%s}", field, strings.Join(names, ", ")),
		rfplan.Hint{Kind: rfplan.HintOneOf, OneOf: names, Actual: rfplan.F(v)})
}

// oneOfStrings requires a string field to be one of the allowed values.
// A missing field counts as a violation.
func (c *checker) oneOfStrings(field string, allowed ...string) string {
	s, _ := c.cfg.String(field)
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	c.res.Fail(field, fmt.Sprintf("unknown %s %q, valid options are %s", field, s, strings.Join(allowed, ", ")),
		rfplan.Hint{Kind: rfplan.HintOneOf, OneOf: allowed})
	return s
}

// prbForRate enforces the PRB count implied by the sample rate.
func (c *checker) prbForRate(rateField, prbField string) {
	rate, ok1 := c.num(rateField)
	prb, ok2 := c.num(prbField)
	if !ok1 || !ok2 {
		return
	}
	for _, r := range prb106Rates {
		if math.Abs(rate-r) < prbRateTolerance && prb != prb106 {
			c.res.Fail(prbField, fmt.Sprintf("%s must be %d for %s near 23.04e6 or 30.72e6", prbField, prb106, rateField),
				rfplan.Hint{Kind: rfplan.HintEquals, Equals: prb106, RelativeTo: rateField, Actual: rfplan.F(prb)})
			return
		}
	}
}

// =============================================================================
// DEVICE HELPERS
// =============================================================================

// IsB200 reports whether free-text device args name a B200-family radio.
func IsB200(deviceArgs string) bool {
	d := strings.ToLower(deviceArgs)
	return strings.Contains(d, "b200") || strings.Contains(d, "b210")
}

// ParseDeviceArgs splits "k1=v1,k2=v2" into a map. Parts without "=" are
// ignored.
func ParseDeviceArgs(args string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(args, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
