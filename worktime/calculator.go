/*
calculator.go - Segment Calculator

PURPOSE:
  Splits a closed work interval into ordered, contiguous, categorized
  segments using the RuleSet. Pure computation: persistence is the caller's
  job (see recalc.go).

CONTRACT:
  ComputeSegments(start, end, hint)
    - end must be after start and the span at most MaxIntervalDuration,
      otherwise a *RangeError is returned (never clamped)
    - special-duty hints (driving, passenger, equipment) yield exactly one
      segment of that category
    - segments cover [start, end) exactly, ordered, with no gaps

ROUNDING:
  Each segment's hours are measured from the interval start and rounded:
    hours(seg) = round2(seg.End - start) - round2(seg.Start - start)
  The sum therefore equals round2(end - start) exactly, and each segment is
  within 0.01h of its exact length.
*/
package worktime

import (
	"time"
)

// MaxIntervalDuration is the longest interval the calculator decomposes.
const MaxIntervalDuration = 24 * time.Hour

// Calculator produces segments for work intervals.
type Calculator struct {
	Rules RuleSet
}

func NewCalculator(rules RuleSet) *Calculator {
	return &Calculator{Rules: rules}
}

// ValidateRange checks the calculator's precondition on an interval.
func ValidateRange(start, end time.Time) error {
	d := end.Sub(start)
	if d <= 0 || d > MaxIntervalDuration {
		return &RangeError{
			Field: "interval duration",
			Value: d.String(),
			Min:   "0s (exclusive)",
			Max:   MaxIntervalDuration.String(),
		}
	}
	return nil
}

// ComputeSegments splits [start, end) into categorized segments.
func (c *Calculator) ComputeSegments(start, end time.Time, hint Category) ([]Segment, error) {
	if err := ValidateRange(start, end); err != nil {
		return nil, err
	}
	if !hint.Valid() {
		return nil, ErrUnknownCategory
	}

	if hint.IsSpecialDuty() {
		return []Segment{{
			Category: hint,
			Start:    start,
			End:      end,
			Hours:    HoursOf(end.Sub(start)),
		}}, nil
	}

	var segments []Segment
	cur := start
	for cur.Before(end) {
		cat := c.Rules.Classify(cur)
		next := c.Rules.NextBoundary(cur)
		if next.After(end) {
			next = end
		}

		if n := len(segments); n > 0 && segments[n-1].Category == cat {
			segments[n-1].End = next
		} else {
			segments = append(segments, Segment{Category: cat, Start: cur, End: next})
		}
		cur = next
	}

	for i := range segments {
		segments[i].Hours = HoursOf(segments[i].End.Sub(start)).Sub(HoursOf(segments[i].Start.Sub(start)))
	}
	return segments, nil
}

// SegmentTotals sums segment hours by category.
func SegmentTotals(segments []Segment) CategoryTotals {
	totals := NewCategoryTotals()
	for _, s := range segments {
		totals.Add(s.Category, s.Hours)
	}
	return totals
}
