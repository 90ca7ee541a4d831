// Package domain contains core business types and interfaces.
//
// This file defines quota categories, request kinds and the Remaining value
// returned by the entitlement engine.
package domain

import (
	"fmt"
	"strconv"
)

// QuotaCategory identifies an independently metered daily counter.
type QuotaCategory string

const (
	QuotaCategoryText  QuotaCategory = "text"
	QuotaCategoryImage QuotaCategory = "image"
)

// Valid reports whether c is a known category.
func (c QuotaCategory) Valid() bool {
	switch c {
	case QuotaCategoryText, QuotaCategoryImage:
		return true
	default:
		return false
	}
}

// RequestKind identifies the modality of an inbound request.
type RequestKind string

const (
	RequestKindText  RequestKind = "text"
	RequestKindImage RequestKind = "image"
)

// DefaultFreeLimit is the number of free text requests per calendar day.
const DefaultFreeLimit = 20

// QuotaPolicy maps request kinds to categories and categories to daily limits.
type QuotaPolicy struct {
	Limits     map[QuotaCategory]int
	Categories map[RequestKind]QuotaCategory
}

// DefaultQuotaPolicy meters every request kind against the text counter.
func DefaultQuotaPolicy() QuotaPolicy {
	return QuotaPolicy{
		Limits: map[QuotaCategory]int{
			QuotaCategoryText: DefaultFreeLimit,
		},
		Categories: map[RequestKind]QuotaCategory{
			RequestKindText:  QuotaCategoryText,
			RequestKindImage: QuotaCategoryText,
		},
	}
}

// CategoryFor returns the category a request kind is metered against,
// falling back to text for unmapped kinds.
func (p QuotaPolicy) CategoryFor(kind RequestKind) QuotaCategory {
	if c, ok := p.Categories[kind]; ok {
		return c
	}
	return QuotaCategoryText
}

// Validate checks that every mapped category has a non-negative limit.
func (p QuotaPolicy) Validate() error {
	for kind, category := range p.Categories {
		limit, ok := p.Limits[category]
		if !ok {
			return fmt.Errorf("request kind %q maps to category %q without a limit", kind, category)
		}
		if limit < 0 {
			return fmt.Errorf("limit for category %q must not be negative, got %d", category, limit)
		}
	}
	return nil
}

// Remaining is either a finite number of requests or Unbounded.
//
// Unbounded carries no numeric value: callers must check IsUnbounded before
// using Count, and Count panics on an unbounded value so it can never leak
// into arithmetic.
type Remaining struct {
	n         int
	unbounded bool
}

// Finite returns a bounded Remaining; negative values clamp to zero.
func Finite(n int) Remaining {
	if n < 0 {
		n = 0
	}
	return Remaining{n: n}
}

// Unbounded returns the unlimited Remaining.
func Unbounded() Remaining {
	return Remaining{unbounded: true}
}

// IsUnbounded reports whether the value is unlimited.
func (r Remaining) IsUnbounded() bool {
	return r.unbounded
}

// Count returns the finite count. It panics on Unbounded.
func (r Remaining) Count() int {
	if r.unbounded {
		panic("domain: Count called on unbounded Remaining")
	}
	return r.n
}

// String renders the value for display.
func (r Remaining) String() string {
	if r.unbounded {
		return "unlimited"
	}
	return strconv.Itoa(r.n)
}
