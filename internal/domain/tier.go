package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// SubscriptionTier is a purchasable time-boxed entitlement.
type SubscriptionTier struct {
	ID           string `validate:"required,max=32,alphanum"`
	Title        string `validate:"required"`
	PriceUnits   int    `validate:"gt=0"`
	DurationDays int    `validate:"gt=0,lte=3660"`
}

// Catalogue is the ordered list of tiers offered on the upgrade path.
type Catalogue struct {
	tiers []SubscriptionTier
}

// DefaultCatalogue returns the week / month / quarter offer.
func DefaultCatalogue() Catalogue {
	return Catalogue{tiers: []SubscriptionTier{
		{ID: "week", Title: "Week", PriceUnits: 89, DurationDays: 7},
		{ID: "month", Title: "Month", PriceUnits: 299, DurationDays: 30},
		{ID: "3month", Title: "3 months", PriceUnits: 549, DurationDays: 90},
	}}
}

var validate = validator.New()

// NewCatalogue validates tiers and rejects duplicate ids.
func NewCatalogue(tiers []SubscriptionTier) (Catalogue, error) {
	if len(tiers) == 0 {
		return Catalogue{}, fmt.Errorf("catalogue must contain at least one tier")
	}
	seen := make(map[string]bool, len(tiers))
	for _, t := range tiers {
		if err := validate.Struct(t); err != nil {
			return Catalogue{}, fmt.Errorf("tier %q: %w", t.ID, err)
		}
		if seen[t.ID] {
			return Catalogue{}, fmt.Errorf("duplicate tier id %q", t.ID)
		}
		seen[t.ID] = true
	}
	out := make([]SubscriptionTier, len(tiers))
	copy(out, tiers)
	return Catalogue{tiers: out}, nil
}

// ParseCatalogue parses "id:price:days[:title],..." into a catalogue.
func ParseCatalogue(s string) (Catalogue, error) {
	var tiers []SubscriptionTier
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 4)
		if len(parts) < 3 {
			return Catalogue{}, fmt.Errorf("tier %q: expected id:price:days", entry)
		}
		price, err := strconv.Atoi(parts[1])
		if err != nil {
			return Catalogue{}, fmt.Errorf("tier %q: invalid price: %w", entry, err)
		}
		days, err := strconv.Atoi(parts[2])
		if err != nil {
			return Catalogue{}, fmt.Errorf("tier %q: invalid days: %w", entry, err)
		}
		title := parts[0]
		if len(parts) == 4 && parts[3] != "" {
			title = parts[3]
		}
		tiers = append(tiers, SubscriptionTier{
			ID:           parts[0],
			Title:        title,
			PriceUnits:   price,
			DurationDays: days,
		})
	}
	return NewCatalogue(tiers)
}

// Tiers returns a copy of the tiers in display order.
func (c Catalogue) Tiers() []SubscriptionTier {
	out := make([]SubscriptionTier, len(c.tiers))
	copy(out, c.tiers)
	return out
}

// Lookup finds a tier by id.
func (c Catalogue) Lookup(id string) (SubscriptionTier, bool) {
	for _, t := range c.tiers {
		if t.ID == id {
			return t, true
		}
	}
	return SubscriptionTier{}, false
}
