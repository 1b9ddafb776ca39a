// Package domain contains the retention event store models.
package domain

import (
	"errors"
	"strings"
)

// OfferType enumerates the retention incentives a flow step can present.
type OfferType string

const (
	OfferTypePause     OfferType = "pause"
	OfferTypeDowngrade OfferType = "downgrade"
	OfferTypeDiscount  OfferType = "discount"
	OfferTypeSupport   OfferType = "support"
	OfferTypeFeedback  OfferType = "feedback"
)

// AllOfferTypes lists every offer type in canonical enumeration order.
// Ranking ties are broken by this order, so it must stay stable.
var AllOfferTypes = []OfferType{
	OfferTypePause,
	OfferTypeDowngrade,
	OfferTypeDiscount,
	OfferTypeSupport,
	OfferTypeFeedback,
}

var ErrInvalidOfferType = errors.New("invalid_offer_type")

// ParseOfferType validates a raw string against the fixed enumeration.
func ParseOfferType(raw string) (OfferType, error) {
	value := OfferType(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AllOfferTypes {
		if value == known {
			return known, nil
		}
	}
	return "", ErrInvalidOfferType
}

// EnumIndex returns the position of t in the canonical order, or len(AllOfferTypes)
// for unknown values so they sort last.
func (t OfferType) EnumIndex() int {
	for i, known := range AllOfferTypes {
		if t == known {
			return i
		}
	}
	return len(AllOfferTypes)
}
