package service

import (
	"strings"

	offerdomain "github.com/paxiitdevteam/retentionos/internal/offer/domain"
	scoringdomain "github.com/paxiitdevteam/retentionos/internal/scoring/domain"
)

// MaxMessageLength bounds every rendered retention message.
const MaxMessageLength = 200

// messageTemplate is one entry in the bounded template library. Rendering is
// placeholder substitution only; no free-text generation.
type messageTemplate struct {
	Key  string
	Text string
}

// templateLibrary holds the known templates per offer type. The first entry
// of each list is the canonical fallback.
var templateLibrary = map[offerdomain.OfferType][]messageTemplate{
	offerdomain.OfferTypePause: {
		{Key: "pause_canonical", Text: "Need a break? Pause your {plan} subscription instead of cancelling and pick up right where you left off."},
		{Key: "pause_busy", Text: "Life gets busy. Pause billing for now and come back whenever you are ready."},
	},
	offerdomain.OfferTypeDowngrade: {
		{Key: "downgrade_canonical", Text: "Keep what you use most: switch to a lighter plan and save every month."},
		{Key: "downgrade_value", Text: "Your {plan} plan may be more than you need right now. A smaller plan keeps your account alive."},
	},
	offerdomain.OfferTypeDiscount: {
		{Key: "discount_canonical", Text: "Stay with us and take {percent}% off your next bills."},
		{Key: "discount_loyal", Text: "We would hate to see you go. Here is {percent}% off to stay on your {plan} plan."},
	},
	offerdomain.OfferTypeSupport: {
		{Key: "support_canonical", Text: "Something not working? Talk to a real human and we will sort it out together."},
	},
	offerdomain.OfferTypeFeedback: {
		{Key: "feedback_canonical", Text: "Before you go, tell us what we could have done better."},
	},
}

// renderTemplate substitutes the known placeholders and enforces the length
// bound. Unknown placeholders are left untouched.
func renderTemplate(tpl messageTemplate, vars map[string]string) scoringdomain.SuggestedMessage {
	text := tpl.Text
	for key, value := range vars {
		if value == "" {
			continue
		}
		text = strings.ReplaceAll(text, "{"+key+"}", value)
	}
	// Truncate on a rune boundary; substitution values may carry multi-byte
	// characters.
	if runes := []rune(text); len(runes) > MaxMessageLength {
		text = string(runes[:MaxMessageLength])
	}
	return scoringdomain.SuggestedMessage{Key: tpl.Key, Text: text}
}

// canonicalTemplate returns the first library entry for the offer type.
func canonicalTemplate(offerType offerdomain.OfferType) (messageTemplate, bool) {
	templates, ok := templateLibrary[offerType]
	if !ok || len(templates) == 0 {
		return messageTemplate{}, false
	}
	return templates[0], true
}
