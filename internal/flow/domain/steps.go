package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	offerdomain "github.com/paxiitdevteam/retentionos/internal/offer/domain"
)

// Step is one entry in a flow: a typed offer with its type-specific
// configuration. Steps are a closed tagged union over the five offer types,
// validated when the flow is written, not re-validated ad hoc at read time.
type Step struct {
	Type   offerdomain.OfferType `json:"type"`
	Pause  *PauseConfig          `json:"pause,omitempty"`
	Down   *DowngradeConfig      `json:"downgrade,omitempty"`
	Disc   *DiscountConfig       `json:"discount,omitempty"`
	Supp   *SupportConfig        `json:"support,omitempty"`
	Feed   *FeedbackConfig       `json:"feedback,omitempty"`
}

// PauseConfig suspends billing for a bounded number of months.
type PauseConfig struct {
	Months int `json:"months"`
}

// DowngradeConfig moves the subscription to a cheaper plan.
type DowngradeConfig struct {
	TargetPlan string `json:"target_plan"`
}

// DiscountConfig applies a percentage discount for a bounded duration.
type DiscountConfig struct {
	Percent        int `json:"percent"`
	DurationMonths int `json:"duration_months"`
}

// SupportConfig routes the user to a human channel.
type SupportConfig struct {
	Channel string `json:"channel"`
	URL     string `json:"url,omitempty"`
}

// FeedbackConfig asks for a churn reason before the user leaves.
type FeedbackConfig struct {
	Prompt string `json:"prompt"`
}

// Validate checks the step's tag and its type-specific payload.
func (s Step) Validate() error {
	if _, err := offerdomain.ParseOfferType(string(s.Type)); err != nil {
		return ErrInvalidStep
	}
	switch s.Type {
	case offerdomain.OfferTypePause:
		if s.Pause == nil || s.Pause.Months < 1 || s.Pause.Months > 6 {
			return fmt.Errorf("%w: pause months must be 1-6", ErrInvalidStep)
		}
	case offerdomain.OfferTypeDowngrade:
		if s.Down == nil || strings.TrimSpace(s.Down.TargetPlan) == "" {
			return fmt.Errorf("%w: downgrade target plan required", ErrInvalidStep)
		}
	case offerdomain.OfferTypeDiscount:
		if s.Disc == nil || s.Disc.Percent < 1 || s.Disc.Percent > 90 {
			return fmt.Errorf("%w: discount percent must be 1-90", ErrInvalidStep)
		}
		if s.Disc.DurationMonths < 1 || s.Disc.DurationMonths > 12 {
			return fmt.Errorf("%w: discount duration must be 1-12 months", ErrInvalidStep)
		}
	case offerdomain.OfferTypeSupport:
		if s.Supp == nil || strings.TrimSpace(s.Supp.Channel) == "" {
			return fmt.Errorf("%w: support channel required", ErrInvalidStep)
		}
	case offerdomain.OfferTypeFeedback:
		if s.Feed == nil || strings.TrimSpace(s.Feed.Prompt) == "" {
			return fmt.Errorf("%w: feedback prompt required", ErrInvalidStep)
		}
	}
	return nil
}

// EncodeSteps validates and serializes an ordered step list.
func EncodeSteps(steps []Step) ([]byte, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: at least one step required", ErrInvalidFlow)
	}
	for _, step := range steps {
		if err := step.Validate(); err != nil {
			return nil, err
		}
	}
	return json.Marshal(steps)
}

// DecodeSteps deserializes a stored step list. Stored steps were validated at
// write time, so decoding failures indicate corruption, not user error.
func DecodeSteps(raw []byte) ([]Step, error) {
	if len(raw) == 0 {
		return nil, ErrInvalidFlow
	}
	var steps []Step
	if err := json.Unmarshal(raw, &steps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFlow, err)
	}
	return steps, nil
}

// StepTypes lists the offer types present in the flow's step order.
func StepTypes(steps []Step) []offerdomain.OfferType {
	types := make([]offerdomain.OfferType, 0, len(steps))
	for _, step := range steps {
		types = append(types, step.Type)
	}
	return types
}
