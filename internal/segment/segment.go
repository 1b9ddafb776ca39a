// Package segment maps user attributes to the coarse classification key that
// buckets performance statistics and targets flows.
//
// Segmentation must be a pure, stable function: offer_performance rows are
// keyed by its output, so the same inputs must always yield the same key.
package segment

import (
	"fmt"
	"strings"
)

// Value buckets over the subscription's monthly value.
const (
	BucketLow  = "low"
	BucketMid  = "mid"
	BucketHigh = "high"
)

const (
	midBucketFloorCents  = 2500  // $25
	highBucketFloorCents = 10000 // $100
)

// Key is a plan:bucket:region classification, e.g. "pro:high:us".
type Key string

// Classify derives the segment key for a plan, monthly value and region.
// Unknown inputs collapse to stable defaults rather than failing.
func Classify(planTier string, valueCents int64, region string) Key {
	plan := normalize(planTier)
	if plan == "" {
		plan = "unknown"
	}
	reg := normalize(region)
	if reg == "" {
		reg = "global"
	}
	return Key(fmt.Sprintf("%s:%s:%s", plan, ValueBucket(valueCents), reg))
}

// ValueBucket maps a monthly value in cents to its coarse bucket.
func ValueBucket(valueCents int64) string {
	switch {
	case valueCents >= highBucketFloorCents:
		return BucketHigh
	case valueCents >= midBucketFloorCents:
		return BucketMid
	default:
		return BucketLow
	}
}

// Plan returns the plan component of the key.
func (k Key) Plan() string { return k.part(0) }

// Bucket returns the value-bucket component of the key.
func (k Key) Bucket() string { return k.part(1) }

// Region returns the region component of the key.
func (k Key) Region() string { return k.part(2) }

func (k Key) String() string { return string(k) }

func (k Key) part(i int) string {
	parts := strings.SplitN(string(k), ":", 3)
	if i >= len(parts) {
		return ""
	}
	return parts[i]
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
