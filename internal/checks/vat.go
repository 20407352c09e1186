package checks

import (
	"context"
)

// NewVATPricing returns the check that requires VAT-inclusive prices on the
// course page when it is viewed from an EU location.
func NewVATPricing() Check {
	return NewFunc(VATPricing, func(_ context.Context, p Page) Outcome {
		if p.VATPricesAvailable() {
			return Pass()
		}
		return Fail(1, "VAT prices not displayed for EU visitor")
	})
}
