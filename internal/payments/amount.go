package payments

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAmountMismatch is returned when normalised line totals no longer add up
	// to the normalised order total. The session must not be created.
	ErrAmountMismatch = errors.New("payments: normalised amounts do not reconcile")
	// ErrAmountTooSmall is returned when an order total sits below the provider's
	// configured minimum for its currency.
	ErrAmountTooSmall = errors.New("payments: amount below provider minimum")
)

// AmountRules carries the configured currency-unit conventions. Exponents are
// per-currency decimal exponents: 2 means minor units (cents), 0 means whole
// units. Everything here is configuration; no heuristics on currency codes.
type AmountRules struct {
	// DefaultExponent applies to currencies absent from BusinessExponents.
	DefaultExponent int
	// BusinessExponents maps currency code to the exponent order amounts are
	// stored in.
	BusinessExponents map[string]int
	// ProviderExponents maps provider -> currency -> the exponent that
	// provider's API expects. Currencies absent from a provider's table keep
	// the business exponent.
	ProviderExponents map[string]map[string]int
	// Minimums maps provider -> currency -> smallest chargeable total,
	// expressed in the provider's units.
	Minimums map[string]map[string]int64
}

// AmountLine is one order line in business units, input to normalisation.
type AmountLine struct {
	UnitAmount int64
	Quantity   int64
}

// NormalizedOrder is the result of scaling an order into provider units.
type NormalizedOrder struct {
	Total       int64
	UnitAmounts []int64
}

// Normalizer converts order amounts between the business unit convention and
// each provider's expected convention.
type Normalizer struct {
	rules AmountRules
}

// NewNormalizer builds a Normalizer over the supplied rules.
func NewNormalizer(rules AmountRules) *Normalizer {
	return &Normalizer{rules: rules}
}

func (n *Normalizer) businessExponent(currency string) int {
	if n == nil {
		return 2
	}
	if exp, ok := n.rules.BusinessExponents[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return exp
	}
	return n.rules.DefaultExponent
}

func (n *Normalizer) providerExponent(provider, currency string) int {
	business := n.businessExponent(currency)
	if n == nil {
		return business
	}
	table, ok := n.rules.ProviderExponents[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return business
	}
	exp, ok := table[strings.ToUpper(strings.TrimSpace(currency))]
	if !ok {
		return business
	}
	return exp
}

// ProviderExponent reports the decimal exponent the provider's wire format
// uses for the currency.
func (n *Normalizer) ProviderExponent(provider, currency string) int {
	return n.providerExponent(provider, currency)
}

// Normalize scales a single business-unit amount into provider units. Scaling
// down requires an exact division; a remainder means the amount cannot be
// represented and the conversion fails rather than rounding.
func (n *Normalizer) Normalize(provider, currency string, amount int64) (int64, error) {
	shift := n.providerExponent(provider, currency) - n.businessExponent(currency)
	switch {
	case shift == 0:
		return amount, nil
	case shift > 0:
		scaled := amount
		for i := 0; i < shift; i++ {
			scaled *= 10
		}
		return scaled, nil
	default:
		divisor := int64(1)
		for i := 0; i < -shift; i++ {
			divisor *= 10
		}
		if amount%divisor != 0 {
			return 0, fmt.Errorf("%w: %d %s not representable for %s", ErrAmountMismatch, amount, currency, provider)
		}
		return amount / divisor, nil
	}
}

// NormalizeOrder scales the order total and every line into provider units and
// verifies the scaled lines still reconstruct the scaled total exactly.
func (n *Normalizer) NormalizeOrder(provider, currency string, total int64, lines []AmountLine) (NormalizedOrder, error) {
	normTotal, err := n.Normalize(provider, currency, total)
	if err != nil {
		return NormalizedOrder{}, err
	}

	units := make([]int64, 0, len(lines))
	var sum int64
	for i, line := range lines {
		unit, err := n.Normalize(provider, currency, line.UnitAmount)
		if err != nil {
			return NormalizedOrder{}, fmt.Errorf("line %d: %w", i, err)
		}
		units = append(units, unit)
		sum += unit * line.Quantity
	}

	if sum != normTotal {
		return NormalizedOrder{}, fmt.Errorf("%w: lines sum to %d, total is %d (%s, %s)", ErrAmountMismatch, sum, normTotal, currency, provider)
	}

	return NormalizedOrder{Total: normTotal, UnitAmounts: units}, nil
}

// CheckMinimum validates a provider-unit total against the configured floor.
func (n *Normalizer) CheckMinimum(provider, currency string, normalized int64) error {
	if n == nil {
		return nil
	}
	table, ok := n.rules.Minimums[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil
	}
	minimum, ok := table[strings.ToUpper(strings.TrimSpace(currency))]
	if !ok {
		return nil
	}
	if normalized < minimum {
		return fmt.Errorf("%w: %d < %d %s on %s", ErrAmountTooSmall, normalized, minimum, currency, provider)
	}
	return nil
}
