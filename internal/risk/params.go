package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// RateScale is the fixed-point one for collateral rates (basis points).
const RateScale = 10_000

// ScalingModel selects how the short-side requirement ramps from the OTM
// rate to 100% as price crosses the leg's tick range.
type ScalingModel int

const (
	ScalingLinear ScalingModel = iota
	ScalingQuadratic
)

func (m ScalingModel) String() string {
	if m == ScalingQuadratic {
		return "quadratic"
	}
	return "linear"
}

// ParseScalingModel parses the configuration value for itm_scaling_model.
func ParseScalingModel(s string) (ScalingModel, error) {
	switch s {
	case "linear", "":
		return ScalingLinear, nil
	case "quadratic":
		return ScalingQuadratic, nil
	default:
		return ScalingLinear, fmt.Errorf("unknown itm scaling model %q", s)
	}
}

// Params holds the per-pool collateral policy. The percentages are
// calibration constants supplied by configuration, never hard-coded into
// the requirement math.
type Params struct {
	// OTMRateAsset0 / OTMRateAsset1 are the out-of-the-money collateral
	// rates (basis points of notional) for legs sized in asset 0 / asset 1.
	OTMRateAsset0 int64
	OTMRateAsset1 int64

	// LongRateFraction scales a long leg's requirement relative to the
	// short-side rate (basis points); long downside is capped at premium,
	// but a non-zero floor prevents manufacturing free collateral capacity
	// out of long legs.
	LongRateFraction int64

	// ItmScaling selects the in-range interpolation curve.
	ItmScaling ScalingModel
}

// DefaultParams returns the calibration defaults: 20% / 10% OTM rates and
// a long-side fraction of one half.
func DefaultParams() Params {
	return Params{
		OTMRateAsset0:    2_000,
		OTMRateAsset1:    1_000,
		LongRateFraction: 5_000,
		ItmScaling:       ScalingLinear,
	}
}

// Validate checks the rates are usable fractions.
func (p Params) Validate() error {
	if p.OTMRateAsset0 <= 0 || p.OTMRateAsset0 > RateScale {
		return fmt.Errorf("otm_rate_asset0 out of range: %d", p.OTMRateAsset0)
	}
	if p.OTMRateAsset1 <= 0 || p.OTMRateAsset1 > RateScale {
		return fmt.Errorf("otm_rate_asset1 out of range: %d", p.OTMRateAsset1)
	}
	if p.LongRateFraction < 0 || p.LongRateFraction > RateScale {
		return fmt.Errorf("long_rate_fraction out of range: %d", p.LongRateFraction)
	}
	return nil
}

// ParamsFromDecimal converts configuration-facing decimal rates
// (e.g. "0.20") into fixed-point params.
func ParamsFromDecimal(otm0, otm1, longFrac decimal.Decimal, model string) (Params, error) {
	scaling, err := ParseScalingModel(model)
	if err != nil {
		return Params{}, err
	}
	scale := decimal.NewFromInt(RateScale)
	p := Params{
		OTMRateAsset0:    otm0.Mul(scale).IntPart(),
		OTMRateAsset1:    otm1.Mul(scale).IntPart(),
		LongRateFraction: longFrac.Mul(scale).IntPart(),
		ItmScaling:       scaling,
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// ErrNotEnoughCollateral is the expected, user-visible rejection when a
// computed requirement exceeds the account's deposited balance. It aborts
// the mint and leaves every balance untouched.
var ErrNotEnoughCollateral = errors.New("risk: not enough collateral")
