package costguard

import (
	"errors"
	"fmt"
	"math"
)

const (
	negativeThresholdTemplateConstant = "cost guard threshold %s must not be negative"
	thresholdOrderMessageConstant     = "cost guard thresholds must satisfy pass <= warn <= high"
	autoFailThresholdMessageConstant  = "cost guard autofail threshold must be positive"
	portalThresholdOrderMessage       = "portal thresholds must satisfy 0 <= pass <= warn"
	percentMultiplierConstant         = 100.0
)

// Band is the ordered severity grade of a rate variance.
type Band string

// Supported bands in increasing severity; BandNotApplicable marks a missing variance.
const (
	BandPass          Band = "PASS"
	BandWarn          Band = "WARN"
	BandHigh          Band = "HIGH"
	BandCritical      Band = "CRITICAL"
	BandNotApplicable Band = "N/A"
)

var bandSeverity = map[Band]int{
	BandNotApplicable: -1,
	BandPass:          0,
	BandWarn:          1,
	BandHigh:          2,
	BandCritical:      3,
}

// Severity orders bands; BandNotApplicable sorts below BandPass.
func (band Band) Severity() int {
	severity, known := bandSeverity[band]
	if !known {
		return -1
	}
	return severity
}

// Thresholds are the percentage cutoffs of the band ladder plus the independent autofail line.
type Thresholds struct {
	Pass     float64 `mapstructure:"pass" yaml:"pass" json:"pass"`
	Warn     float64 `mapstructure:"warn" yaml:"warn" json:"warn"`
	High     float64 `mapstructure:"high" yaml:"high" json:"high"`
	AutoFail float64 `mapstructure:"autofail" yaml:"autofail" json:"autofail"`
}

// DefaultThresholds returns the stock tolerance ladder.
func DefaultThresholds() Thresholds {
	return Thresholds{Pass: 3, Warn: 5, High: 10, AutoFail: 15}
}

// Validate checks that the cutoffs are non-negative and ascending.
func (thresholds Thresholds) Validate() error {
	namedValues := []struct {
		name  string
		value float64
	}{
		{name: "pass", value: thresholds.Pass},
		{name: "warn", value: thresholds.Warn},
		{name: "high", value: thresholds.High},
	}
	for _, namedValue := range namedValues {
		if namedValue.value < 0 || math.IsNaN(namedValue.value) {
			return fmt.Errorf(negativeThresholdTemplateConstant, namedValue.name)
		}
	}
	if thresholds.Pass > thresholds.Warn || thresholds.Warn > thresholds.High {
		return errors.New(thresholdOrderMessageConstant)
	}
	if !(thresholds.AutoFail > 0) {
		return errors.New(autoFailThresholdMessageConstant)
	}
	return nil
}

// DeltaPercent returns (draft - reference) / reference * 100, or 0 when the reference is zero.
func DeltaPercent(draft float64, reference float64) float64 {
	if reference == 0 {
		return 0
	}
	return (draft - reference) / reference * percentMultiplierConstant
}

// Classify grades an optional delta; a nil delta is BandNotApplicable.
func (thresholds Thresholds) Classify(delta *float64) Band {
	if delta == nil {
		return BandNotApplicable
	}
	return thresholds.ClassifyDelta(*delta)
}

// ClassifyDelta compares |delta| against pass, warn, and high in ascending order.
func (thresholds Thresholds) ClassifyDelta(delta float64) Band {
	magnitude := math.Abs(delta)
	switch {
	case magnitude <= thresholds.Pass:
		return BandPass
	case magnitude <= thresholds.Warn:
		return BandWarn
	case magnitude <= thresholds.High:
		return BandHigh
	default:
		return BandCritical
	}
}

// ShouldAutoFail reports whether |delta| exceeds the autofail line. It ignores the band cutoffs.
func (thresholds Thresholds) ShouldAutoFail(delta float64) bool {
	return math.Abs(delta) > thresholds.AutoFail
}

// PortalStatus is the three-state verdict for fixed portal fees.
type PortalStatus string

// Portal fee verdicts.
const (
	PortalStatusPass PortalStatus = "PASS"
	PortalStatusWarn PortalStatus = "WARN"
	PortalStatusFail PortalStatus = "FAIL"
)

// PortalThresholds are the tight percentage tolerances applied to portal fees.
type PortalThresholds struct {
	Pass float64 `mapstructure:"pass" yaml:"pass" json:"pass"`
	Warn float64 `mapstructure:"warn" yaml:"warn" json:"warn"`
}

// DefaultPortalThresholds returns ±0.5% PASS and ≤5% WARN.
func DefaultPortalThresholds() PortalThresholds {
	return PortalThresholds{Pass: 0.5, Warn: 5}
}

// Validate checks that the portal cutoffs are non-negative and ascending.
func (thresholds PortalThresholds) Validate() error {
	if thresholds.Pass < 0 || thresholds.Pass > thresholds.Warn {
		return errors.New(portalThresholdOrderMessage)
	}
	return nil
}

// Classify grades a portal fee delta.
func (thresholds PortalThresholds) Classify(delta float64) PortalStatus {
	magnitude := math.Abs(delta)
	switch {
	case magnitude <= thresholds.Pass:
		return PortalStatusPass
	case magnitude <= thresholds.Warn:
		return PortalStatusWarn
	default:
		return PortalStatusFail
	}
}
