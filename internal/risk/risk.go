// Package risk blends variance, anomaly, and evidence-quality signals into one score in [0, 1].
package risk

import (
	"errors"
	"math"
)

// Component keys of Assessment.Components.
const (
	ComponentVariance      = "variance"
	ComponentAnomaly       = "anomaly"
	ComponentCertification = "certification"
	ComponentSignature     = "signature"
)

const (
	negativeWeightMessageConstant   = "risk weights must be non-negative"
	zeroWeightSumMessageConstant    = "risk weights must not all be zero"
	triggerRangeMessageConstant     = "risk trigger threshold must be within [0, 1]"
	autoFailPositiveMessageConstant = "risk autofail normalizer must be positive"
)

// Weights are the relative importance of each signal. They are re-normalized to sum to 1.
type Weights struct {
	Variance      float64 `mapstructure:"variance" yaml:"variance" json:"variance"`
	Anomaly       float64 `mapstructure:"anomaly" yaml:"anomaly" json:"anomaly"`
	Certification float64 `mapstructure:"certification" yaml:"certification" json:"certification"`
	Signature     float64 `mapstructure:"signature" yaml:"signature" json:"signature"`
}

// DefaultWeights returns the stock signal weights.
func DefaultWeights() Weights {
	return Weights{Variance: 0.4, Anomaly: 0.3, Certification: 0.15, Signature: 0.15}
}

// Sum adds the four weights.
func (weights Weights) Sum() float64 {
	return weights.Variance + weights.Anomaly + weights.Certification + weights.Signature
}

// Normalized scales the weights to sum to 1.
func (weights Weights) Normalized() (Weights, error) {
	for _, weight := range []float64{weights.Variance, weights.Anomaly, weights.Certification, weights.Signature} {
		if weight < 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
			return Weights{}, errors.New(negativeWeightMessageConstant)
		}
	}
	total := weights.Sum()
	if !(total > 0) {
		return Weights{}, errors.New(zeroWeightSumMessageConstant)
	}
	return Weights{
		Variance:      weights.Variance / total,
		Anomaly:       weights.Anomaly / total,
		Certification: weights.Certification / total,
		Signature:     weights.Signature / total,
	}, nil
}

// Inputs are the raw signals for one line item. A missing variance is passed as zero.
type Inputs struct {
	DeltaPercent         float64
	AnomalyIndicator     float64
	CertificationMissing bool
	SignatureRisk        bool
}

// Component is one signal's share of the blended score.
type Component struct {
	Normalized   float64 `json:"normalized"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Assessment is the blended risk of one line item.
type Assessment struct {
	Score      float64              `json:"score"`
	Components map[string]Component `json:"components"`
	Triggered  bool                 `json:"triggered"`
}

// Blender combines signals with fixed, normalized weights.
type Blender struct {
	weights          Weights
	triggerThreshold float64
	autoFailPercent  float64
}

// NewBlender validates the weights and thresholds. autoFailPercent normalizes the variance
// signal so that a delta at the autofail line counts as full risk.
func NewBlender(weights Weights, triggerThreshold float64, autoFailPercent float64) (*Blender, error) {
	normalizedWeights, weightsError := weights.Normalized()
	if weightsError != nil {
		return nil, weightsError
	}
	if triggerThreshold < 0 || triggerThreshold > 1 || math.IsNaN(triggerThreshold) {
		return nil, errors.New(triggerRangeMessageConstant)
	}
	if !(autoFailPercent > 0) {
		return nil, errors.New(autoFailPositiveMessageConstant)
	}
	return &Blender{weights: normalizedWeights, triggerThreshold: triggerThreshold, autoFailPercent: autoFailPercent}, nil
}

// Weights returns the normalized weights.
func (blender *Blender) Weights() Weights {
	return blender.weights
}

// TriggerThreshold returns the escalation cutoff.
func (blender *Blender) TriggerThreshold() float64 {
	return blender.triggerThreshold
}

// Blend normalizes each input to [0, 1] and returns the weighted sum.
func (blender *Blender) Blend(inputs Inputs) Assessment {
	signals := []struct {
		name       string
		normalized float64
		weight     float64
	}{
		{name: ComponentVariance, normalized: clampUnit(math.Abs(inputs.DeltaPercent) / blender.autoFailPercent), weight: blender.weights.Variance},
		{name: ComponentAnomaly, normalized: clampUnit(inputs.AnomalyIndicator), weight: blender.weights.Anomaly},
		{name: ComponentCertification, normalized: indicator(inputs.CertificationMissing), weight: blender.weights.Certification},
		{name: ComponentSignature, normalized: indicator(inputs.SignatureRisk), weight: blender.weights.Signature},
	}

	assessment := Assessment{Components: make(map[string]Component, len(signals))}
	for _, signal := range signals {
		contribution := signal.normalized * signal.weight
		assessment.Components[signal.name] = Component{Normalized: signal.normalized, Weight: signal.weight, Contribution: contribution}
		assessment.Score += contribution
	}
	assessment.Score = clampUnit(assessment.Score)
	assessment.Triggered = assessment.Score >= blender.triggerThreshold
	return assessment
}

func clampUnit(value float64) float64 {
	switch {
	case math.IsNaN(value), value < 0:
		return 0
	case value > 1:
		return 1
	default:
		return value
	}
}

func indicator(flag bool) float64 {
	if flag {
		return 1
	}
	return 0
}
