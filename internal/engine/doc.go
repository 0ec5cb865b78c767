// Package engine is the audit decision engine. It sequences normalization, reference rate
// resolution, variance banding, anomaly scoring, risk blending, and evidence gating for each
// invoice line item and derives the final verdict.
//
// The engine reads only immutable collaborators, so a single Engine can evaluate items from
// many goroutines. EvaluateBatch is a pure, index-aligned map over its input.
package engine
