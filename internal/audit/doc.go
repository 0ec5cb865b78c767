// Package audit implements the audit command: it assembles the decision engine from the
// configured catalog, evidence, and baseline sources, evaluates an invoice file, and delivers
// the verdicts to the configured sinks.
//
// CommandBuilder wires the Cobra command, Assemble builds the engine for any caller, and
// Service drives one audit run programmatically.
package audit
