// Package cli constructs the freight-audit command-line interface, wiring the
// Cobra command hierarchy, the layered configuration loader, and structured
// logging. The root command hosts the audit and serve subcommands.
package cli
