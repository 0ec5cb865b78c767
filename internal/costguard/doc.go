// Package costguard computes the percentage variance between an invoiced rate and its
// reference rate and grades it against configured tolerance bands.
//
// Two independent ladders exist: the four-step Band ladder with its separate autofail line,
// and the tighter three-state PortalStatus ladder reserved for fixed portal fees.
package costguard
