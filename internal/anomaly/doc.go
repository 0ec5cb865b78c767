// Package anomaly scores an invoiced rate against its peer population, independently of the
// contractual reference rate.
//
// Three strategies share the Scorer contract: a robust deviation score built from per-category
// medians and median absolute deviations, an isolation forest fitted once from a baseline
// sample, and a disabled scorer that never flags. Construction failures surface as a typed
// *ModelUnavailableError; NewOrDisabled turns them into a logged degradation instead.
package anomaly
