// Package rates resolves the authoritative reference rate for a charge description.
//
// A Resolver walks an ordered list of Tier strategies and returns the first hit:
// fixed fees for well-known charge types, the keyword fee table, lane tables for
// routed transport charges, and finally the general contract table. Every tier is
// stateless and reads only the immutable rate catalog, so tiers can be reordered,
// tested in isolation, and shared across goroutines.
package rates
