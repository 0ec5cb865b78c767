// Package evidence implements the document evidence service contract consumed by the gate
// evaluator.
//
// ManifestProvider reads a YAML manifest exported by the document parsing service.
// RedisProvider reads the hashes that service writes while it processes scanned documents.
package evidence
