// Package sink delivers audit verdicts to output destinations: CSV and JSON-lines writers,
// a Redis pub/sub publisher, and a MySQL store backed by gorm.
package sink
