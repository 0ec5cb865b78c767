// Package utils holds the plumbing shared by the freight-audit commands: the layered
// ConfigurationLoader over Viper, the zap LoggerFactory, the ContextAccessor that carries
// request-scoped values, and the buffered ReportWriter used by the file sinks.
package utils
