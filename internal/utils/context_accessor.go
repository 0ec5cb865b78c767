package utils

import "context"

const (
	configurationFilePathContextKeyConstant = contextKey("configurationFilePath")
	requestIdentifierContextKeyConstant     = contextKey("requestIdentifier")
)

type contextKey string

// ContextAccessor manages values the CLI and the HTTP surface attach to execution contexts.
type ContextAccessor struct{}

// NewContextAccessor constructs a ContextAccessor instance.
func NewContextAccessor() ContextAccessor {
	return ContextAccessor{}
}

// WithConfigurationFilePath attaches the configuration file path to the provided context.
func (accessor ContextAccessor) WithConfigurationFilePath(parentContext context.Context, configurationFilePath string) context.Context {
	return withValue(parentContext, configurationFilePathContextKeyConstant, configurationFilePath)
}

// ConfigurationFilePath extracts the configuration file path from the provided context.
func (accessor ContextAccessor) ConfigurationFilePath(executionContext context.Context) (string, bool) {
	return stringValue(executionContext, configurationFilePathContextKeyConstant)
}

// WithRequestIdentifier attaches an HTTP request identifier to the provided context.
func (accessor ContextAccessor) WithRequestIdentifier(parentContext context.Context, requestIdentifier string) context.Context {
	return withValue(parentContext, requestIdentifierContextKeyConstant, requestIdentifier)
}

// RequestIdentifier extracts the HTTP request identifier from the provided context.
func (accessor ContextAccessor) RequestIdentifier(executionContext context.Context) (string, bool) {
	return stringValue(executionContext, requestIdentifierContextKeyConstant)
}

func withValue(parentContext context.Context, key contextKey, value string) context.Context {
	if parentContext == nil {
		parentContext = context.Background()
	}
	return context.WithValue(parentContext, key, value)
}

func stringValue(executionContext context.Context, key contextKey) (string, bool) {
	if executionContext == nil {
		return "", false
	}
	value, available := executionContext.Value(key).(string)
	if !available {
		return "", false
	}
	return value, true
}
