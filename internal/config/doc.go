// Package config defines the validated configuration shared by the audit and serve commands.
package config
