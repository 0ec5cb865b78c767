// Package redisconn opens the Redis client shared by the evidence provider and the result publisher.
package redisconn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	addressRequiredMessageConstant = "redis address must be provided"
	pingErrorTemplateConstant      = "failed to reach redis at %s: %w"
)

// Settings locates a Redis server.
type Settings struct {
	Address  string `mapstructure:"address" yaml:"address" json:"address"`
	Password string `mapstructure:"password" yaml:"password" json:"-"`
	Database int    `mapstructure:"database" yaml:"database" json:"database"`
}

// Enabled reports whether an address is configured.
func (settings Settings) Enabled() bool {
	return len(strings.TrimSpace(settings.Address)) > 0
}

// Connect opens a client and verifies it with PING.
func Connect(executionContext context.Context, settings Settings) (*redis.Client, error) {
	if !settings.Enabled() {
		return nil, errors.New(addressRequiredMessageConstant)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(settings.Address),
		Password: settings.Password,
		DB:       settings.Database,
	})
	if pingError := client.Ping(executionContext).Err(); pingError != nil {
		_ = client.Close()
		return nil, fmt.Errorf(pingErrorTemplateConstant, settings.Address, pingError)
	}
	return client, nil
}
