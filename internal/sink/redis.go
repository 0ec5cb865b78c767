package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/temirov/freightaudit/internal/engine"
)

const (
	redisSinkNameConstant             = "redis"
	defaultRedisChannelConstant       = "freight-audit.results"
	redisMarshalErrorTemplateConstant = "failed to marshal audit message: %w"
	redisPublishErrorTemplateConstant = "failed to publish audit message: %w"
)

// Message types.
const (
	MessageTypeResult = "result"
	MessageTypeRun    = "run"
)

// Publisher is the subset of the go-redis client used by RedisPublisher.
type Publisher interface {
	Publish(executionContext context.Context, channel string, message interface{}) *redis.IntCmd
}

// Message is the payload published to subscribers. A run message follows the result messages
// of its run and carries the batch summary.
type Message struct {
	Type   string  `json:"type"`
	RunID  string  `json:"run_id"`
	Record *Record `json:"record,omitempty"`
	Run    *Run    `json:"run,omitempty"`
}

// RedisPublisher publishes one message per result and a closing run message.
type RedisPublisher struct {
	publisher Publisher
	channel   string
}

// NewRedisPublisher builds the sink; an empty channel uses freight-audit.results.
func NewRedisPublisher(publisher Publisher, channel string) *RedisPublisher {
	trimmedChannel := strings.TrimSpace(channel)
	if len(trimmedChannel) == 0 {
		trimmedChannel = defaultRedisChannelConstant
	}
	return &RedisPublisher{publisher: publisher, channel: trimmedChannel}
}

// Name identifies the sink.
func (sink *RedisPublisher) Name() string {
	return redisSinkNameConstant
}

// Channel reports the pub/sub channel.
func (sink *RedisPublisher) Channel() string {
	return sink.channel
}

// Write publishes the run.
func (sink *RedisPublisher) Write(executionContext context.Context, run Run, results []engine.ValidationResult) error {
	for _, result := range results {
		record := NewRecord(run, result)
		if publishError := sink.publish(executionContext, Message{Type: MessageTypeResult, RunID: run.ID, Record: &record}); publishError != nil {
			return publishError
		}
	}
	return sink.publish(executionContext, Message{Type: MessageTypeRun, RunID: run.ID, Run: &run})
}

func (sink *RedisPublisher) publish(executionContext context.Context, message Message) error {
	payload, marshalError := json.Marshal(message)
	if marshalError != nil {
		return fmt.Errorf(redisMarshalErrorTemplateConstant, marshalError)
	}
	if publishError := sink.publisher.Publish(executionContext, sink.channel, payload).Err(); publishError != nil {
		return fmt.Errorf(redisPublishErrorTemplateConstant, publishError)
	}
	return nil
}
