package queue

import (
	"fmt"
	"strings"
	"time"
)

// Default retry policy
const (
	DefaultMaxDeliveries       = 3
	DefaultRedeliveryWait      = 30 * time.Second
	DefaultAckWait             = 30 * time.Minute
	DefaultDeadLetterRetention = 7 * 24 * time.Hour
)

// RetryPolicy declarative redelivery and dead-letter setting of a consumer group.
// The redelivery wait is fixed, not exponential.
type RetryPolicy struct {
	MaxDeliveries       int
	RedeliveryWait      time.Duration
	AckWait             time.Duration
	DeadLetterRetention time.Duration
}

// WithDefaults fills zero values
func (p RetryPolicy) WithDefaults() RetryPolicy {
	if p.MaxDeliveries <= 0 {
		p.MaxDeliveries = DefaultMaxDeliveries
	}
	if p.RedeliveryWait <= 0 {
		p.RedeliveryWait = DefaultRedeliveryWait
	}
	if p.AckWait <= 0 {
		p.AckWait = DefaultAckWait
	}
	if p.DeadLetterRetention <= 0 {
		p.DeadLetterRetention = DefaultDeadLetterRetention
	}
	return p
}

// Retention limits of a consumer group's stream, zero means unlimited
type Retention struct {
	MaxMessages int64
	MaxBytes    int64
	MaxAge      time.Duration
}

// ConsumerConfig durable consumer group definition
type ConsumerConfig struct {
	Name      string
	Subject   string
	Policy    RetryPolicy
	Retention Retention
}

// Validate checks the group definition
func (c ConsumerConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("consumer name is required")
	}
	if strings.TrimSpace(c.Subject) == "" {
		return fmt.Errorf("consumer %s: subject filter is required", c.Name)
	}
	return nil
}

// RetryQueueName name of the delay queue of a consumer group
func RetryQueueName(consumer string) string {
	return consumer + ".retry"
}

// DeadLetterQueueName name of the dead-letter stream of a consumer group
func DeadLetterQueueName(consumer string) string {
	return consumer + ".dlq"
}

// MatchSubject reports whether subject matches filter. Tokens are separated
// by dots; "*" matches exactly one token and "#" matches zero or more.
func MatchSubject(filter, subject string) bool {
	return matchTokens(strings.Split(filter, "."), strings.Split(subject, "."))
}

func matchTokens(filter, subject []string) bool {
	for len(filter) > 0 {
		head := filter[0]
		if head == "#" {
			rest := filter[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(subject); i++ {
				if matchTokens(rest, subject[i:]) {
					return true
				}
			}
			return false
		}
		if len(subject) == 0 {
			return false
		}
		if head != "*" && head != subject[0] {
			return false
		}
		filter = filter[1:]
		subject = subject[1:]
	}
	return len(subject) == 0
}
