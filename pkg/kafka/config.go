package kafka

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
)

// ProducerConfig configures the writer. Zero fields take their `default` tag,
// so RequiredAcks cannot be set to 0 (none); use 1 for leader-only.
type ProducerConfig struct {
	Brokers      []string
	RequiredAcks int           `default:"-1"`
	Compression  string        `default:"gzip"`
	MaxAttempts  int           `default:"3"`
	WriteTimeout time.Duration `default:"10s"`
	ReadTimeout  time.Duration `default:"10s"`
	BatchSize    int           `default:"100"`
	BatchBytes   int           `default:"1048576"`
	BatchTimeout time.Duration `default:"50ms"`
	Async        bool
	// HashByKey keeps every message with the same key on one partition.
	HashByKey bool
}

// ConsumerConfig configures the reader group. Zero fields take their `default` tag.
type ConsumerConfig struct {
	Brokers []string
	GroupID string `default:"regimedesk"`
	// Workers is the number of ordered lanes; a partition always maps to the
	// same lane.
	Workers    int           `default:"1"`
	BufferSize int           `default:"64"`
	RetryMax   int           `default:"3"`
	BackoffMin time.Duration `default:"50ms"`
	BackoffMax time.Duration `default:"2s"`
	DLQTopic   string
	MinBytes   int `default:"1"`
	MaxBytes   int `default:"1048576"`
}

func withDefaults[T any](cfg T) (T, error) {
	if err := defaults.Set(&cfg); err != nil {
		return cfg, fmt.Errorf("kafka config defaults: %w", err)
	}
	return cfg, nil
}
