package kafkabus

import (
	"errors"
	"time"
)

type Config struct {
	Brokers []string
	Topic   string
	// GroupPrefix + instance id names this instance's consumer group, so every instance
	// reads every event.
	GroupPrefix string
	InstanceID  string

	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool
}

func (c Config) GroupID() string { return c.GroupPrefix + c.InstanceID }

func (c Config) withDefaults() Config {
	if c.Topic == "" {
		c.Topic = "tileseed-jobs"
	}
	if c.GroupPrefix == "" {
		c.GroupPrefix = "tileseed-"
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 3 * time.Second
	}
	if c.RebalanceTimeout <= 0 {
		c.RebalanceTimeout = 30 * time.Second
	}
	return c
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafkabus: at least one broker is required")
	}
	if c.InstanceID == "" {
		return errors.New("kafkabus: instance id is required")
	}
	return nil
}
