package ratelimit

import (
	"fmt"
	"time"

	"chat-relay/internal/models"
)

// ClassConfig bounds one message class: at most Max sends per Window, and a
// Cooldown penalty once Max is reached.
type ClassConfig struct {
	Max      int           `json:"max"`
	Window   time.Duration `json:"window"`
	Cooldown time.Duration `json:"cooldown"`
}

type Config map[models.MessageClass]ClassConfig

func DefaultConfig() Config {
	return Config{
		models.ClassDirect: {Max: 15, Window: time.Minute, Cooldown: 5 * time.Minute},
		models.ClassGlobal: {Max: 10, Window: time.Minute, Cooldown: 10 * time.Minute},
		models.ClassRoom:   {Max: 20, Window: time.Minute, Cooldown: 5 * time.Minute},
	}
}

func (c Config) Validate() error {
	for _, class := range models.AllClasses {
		cc, ok := c[class]
		if !ok {
			return fmt.Errorf("missing rate limit for class %s", class)
		}
		if cc.Max <= 0 {
			return fmt.Errorf("rate limit max for %s must be positive", class)
		}
		if cc.Window <= 0 || cc.Cooldown <= 0 {
			return fmt.Errorf("rate limit window and cooldown for %s must be positive", class)
		}
	}
	return nil
}

// Retention is the widest window plus cooldown across classes. A counter
// untouched for longer cannot affect a decision.
func (c Config) Retention() time.Duration {
	var longest time.Duration
	for _, cc := range c {
		if d := cc.Window + cc.Cooldown; d > longest {
			longest = d
		}
	}
	return longest
}
