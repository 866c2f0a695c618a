package gate

import (
	"encoding/json"
	"fmt"
	"time"
)

// attempts is the failed-unlock bookkeeping stored under KeyAttempts.
type attempts struct {
	FailedAttempts int       `json:"failed_attempts"`
	LastAttempt    time.Time `json:"last_attempt"`
}

// loadAttempts reads the bookkeeping. A corrupted value counts as none.
func (c *Controller) loadAttempts() (attempts, error) {
	raw, ok, err := c.kv.Get(KeyAttempts)
	if err != nil {
		return attempts{}, fmt.Errorf("gate: failed to read attempts: %w", err)
	}
	if !ok || raw == "" {
		return attempts{}, nil
	}
	var a attempts
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		c.log.Warn("discarding corrupted attempt state")
		return attempts{}, nil
	}
	return a, nil
}

func (c *Controller) recordFailure() error {
	a, err := c.loadAttempts()
	if err != nil {
		return err
	}
	a.FailedAttempts++
	a.LastAttempt = c.now().UTC()
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("gate: failed to encode attempts: %w", err)
	}
	return c.kv.Set(KeyAttempts, string(data))
}

func (c *Controller) clearFailures() error {
	return c.kv.Remove(KeyAttempts)
}

// cooldownRemaining returns how long submissions in Locked are refused.
// It is always zero when the threshold is disabled.
func (c *Controller) cooldownRemaining() (time.Duration, error) {
	if c.cooldownThreshold <= 0 || c.cooldown <= 0 {
		return 0, nil
	}
	a, err := c.loadAttempts()
	if err != nil {
		return 0, err
	}
	if a.FailedAttempts < c.cooldownThreshold {
		return 0, nil
	}
	until := a.LastAttempt.Add(c.cooldown)
	if now := c.now(); now.Before(until) {
		return until.Sub(now), nil
	}
	return 0, nil
}
