package ad9361

import (
	"time"

	"github.com/jpillora/backoff"
)

// pollReg re-reads a status register until pred accepts the value. Attempts
// are paced at a constant interval and hard-capped; on exhaustion the caller
// gets a CalTimeoutError naming what was being waited on.
func (d *Device) pollReg(addr uint16, interval time.Duration, maxAttempts int, what string, pred func(uint8) bool) error {
	b := &backoff.Backoff{
		Min:    interval,
		Max:    interval,
		Factor: 1,
		Jitter: false,
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		val, err := d.peek(addr)
		if err != nil {
			return err
		}
		if pred(val) {
			return nil
		}
		time.Sleep(b.Duration())
	}
	return &CalTimeoutError{Cal: what}
}

func bitSet(mask uint8) func(uint8) bool {
	return func(v uint8) bool { return v&mask != 0 }
}

func bitClear(mask uint8) func(uint8) bool {
	return func(v uint8) bool { return v&mask == 0 }
}
