package plugins

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// ResetController drives the transceiver's RESETB line. The line is active
// low: it idles high and is pulled low to reset the chip.
type ResetController struct {
	chip      *gpiocdev.Chip
	resetLine *gpiocdev.Line
	chipPath  string
	resetPin  int
}

// NewResetController opens the GPIO chip and claims the reset line as an
// output, released (high).
func NewResetController(chipPath string, resetPin int) (*ResetController, error) {
	chip, err := gpiocdev.NewChip(chipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GPIO chip %s: %w", chipPath, err)
	}

	resetLine, err := chip.RequestLine(
		resetPin,
		gpiocdev.AsOutput(1),
		gpiocdev.WithConsumer("ad9361-resetb"),
	)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("failed to request reset line %d: %w", resetPin, err)
	}

	return &ResetController{
		chip:      chip,
		resetLine: resetLine,
		chipPath:  chipPath,
		resetPin:  resetPin,
	}, nil
}

// Close releases the reset line and the chip.
func (g *ResetController) Close() error {
	var errs []error

	if g.resetLine != nil {
		if err := g.resetLine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close reset line: %w", err))
		}
		g.resetLine = nil
	}

	if g.chip != nil {
		if err := g.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close GPIO chip: %w", err))
		}
		g.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing GPIO: %v", errs)
	}

	return nil
}

// Reset pulses RESETB low and releases it, then gives the chip time to
// come out of reset before the first SPI access.
func (g *ResetController) Reset() error {
	if g.resetLine == nil {
		return fmt.Errorf("reset line not initialized")
	}

	if err := g.resetLine.SetValue(0); err != nil {
		return fmt.Errorf("failed to pull reset line low: %w", err)
	}

	time.Sleep(time.Millisecond)

	if err := g.resetLine.SetValue(1); err != nil {
		return fmt.Errorf("failed to release reset line: %w", err)
	}

	time.Sleep(10 * time.Millisecond)

	return nil
}

// Info returns information about the claimed reset line.
func (g *ResetController) Info() string {
	if g.chip == nil {
		return fmt.Sprintf("GPIO: %s (closed)", g.chipPath)
	}
	return fmt.Sprintf("GPIO: %s (%s), Reset Line: %d", g.chipPath, g.chip.Label, g.resetPin)
}
