package radio

import (
	"fmt"
	"strings"

	"github.com/warthog618/go-gpiocdev"

	"github.com/rjboer/pulseradar/internal/params"
)

// GPIOAmp holds the TX power-amplifier enable line. It is configured
// once, at setup time, and never toggled per pulse: spec.md §9(c)
// preserves the original's setup-time-only semantics for the amp gate
// and tr_on_lead/tr_off_trail, with no per-pulse GPIO activity in the
// scheduling loop.
type GPIOAmp struct {
	line *gpiocdev.Line
}

// NewGPIOAmp requests GPIOIndex() of g.Bank as an output line and
// drives it high, enabling the amplifier. If the pin is disabled
// (PwrAmpPin == -1) it returns a no-op GPIOAmp.
func NewGPIOAmp(g params.GPIOParams) (*GPIOAmp, error) {
	index, enabled := g.GPIOIndex()
	if !enabled {
		return &GPIOAmp{}, nil
	}

	chip := g.Bank
	if !strings.HasPrefix(chip, "/dev/") {
		chip = "/dev/" + chip
	}

	line, err := gpiocdev.RequestLine(chip, index,
		gpiocdev.AsOutput(1),
		gpiocdev.WithConsumer("pulseradar-amp"),
	)
	if err != nil {
		return nil, fmt.Errorf("radio: request amp gpio %s:%d: %w", chip, index, err)
	}
	return &GPIOAmp{line: line}, nil
}

// Disable drives the line low and releases it. Safe to call on a
// no-op GPIOAmp.
func (a *GPIOAmp) Disable() error {
	if a == nil || a.line == nil {
		return nil
	}
	if err := a.line.SetValue(0); err != nil {
		return err
	}
	return a.line.Close()
}
