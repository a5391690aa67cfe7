package ad9361

import (
	"fmt"
	"math"
)

const (
	synthCalRows  = 53
	gainTableRows = 77
)

// FIRSets holds the four supported FIR coefficient profiles, one per
// programmable tap count. Coefficients are signed 16-bit filter taps.
type FIRSets struct {
	Taps48  []int16 `yaml:"taps48"`
	Taps64  []int16 `yaml:"taps64"`
	Taps96  []int16 `yaml:"taps96"`
	Taps128 []int16 `yaml:"taps128"`
}

// GainRow is one entry of a banded RX gain table: the LMT (LNA, mixer, TIA)
// word, the LPF gain word, and the digital gain word.
type GainRow struct {
	LMT     uint8 `yaml:"lmt"`
	LPF     uint8 `yaml:"lpf"`
	Digital uint8 `yaml:"dig"`
}

// GainTables carries the three banded RX gain tables. The driver programs
// low below 1300 MHz, mid from 1300 MHz up to 4 GHz, and high up to 6 GHz.
type GainTables struct {
	Low  []GainRow `yaml:"low"`
	Mid  []GainRow `yaml:"mid"`
	High []GainRow `yaml:"high"`
}

// SynthCalRow is one row of the RFPLL calibration lookup table. VCORate is
// the lower VCO rate bound for the row in Hz; rows are ordered by strictly
// descending VCORate. The remaining fields are raw bitfield values for the
// synthesizer register block.
type SynthCalRow struct {
	VCORate     float64 `yaml:"vco_rate"`
	OutputLevel uint8   `yaml:"output_level"`
	Varactor    uint8   `yaml:"varactor"`
	BiasRef     uint8   `yaml:"bias_ref"`
	BiasTCF     uint8   `yaml:"bias_tcf"`
	CalOffset   uint8   `yaml:"cal_offset"`
	VaractorRef uint8   `yaml:"varactor_ref"`
	ChargePump  uint8   `yaml:"charge_pump"`
	LoopC2      uint8   `yaml:"loop_c2"`
	LoopC1      uint8   `yaml:"loop_c1"`
	LoopR1      uint8   `yaml:"loop_r1"`
	LoopC3      uint8   `yaml:"loop_c3"`
	LoopR3      uint8   `yaml:"loop_r3"`
}

// Tables bundles the board-supplied calibration data the driver programs
// into the chip. Nothing here is compiled in; the caller loads the data and
// injects it at construction.
type Tables struct {
	FIR      FIRSets       `yaml:"fir"`
	SynthCal []SynthCalRow `yaml:"synth_cal"`
	Gain     GainTables    `yaml:"gain_tables"`
}

// Validate checks the table shapes the programming sequences rely on.
func (t *Tables) Validate() error {
	firSets := []struct {
		name string
		want int
		taps []int16
	}{
		{"taps48", 48, t.FIR.Taps48},
		{"taps64", 64, t.FIR.Taps64},
		{"taps96", 96, t.FIR.Taps96},
		{"taps128", 128, t.FIR.Taps128},
	}
	for _, s := range firSets {
		if len(s.taps) != s.want {
			return fmt.Errorf("fir set %s has %d taps, expected %d", s.name, len(s.taps), s.want)
		}
	}

	if len(t.SynthCal) != synthCalRows {
		return fmt.Errorf("synth cal table has %d rows, expected %d", len(t.SynthCal), synthCalRows)
	}
	prev := math.Inf(1)
	for i, row := range t.SynthCal {
		if row.VCORate <= 0 {
			return fmt.Errorf("synth cal row %d: vco_rate must be positive", i)
		}
		if row.VCORate >= prev {
			return fmt.Errorf("synth cal row %d: vco_rate %.0f is not strictly descending", i, row.VCORate)
		}
		prev = row.VCORate
		if err := row.validate(i); err != nil {
			return err
		}
	}

	gainSets := []struct {
		name string
		rows []GainRow
	}{
		{"low", t.Gain.Low},
		{"mid", t.Gain.Mid},
		{"high", t.Gain.High},
	}
	for _, g := range gainSets {
		if len(g.rows) != gainTableRows {
			return fmt.Errorf("gain table %s has %d rows, expected %d", g.name, len(g.rows), gainTableRows)
		}
	}
	return nil
}

// validate rejects values that would spill outside their register bitfields.
func (r SynthCalRow) validate(i int) error {
	fields := []struct {
		name string
		val  uint8
		max  uint8
	}{
		{"output_level", r.OutputLevel, 0x0F},
		{"varactor", r.Varactor, 0x0F},
		{"bias_ref", r.BiasRef, 0x07},
		{"bias_tcf", r.BiasTCF, 0x03},
		{"cal_offset", r.CalOffset, 0x0F},
		{"charge_pump", r.ChargePump, 0x3F},
		{"loop_c2", r.LoopC2, 0x0F},
		{"loop_c1", r.LoopC1, 0x0F},
		{"loop_r1", r.LoopR1, 0x0F},
		{"loop_c3", r.LoopC3, 0x0F},
		{"loop_r3", r.LoopR3, 0x0F},
	}
	for _, f := range fields {
		if f.val > f.max {
			return fmt.Errorf("synth cal row %d: %s %d exceeds field width (max %d)", i, f.name, f.val, f.max)
		}
	}
	return nil
}

// coeffsFor returns the coefficient set for a supported tap count.
func (t *Tables) coeffsFor(numTaps int) ([]int16, error) {
	switch numTaps {
	case 48:
		return t.FIR.Taps48, nil
	case 64:
		return t.FIR.Taps64, nil
	case 96:
		return t.FIR.Taps96, nil
	case 128:
		return t.FIR.Taps128, nil
	default:
		return nil, fmt.Errorf("no coefficient set for %d taps: %w", numTaps, ErrUnsupportedTapCount)
	}
}

// gainTableFor picks the gain table covering an RX LO frequency along with
// the table number used for resident-table tracking.
func (t *Tables) gainTableFor(rxFreq float64) ([]GainRow, uint8, error) {
	switch {
	case rxFreq < 1300e6:
		return t.Gain.Low, 1, nil
	case rxFreq < 4e9:
		return t.Gain.Mid, 2, nil
	case rxFreq <= 6e9:
		return t.Gain.High, 3, nil
	default:
		// The synthesizer cannot tune past 6 GHz, so a frequency up here
		// means the tune path let something through it should not have.
		return nil, 0, fmt.Errorf("rx frequency %.0f Hz has no gain table: %w", rxFreq, ErrInvalidCodePath)
	}
}

// synthRowFor scans the descending VCO rate breakpoints and returns the
// first row whose bound the rate exceeds, falling back to the last row.
func (t *Tables) synthRowFor(vcoRate float64) SynthCalRow {
	idx := 0
	for i, row := range t.SynthCal {
		idx = i
		if vcoRate > row.VCORate {
			break
		}
	}
	return t.SynthCal[idx]
}
