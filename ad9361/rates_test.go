package ad9361

import (
	"errors"
	"fmt"
	"testing"
)

func TestRateBandFor(t *testing.T) {
	cases := []struct {
		rate       float64
		rxFilter   uint8
		txFilter   uint8
		divFactor  int
		tfirFactor int
	}{
		{0.25e6, 0xEF, 0xEF, 48, 2},
		{0.33e6, 0xDF, 0xDF, 32, 2},
		{0.5e6, 0xDF, 0xDF, 32, 2},
		{0.66e6, 0xDE, 0xDE, 16, 2},
		{10e6, 0xDE, 0xDE, 16, 2},
		{20e6, 0xDE, 0xDE, 16, 2},
		{20.5e6, 0xEE, 0xE6, 24, 2},
		{23e6, 0xDE, 0xCE, 16, 2},
		{40e6, 0xDE, 0xCE, 16, 2},
		{41e6, 0xE6, 0xE2, 12, 2},
		{56e6, 0xE6, 0xE2, 12, 2},
		{56.1e6, 0xE2, 0xE1, 6, 1},
		{61.44e6, 0xE2, 0xE1, 6, 1},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%.0f", tc.rate), func(t *testing.T) {
			band, err := rateBandFor(tc.rate)
			if err != nil {
				t.Fatalf("rateBandFor(%v): %v", tc.rate, err)
			}
			if band.rxFilter != tc.rxFilter || band.txFilter != tc.txFilter {
				t.Errorf("filters = 0x%02X/0x%02X, want 0x%02X/0x%02X",
					band.rxFilter, band.txFilter, tc.rxFilter, tc.txFilter)
			}
			if band.divFactor != tc.divFactor {
				t.Errorf("divfactor = %d, want %d", band.divFactor, tc.divFactor)
			}
			if band.tfirFactor != tc.tfirFactor {
				t.Errorf("tfir factor = %d, want %d", band.tfirFactor, tc.tfirFactor)
			}
		})
	}

	// The public bound check catches out-of-range rates first; a rate
	// falling past the table is an internal fault.
	if _, err := rateBandFor(61.45e6); !errors.Is(err, ErrInvalidCodePath) {
		t.Errorf("rateBandFor above limit: err = %v, want ErrInvalidCodePath", err)
	}
}

func TestQuantizeTaps(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, 16},
		{15, 16},
		{16, 16},
		{17, 16},
		{47, 32},
		{48, 48},
		{96, 96},
		{112, 112},
		{113, 128},
		{127, 128},
		{128, 128},
		{129, 128},
		{256, 128},
	}
	for _, tc := range cases {
		if got := quantizeTaps(tc.in); got != tc.want {
			t.Errorf("quantizeTaps(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestSetupRatesAtMaxRate(t *testing.T) {
	dev, chip := newTestDevice(t)
	dev.regs.reset()

	bw, err := dev.setupRates(61.44e6)
	if err != nil {
		t.Fatalf("setupRates: %v", err)
	}

	// 61.44 MHz runs the 6x band: a 737.28 MHz BBPLL over divider 2, a
	// hair over 61.44 MHz of bandwidth from the fractional remainder.
	if bw < 61.44e6 || bw > 61.45e6 {
		t.Errorf("baseband bw = %v, want just above 61.44e6", bw)
	}
	if dev.adcClockFreq <= 336e6 {
		t.Errorf("adc clock = %v, expected above the dac split point", dev.adcClockFreq)
	}
	if got, _ := chip.lastWrite(RegBBPLL); got != 0x09 {
		t.Errorf("bbpll register = 0x%02X, want 0x09 (divider 2, dac halved)", got)
	}

	// Halved DAC clock and interpolate-by-1 cap the TX FIR at 48 taps;
	// the RX side gets 96.
	txCfg := chip.writesTo(txFIRBase + 5)
	if len(txCfg) == 0 || txCfg[0] != 0x5A {
		t.Fatalf("tx fir config writes = %#v, want first 0x5A (48 taps)", txCfg)
	}
	rxCfg := chip.writesTo(rxFIRBase + 5)
	if len(rxCfg) == 0 || rxCfg[0] != 0xBA {
		t.Fatalf("rx fir config writes = %#v, want first 0xBA (96 taps)", rxCfg)
	}
}

func TestSetupRatesBelowTunableRange(t *testing.T) {
	dev, _ := newTestDevice(t)
	dev.regs.reset()

	// 100 kHz in the 48x band asks for a 4.8 MHz core clock; even the
	// largest BBPLL divider cannot reach the VCO floor from there.
	_, err := dev.setupRates(100e3)
	if !errors.Is(err, ErrNoValidDivider) {
		t.Fatalf("err = %v, want ErrNoValidDivider", err)
	}
}
