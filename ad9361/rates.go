package ad9361

import "fmt"

// rateBand is one row of the fixed clock plan: filter enable words for both
// chains, total decimation between converter and sample port, and the TX
// FIR interpolation factor.
type rateBand struct {
	rxFilter   uint8
	txFilter   uint8
	divFactor  int
	tfirFactor int
}

// rateBandFor maps a requested clock rate onto the fixed band plan. Every
// band enables both chains on each side; the calibration passes need all
// four paths active, and user chain selections are restored afterwards.
// The inline comments give the halfband / FIR factors the word encodes.
func rateBandFor(rate float64) (rateBand, error) {
	switch {
	case rate < 0.33e6:
		// RX 3,2,2,4 / TX 3,2,2,4
		return rateBand{rxFilter: 0xEF, txFilter: 0xEF, divFactor: 48, tfirFactor: 2}, nil
	case rate < 0.66e6:
		// RX 2,2,2,4 / TX 2,2,2,4
		return rateBand{rxFilter: 0xDF, txFilter: 0xDF, divFactor: 32, tfirFactor: 2}, nil
	case rate <= 20e6:
		// RX 2,2,2,2 / TX 2,2,2,2
		return rateBand{rxFilter: 0xDE, txFilter: 0xDE, divFactor: 16, tfirFactor: 2}, nil
	case rate < 23e6:
		// RX 3,2,2,2 / TX 3,1,2,2
		return rateBand{rxFilter: 0xEE, txFilter: 0xE6, divFactor: 24, tfirFactor: 2}, nil
	case rate < 41e6:
		// RX 2,2,2,2 / TX 1,2,2,2
		return rateBand{rxFilter: 0xDE, txFilter: 0xCE, divFactor: 16, tfirFactor: 2}, nil
	case rate <= 56e6:
		// RX 3,1,2,2 / TX 3,1,1,2
		return rateBand{rxFilter: 0xE6, txFilter: 0xE2, divFactor: 12, tfirFactor: 2}, nil
	case rate <= 61.44e6:
		// RX 3,1,1,2 / TX 3,1,1,1
		return rateBand{rxFilter: 0xE2, txFilter: 0xE1, divFactor: 6, tfirFactor: 1}, nil
	default:
		// SetClockRate bounds the rate before we get here.
		return rateBand{}, fmt.Errorf("clock rate %.0f Hz fell through the band table: %w", rate, ErrInvalidCodePath)
	}
}

// quantizeTaps rounds a tap budget down to a programmable FIR length.
// Budgets land on multiples of 16 in practice; anything above 112 selects
// the full 128-tap bank.
func quantizeTaps(maxTaps int) int {
	switch {
	case maxTaps < 16:
		return 16
	case maxTaps > 112:
		return 128
	default:
		return 16 * (maxTaps / 16)
	}
}

// setupRates configures the clock plan for a requested sample rate: selects
// the band's filter words, tunes the BBPLL for the resulting converter
// clocks, and reprograms both FIR banks at the largest supported length.
// Returns the achieved baseband bandwidth.
func (d *Device) setupRates(rate float64) (float64, error) {
	d.reqClockRate = rate

	band, err := rateBandFor(rate)
	if err != nil {
		return 0, err
	}
	d.regs.rxFilter = band.rxFilter
	d.regs.txFilter = band.txFilter
	d.tfirFactor = band.tfirFactor

	d.log.Debug("clock plan selected", "rate", rate, "divfactor", band.divFactor)

	adcClk, err := d.tuneBBVCO(rate * float64(band.divFactor))
	if err != nil {
		return 0, err
	}

	// The DAC clock tops out at 336 MHz; above that it runs at half the
	// ADC clock and the TX FIR is fed at the halved rate.
	dacClk := adcClk
	if adcClk > 336e6 {
		d.regs.bbPLL |= 0x08
		dacClk = adcClk / 2.0
	} else {
		d.regs.bbPLL &= 0xF7
	}

	writes := []regWrite{
		{RegTXFilterConfig, d.regs.txFilter},
		{RegRXFilterConfig, d.regs.rxFilter},
		{RegInputSelect, d.regs.inputSelect},
		{RegBBPLL, d.regs.bbPLL},
	}
	if err := d.pokeAll(writes); err != nil {
		return 0, err
	}

	d.basebandBW = adcClk / float64(band.divFactor)
	d.log.Debug("converter clocks tuned",
		"adc_clock", adcClk, "dac_clock", dacClk, "baseband_bw", d.basebandBW)

	// The FIRs compute 16 taps per clock, so the available length is the
	// converter-to-sample clock ratio times 16. The TX bank is further
	// limited to 64 taps when interpolating by one.
	txLimit := 128
	if band.tfirFactor == 1 {
		txLimit = 64
	}
	numTXTaps := quantizeTaps(min(16*int(dacClk/rate+0.5), 128, txLimit))
	numRXTaps := quantizeTaps(min(16*int(adcClk/rate+0.5), 128))

	if err := d.programFIR(TX, numTXTaps); err != nil {
		return 0, err
	}
	if err := d.programFIR(RX, numRXTaps); err != nil {
		return 0, err
	}

	return d.basebandBW, nil
}
