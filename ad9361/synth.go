package ad9361

import (
	"fmt"
	"math"
	"time"
)

// Baseband PLL fractional-N parameters. The modulus is fixed in hardware;
// the reference is the 40 MHz board clock.
const (
	bbpllRef     = 40e6
	bbpllModulus = 2088960
	bbpllVCOMin  = 672e6
	bbpllVCOMax  = 1430e6
)

// RF PLL fractional-N parameters. The reference is scaled to twice the
// board clock; the VCO covers 6 to 12 GHz ahead of the output dividers.
const (
	rfpllRef     = 80e6
	rfpllModulus = 8388593
	rfpllVCOMin  = 6e9
	rfpllVCOMax  = 12e9
)

// tuneBBVCO tunes the baseband PLL that sources the converter clocks. rate
// is the wanted ADC clock; the VCO runs at the power-of-two multiple that
// lands inside its lock range. Returns the achieved ADC clock.
func (d *Device) tuneBBVCO(rate float64) (float64, error) {
	if freqIsNearlyEqual(rate, d.reqCoreClock) {
		return d.adcClockFreq, nil
	}
	d.reqCoreClock = rate

	divIndex := 0
	vcoRate := 0.0
	for i := 1; i <= 6; i++ {
		vcoRate = rate * float64(int(1)<<i)
		if vcoRate >= bbpllVCOMin && vcoRate <= bbpllVCOMax {
			divIndex = i
			break
		}
	}
	if divIndex == 0 {
		return 0, fmt.Errorf("bbpll vco for core clock %.0f Hz: %w", rate, ErrNoValidDivider)
	}
	vcoDiv := 1 << divIndex

	// Fo = Fref * (Nint + Nfrac / modulus)
	nint := int(vcoRate / bbpllRef)
	nfrac := int(math.Round((vcoRate/bbpllRef - float64(nint)) * bbpllModulus))
	actualVCO := bbpllRef * (float64(nint) + float64(nfrac)/bbpllModulus)

	// Charge pump current scales with the achieved VCO rate.
	icp := 150e-6 * (actualVCO / 1280e6)
	icpReg := int(icp/25e-6) - 1

	d.log.Debug("tuning bbpll",
		"core_clock", rate, "vco_div", vcoDiv, "vco_rate", actualVCO,
		"nint", nint, "nfrac", nfrac)

	writes := []regWrite{
		{0x045, 0x00},                 // REFCLK / 1 to BBPLL
		{0x046, uint8(icpReg) & 0x3F}, // CP current
		{0x048, 0xE8},                 // BBPLL loop filters
		{0x049, 0x5B},                 // BBPLL loop filters
		{0x04A, 0x35},                 // BBPLL loop filters
		{0x04B, 0xE0},
		{0x04E, 0x10},               // max accuracy
		{0x043, uint8(nfrac)},       // Nfrac[7:0]
		{0x042, uint8(nfrac >> 8)},  // Nfrac[15:8]
		{0x041, uint8(nfrac >> 16)}, // Nfrac[23:16]
		{0x044, uint8(nint)},        // Nint
	}
	if err := d.pokeAll(writes); err != nil {
		return 0, err
	}

	if err := d.calibrateLockBBPLL(); err != nil {
		return 0, err
	}

	d.regs.bbPLL = (d.regs.bbPLL & 0xF8) | uint8(divIndex)

	d.bbpllFreq = actualVCO
	d.adcClockFreq = actualVCO / float64(vcoDiv)
	return d.adcClockFreq, nil
}

// calibrateLockBBPLL kicks the BBPLL calibration and waits for lock. Must
// run every time the BBPLL is retuned.
func (d *Device) calibrateLockBBPLL() error {
	writes := []regWrite{
		{0x03F, 0x05}, // start the BBPLL calibration
		{0x03F, 0x01}, // clear the start bit
		// Increase BBPLL KV and phase margin.
		{0x04C, 0x86},
		{0x04D, 0x01},
		{0x04D, 0x05},
	}
	if err := d.pokeAll(writes); err != nil {
		return err
	}
	return d.pollReg(RegBBPLLStatus, 2*time.Millisecond, 1000, "bbpll lock", bitSet(calBBPLLLocked))
}

// tuneRFPLL tunes the RX or TX local oscillator to value Hz and returns the
// achieved LO frequency. The caller is responsible for the ENSM state and
// for the calibration passes that must follow a retune.
func (d *Device) tuneRFPLL(dir Direction, value float64) (float64, error) {
	divIndex := -1
	vcoRate := 0.0
	for i := 0; i <= 6; i++ {
		vcoRate = value * float64(int(2)<<i)
		if vcoRate >= rfpllVCOMin && vcoRate <= rfpllVCOMax {
			divIndex = i
			break
		}
	}
	if divIndex < 0 {
		return 0, fmt.Errorf("rfpll vco for %s lo %.0f Hz: %w", dir, value, ErrNoValidDivider)
	}
	vcoDiv := 2 << divIndex

	// Both words truncate; the RFPLL quantization error stays below the
	// reference over modulus step.
	nint := int(vcoRate / rfpllRef)
	nfrac := int((vcoRate/rfpllRef - float64(nint)) * rfpllModulus)

	actualVCO := rfpllRef * (float64(nint) + float64(nfrac)/rfpllModulus)
	actualLO := actualVCO / float64(vcoDiv)

	d.log.Debug("tuning rfpll",
		"direction", dir, "lo", value, "vco_div", vcoDiv,
		"nint", nint, "nfrac", nfrac, "actual_lo", actualLO)

	if dir == RX {
		d.reqRXFreq = value

		// Band-specific input port routing.
		switch {
		case value < d.board.RXBandEdges[0]:
			d.regs.inputSelect = (d.regs.inputSelect & 0xC0) | 0x30
		case value < d.board.RXBandEdges[1]:
			d.regs.inputSelect = (d.regs.inputSelect & 0xC0) | 0x0C
		case value <= 6e9:
			d.regs.inputSelect = (d.regs.inputSelect & 0xC0) | 0x03
		default:
			return 0, fmt.Errorf("rx lo %.0f Hz above 6 GHz: %w", value, ErrOutOfRange)
		}
		if err := d.poke(RegInputSelect, d.regs.inputSelect); err != nil {
			return 0, err
		}

		d.regs.vcoDividers = (d.regs.vcoDividers & 0xF0) | (uint8(divIndex) & 0x0F)

		if err := d.setupSynth(RX, actualVCO); err != nil {
			return 0, err
		}

		writes := []regWrite{
			{0x233, uint8(nfrac)},       // Nfrac[7:0]
			{0x234, uint8(nfrac >> 8)},  // Nfrac[15:8]
			{0x235, uint8(nfrac >> 16)}, // Nfrac[23:16]
			{0x232, uint8(nint >> 8)},   // Nint[10:8]
			{0x231, uint8(nint)},        // Nint[7:0]
			{RegRFPLLDividers, d.regs.vcoDividers},
		}
		if err := d.pokeAll(writes); err != nil {
			return 0, err
		}

		time.Sleep(2 * time.Millisecond)
		status, err := d.peek(RegRXPLLStatus)
		if err != nil {
			return 0, err
		}
		if status&calPLLLocked == 0 {
			return 0, fmt.Errorf("rx lo %.0f Hz: %w", value, ErrPLLNotLocked)
		}

		d.rxFreq = actualLO
		return actualLO, nil
	}

	d.reqTXFreq = value

	// TX has a single band split on the input select register.
	switch {
	case value < d.board.TXBandEdge:
		d.regs.inputSelect |= 0x40
	case value <= 6e9:
		d.regs.inputSelect &= 0xBF
	default:
		return 0, fmt.Errorf("tx lo %.0f Hz above 6 GHz: %w", value, ErrOutOfRange)
	}
	if err := d.poke(RegInputSelect, d.regs.inputSelect); err != nil {
		return 0, err
	}

	d.regs.vcoDividers = (d.regs.vcoDividers & 0x0F) | ((uint8(divIndex) & 0x0F) << 4)

	if err := d.setupSynth(TX, actualVCO); err != nil {
		return 0, err
	}

	writes := []regWrite{
		{0x273, uint8(nfrac)},       // Nfrac[7:0]
		{0x274, uint8(nfrac >> 8)},  // Nfrac[15:8]
		{0x275, uint8(nfrac >> 16)}, // Nfrac[23:16]
		{0x272, uint8(nint >> 8)},   // Nint[10:8]
		{0x271, uint8(nint)},        // Nint[7:0]
		{RegRFPLLDividers, d.regs.vcoDividers},
	}
	if err := d.pokeAll(writes); err != nil {
		return 0, err
	}

	time.Sleep(2 * time.Millisecond)
	status, err := d.peek(RegTXPLLStatus)
	if err != nil {
		return 0, err
	}
	if status&calPLLLocked == 0 {
		return 0, fmt.Errorf("tx lo %.0f Hz: %w", value, ErrPLLNotLocked)
	}

	d.txFreq = actualLO
	return actualLO, nil
}

// setupSynth programs the synthesizer block for the VCO rate it is about to
// run at, looking the analog settings up in the board calibration table.
func (d *Device) setupSynth(dir Direction, vcoRate float64) error {
	row := d.tables.synthRowFor(vcoRate)

	if dir == RX {
		return d.pokeAll([]regWrite{
			{0x23A, 0x40 | row.OutputLevel},
			{0x239, 0xC0 | row.Varactor},
			{0x242, row.BiasRef | (row.BiasTCF << 3)},
			{0x238, row.CalOffset << 3},
			{0x245, 0x00},
			{0x251, row.VaractorRef},
			{0x250, 0x70},
			{0x23B, 0x80 | row.ChargePump},
			{0x23E, row.LoopC1 | (row.LoopC2 << 4)},
			{0x23F, row.LoopC3 | (row.LoopR1 << 4)},
			{0x240, row.LoopR3},
		})
	}
	return d.pokeAll([]regWrite{
		{0x27A, 0x40 | row.OutputLevel},
		{0x279, 0xC0 | row.Varactor},
		{0x282, row.BiasRef | (row.BiasTCF << 3)},
		{0x278, row.CalOffset << 3},
		{0x285, 0x00},
		{0x291, row.VaractorRef},
		{0x290, 0x70},
		{0x27B, 0x80 | row.ChargePump},
		{0x27E, row.LoopC1 | (row.LoopC2 << 4)},
		{0x27F, row.LoopC3 | (row.LoopR1 << 4)},
		{0x280, row.LoopR3},
	})
}
