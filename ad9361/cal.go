package ad9361

import (
	"fmt"
	"math"
	"time"
)

// runCalibrationSequence runs the full post-retune calibration chain. The
// order is load-bearing: later steps consume register and shadow state left
// behind by earlier ones. reapplyGains additionally rewrites the cached
// per-chain gains, which is wanted after a rate change but not during the
// first bring-up.
func (d *Device) runCalibrationSequence(reapplyGains bool) error {
	if err := d.programMixerGMSubtable(); err != nil {
		return err
	}
	if err := d.programGainTable(); err != nil {
		return err
	}
	if err := d.setupGainControl(); err != nil {
		return err
	}
	if reapplyGains {
		if err := d.reprogramGains(); err != nil {
			return err
		}
	}
	if _, err := d.calibrateRXBBFilter(); err != nil {
		return err
	}
	if _, err := d.calibrateTXBBFilter(); err != nil {
		return err
	}
	if err := d.calibrateRXTIAs(); err != nil {
		return err
	}
	if err := d.calibrateSecondaryTXFilter(); err != nil {
		return err
	}
	if err := d.setupADC(); err != nil {
		return err
	}
	if err := d.calibrateTXQuadrature(); err != nil {
		return err
	}
	return d.calibrateRXQuadrature()
}

// calibrateSynthChargePumps calibrates both synthesizer charge pumps. Only
// needed once per bring-up, and only valid from the ALERT state.
func (d *Device) calibrateSynthChargePumps() error {
	state, err := d.ensmState()
	if err != nil {
		return err
	}
	if state != ensmStateAlert {
		return fmt.Errorf("charge pump cal requires ALERT, state is 0x%X: %w", state, ErrWrongChipState)
	}

	if err := d.poke(0x23D, 0x04); err != nil {
		return err
	}
	if err := d.pollReg(RegRXCPStatus, time.Millisecond, 5, "rx charge pump cal", bitSet(calCPDone)); err != nil {
		return err
	}
	if err := d.poke(0x23D, 0x00); err != nil {
		return err
	}

	if err := d.poke(0x27D, 0x04); err != nil {
		return err
	}
	if err := d.pollReg(RegTXCPStatus, time.Millisecond, 5, "tx charge pump cal", bitSet(calCPDone)); err != nil {
		return err
	}
	return d.poke(0x27D, 0x00)
}

// calibrateRXBBFilter tunes the analog RX baseband filter for the current
// baseband bandwidth. Must be re-run after any rate change. Returns the
// single-sided bandwidth the filter was tuned for.
func (d *Device) calibrateRXBBFilter() (float64, error) {
	// Filter tuning works on half the complex bandwidth, clamped to the
	// filter's tunable span.
	bbbw := clamp(d.basebandBW/2.0, 0.20e6, 28e6)

	rxTuneClk := (1.4 * bbbw * 2 * math.Pi) / math.Ln2
	d.rxBBFTuneDiv = uint16(min(511, int(math.Ceil(d.bbpllFreq/rxTuneClk))))
	d.regs.bbfTuneConfig = (d.regs.bbfTuneConfig & 0xFE) | uint8((d.rxBBFTuneDiv>>8)&0x0001)

	bbbwMHz := bbbw / 1e6
	bbbwKHz := uint8(min(127, int(math.Floor((bbbwMHz-math.Floor(bbbwMHz))*1000/7.8125+0.5))))

	writes := []regWrite{
		// Corner frequencies and tune divider.
		{0x1FB, uint8(bbbwMHz)},
		{0x1FC, bbbwKHz},
		{0x1F8, uint8(d.rxBBFTuneDiv)},
		{0x1F9, d.regs.bbfTuneConfig},
		// RX mix voltage settings.
		{0x1D5, 0x3F},
		{0x1C0, 0x03},
		// Enable the RX1 and RX2 filter tuners.
		{0x1E2, 0x02},
		{0x1E3, 0x02},
		{RegCalControl, calRXBBTune},
	}
	if err := d.pokeAll(writes); err != nil {
		return 0, err
	}
	if err := d.pollReg(RegCalControl, time.Millisecond, 100, "rx baseband filter cal", bitClear(calRXBBTune)); err != nil {
		return 0, err
	}

	// Disable the filter tuners again.
	if err := d.poke(0x1E2, 0x03); err != nil {
		return 0, err
	}
	if err := d.poke(0x1E3, 0x03); err != nil {
		return 0, err
	}
	return bbbw, nil
}

// calibrateTXBBFilter tunes the analog TX baseband filter for the current
// baseband bandwidth. Must be re-run after any rate change.
func (d *Device) calibrateTXBBFilter() (float64, error) {
	bbbw := clamp(d.basebandBW/2.0, 0.625e6, 20e6)

	txTuneClk := (1.6 * bbbw * 2 * math.Pi) / math.Ln2
	txBBFDiv := uint16(min(511, int(math.Ceil(d.bbpllFreq/txTuneClk))))
	d.regs.bbfTuneMode = (d.regs.bbfTuneMode & 0xFE) | uint8((txBBFDiv>>8)&0x0001)

	writes := []regWrite{
		{0x0D6, uint8(txBBFDiv)},
		{0x0D7, d.regs.bbfTuneMode},
		{0x0CA, 0x22}, // enable the filter tuner
		{RegCalControl, calTXBBTune},
	}
	if err := d.pokeAll(writes); err != nil {
		return 0, err
	}
	if err := d.pollReg(RegCalControl, time.Millisecond, 100, "tx baseband filter cal", bitClear(calTXBBTune)); err != nil {
		return 0, err
	}

	// Disable the filter tuner.
	if err := d.poke(0x0CA, 0x26); err != nil {
		return 0, err
	}
	return bbbw, nil
}

// calibrateSecondaryTXFilter programs the post-DAC RC filter. The values
// are searched, not calibrated by the chip: the resistor doubles until the
// capacitor code fits its six-bit field.
func (d *Device) calibrateSecondaryTXFilter() error {
	bbbw := clamp(d.basebandBW/2.0, 0.53e6, 20e6)
	bbbwMHz := bbbw / 1e6

	cornerFreq := 5 * bbbwMHz * 2 * math.Pi

	res := 100
	capCode := 0
	for i := 0; i <= 3; i++ {
		capCode = int(math.Floor(0.5+(1/((cornerFreq*float64(res))*1e6))*1e12)) - 12
		if capCode <= 63 {
			break
		}
		res *= 2
	}
	if capCode > 63 {
		capCode = 63
	}

	var reg0d0 uint8
	switch {
	case bbbwMHz*2 <= 9:
		reg0d0 = 0x59
	case bbbwMHz*2 <= 24:
		reg0d0 = 0x56
	default:
		reg0d0 = 0x57
	}

	var reg0d1 uint8
	switch res {
	case 100:
		reg0d1 = 0x0C
	case 200:
		reg0d1 = 0x04
	case 400:
		reg0d1 = 0x03
	case 800:
		reg0d1 = 0x01
	default:
		reg0d1 = 0x0C
	}

	return d.pokeAll([]regWrite{
		{0x0D2, uint8(capCode)},
		{0x0D1, reg0d1},
		{0x0D0, reg0d0},
	})
}

// calibrateRXTIAs derives the TIA feedback settings from the RX baseband
// filter's calibrated RC values, which it reads back from the chip.
func (d *Device) calibrateRXTIAs() error {
	reg1eb, err := d.peek(0x1EB)
	if err != nil {
		return err
	}
	reg1ec, err := d.peek(0x1EC)
	if err != nil {
		return err
	}
	reg1e6, err := d.peek(0x1E6)
	if err != nil {
		return err
	}
	reg1eb &= 0x3F
	reg1ec &= 0x7F
	reg1e6 &= 0x07

	bbbw := clamp(d.basebandBW/2.0, 0.20e6, 20e6)
	ceilBBBWMHz := math.Ceil(bbbw / 1e6)

	cbbf := int(reg1eb)*160 + int(reg1ec)*10 + 140
	r2346 := 18300 * int(reg1e6)
	ctiaFF := float64(cbbf) * float64(r2346) * 0.56 / 3500

	var reg1db uint8
	switch {
	case ceilBBBWMHz <= 3:
		reg1db = 0xE0
	case ceilBBBWMHz <= 10:
		reg1db = 0x60
	default:
		reg1db = 0x20
	}

	var reg1dc, reg1dd, reg1de, reg1df uint8
	if ctiaFF > 2920 {
		reg1dc = 0x40
		reg1de = 0x40
		temp := uint8(min(127, int(math.Floor(0.5+(ctiaFF-400.0)/320.0))))
		reg1dd = temp
		reg1df = temp
	} else {
		temp := uint8(math.Floor(0.5+(ctiaFF-400.0)/40.0)) + 0x40
		reg1dc = temp
		reg1de = temp
	}

	return d.pokeAll([]regWrite{
		{0x1DB, reg1db},
		{0x1DD, reg1dd},
		{0x1DF, reg1df},
		{0x1DC, reg1dc},
		{0x1DE, reg1de},
	})
}

// setupADC derives the forty ADC tuning registers from the current BBPLL
// and RX filter state. The calculation order is critical; several registers
// depend on values computed for earlier ones. Do not rearrange.
func (d *Device) setupADC() error {
	bbbwMHz := clamp((d.bbpllFreq/1e6/float64(d.rxBBFTuneDiv))*math.Ln2/(1.4*2*math.Pi), 0.20, 28)

	c3MSB, err := d.peek(0x1EB)
	if err != nil {
		return err
	}
	c3LSB, err := d.peek(0x1EC)
	if err != nil {
		return err
	}
	r2346, err := d.peek(0x1E6)
	if err != nil {
		return err
	}
	c3MSB &= 0x3F
	c3LSB &= 0x7F
	r2346 &= 0x07

	fsadc := d.adcClockFreq / 1e6

	rcTimeConst := 1 / ((1.4 * 2 * math.Pi) *
		(18300 * float64(r2346)) *
		((160e-15 * float64(c3MSB)) + (10e-15 * float64(c3LSB)) + 140e-15) *
		(bbbwMHz * 1e6))
	if bbbwMHz >= 18 {
		rcTimeConst /= 1 + 0.01*(bbbwMHz-18)
	}

	scaleRes := math.Sqrt(1 / rcTimeConst)
	scaleCap := math.Sqrt(1 / rcTimeConst)
	scaleSNR := 1.0
	if d.adcClockFreq >= 80e6 {
		scaleSNR = 1.584893192
	}
	maxSNR := 640.0 / 160.0

	sqrtTerm := math.Min(1.0, math.Sqrt(maxSNR*fsadc/640.0))
	invSNRTerm := 0.98 + 0.02*math.Max(1.0, (640.0/fsadc)/maxSNR)

	var data [40]uint8
	data[3] = 0x24
	data[4] = 0x24
	data[7] = minU8(124, math.Floor(-0.5+80.0*scaleSNR*scaleRes*sqrtTerm))
	d7 := float64(data[7])
	data[8] = minU8(255, math.Floor(0.5+20.0*(640.0/fsadc)*(d7/80.0)/(scaleRes*scaleCap)))
	data[10] = minU8(127, math.Floor(-0.5+77.0*scaleRes*sqrtTerm))
	d10 := float64(data[10])
	data[9] = minU8(127, math.Floor(0.8*d10))
	data[11] = minU8(255, math.Floor(0.5+20.0*(640.0/fsadc)*(d10/77.0)/(scaleRes*scaleCap)))
	data[12] = minU8(127, math.Floor(-0.5+80.0*scaleRes*sqrtTerm))
	d12 := float64(data[12])
	data[13] = minU8(255, math.Floor(-1.5+20.0*(640.0/fsadc)*(d12/80.0)/(scaleRes*scaleCap)))
	data[14] = 21 * uint8(math.Floor(0.1*640.0/fsadc))
	data[15] = minU8(127, 1.025*d7)
	d15 := float64(data[15])
	data[16] = minU8(127, math.Floor(d15*invSNRTerm))
	data[17] = data[15]
	data[18] = minU8(127, 0.975*d10)
	d18 := float64(data[18])
	data[19] = minU8(127, math.Floor(d18*invSNRTerm))
	data[20] = data[18]
	data[21] = minU8(127, 0.975*d12)
	d21 := float64(data[21])
	data[22] = minU8(127, math.Floor(d21*invSNRTerm))
	data[23] = data[21]
	data[24] = 0x2E
	data[25] = uint8(math.Floor(128.0 + math.Min(63.0, 63.0*(fsadc/640.0))))
	data[26] = uint8(math.Floor(math.Min(63.0, 63.0*(fsadc/640.0)*(0.92+0.08*(640.0/fsadc)))))
	data[27] = uint8(math.Floor(math.Min(63.0, 32.0*math.Sqrt(fsadc/640.0))))
	data[28] = data[25]
	data[29] = data[26]
	data[30] = data[27]
	data[31] = data[25]
	data[32] = data[26]
	data[33] = uint8(math.Floor(math.Min(63.0, 63.0*math.Sqrt(fsadc/640.0))))
	data[34] = minU8(127, math.Floor(64.0*math.Sqrt(fsadc/640.0)))
	data[35] = 0x40
	data[36] = 0x40
	data[37] = 0x2C

	for i, v := range data {
		if err := d.poke(0x200+uint16(i), v); err != nil {
			return err
		}
	}
	return nil
}

// calibrateBBDCOffset runs the baseband DC offset calibration. Also invoked
// from inside the TX quadrature routine.
func (d *Device) calibrateBBDCOffset() error {
	writes := []regWrite{
		{0x193, 0x3F}, // calibration settings
		{0x190, 0x0F}, // tracking coefficient
		{0x194, 0x01},
		{RegCalControl, calBBDCOffset},
	}
	if err := d.pokeAll(writes); err != nil {
		return err
	}
	return d.pollReg(RegCalControl, 5*time.Millisecond, 100, "baseband dc offset cal", bitClear(calBBDCOffset))
}

// calibrateRFDCOffset runs the RF DC offset calibration. Also invoked from
// inside the TX quadrature routine.
func (d *Device) calibrateRFDCOffset() error {
	// The offset count settings depend on the RX band.
	var writes []regWrite
	if d.rxFreq < 4e9 {
		writes = []regWrite{
			{0x186, 0x32}, // RF DC offset count
			{0x187, 0x24},
			{0x188, 0x05},
		}
	} else {
		writes = []regWrite{
			{0x186, 0x28}, // RF DC offset count
			{0x187, 0x34},
			{0x188, 0x06},
		}
	}
	writes = append(writes,
		regWrite{0x185, 0x20}, // RF DC offset wait count
		regWrite{0x18B, 0x83},
		regWrite{0x189, 0x30},
		regWrite{RegCalControl, calRFDCOffset},
	)
	if err := d.pokeAll(writes); err != nil {
		return err
	}
	return d.pollReg(RegCalControl, 50*time.Millisecond, 100, "rf dc offset cal", bitClear(calRFDCOffset))
}

// calibrateRXQuadrature starts the free-running RX quadrature tracking.
// There is nothing to poll; tracking continues during operation and only
// needs a restart after large frequency moves.
func (d *Device) calibrateRXQuadrature() error {
	return d.pokeAll([]regWrite{
		{0x168, 0x03}, // tone level for cal
		{0x16E, 0x25}, // RX gain index to use for cal
		{0x16A, 0x75}, // Kexp phase
		{0x16B, 0x15}, // Kexp amplitude
		{0x169, 0xCF}, // continuous tracking mode
		{0x18B, 0xAD},
	})
}

// txQuadratureCalRoutine runs one pass of the TX quadrature calibration.
// It is invoked twice, once per TX port, with a single register change in
// between.
func (d *Device) txQuadratureCalRoutine() error {
	// Move the calibrated NCO frequency bits from 0x0A3 into the RX NCO
	// field of 0x0A0, then re-read 0x0A3 and update only its TX NCO bits.
	reg0a3, err := d.peek(0x0A3)
	if err != nil {
		return err
	}
	ncoFreq := reg0a3 & 0xC0
	if err := d.poke(0x0A0, 0x15|(ncoFreq>>1)); err != nil {
		return err
	}
	reg0a3, err = d.peek(0x0A3)
	if err != nil {
		return err
	}
	if err := d.poke(0x0A3, (reg0a3&0x3F)|ncoFreq); err != nil {
		return err
	}

	// The two test tones have to land inside the RX baseband filter or
	// they never reach the ADC and the cal runs on noise.
	maxCalFreq := d.basebandBW * float64(d.tfirFactor) * (float64(ncoFreq>>6) + 1) / 32 * 2
	bbbw := clamp(d.basebandBW/2.0, 0.20e6, 28e6)
	if maxCalFreq >= bbbw {
		return fmt.Errorf("cal tone at %.0f Hz with filter at %.0f Hz: %w", maxCalFreq, bbbw, ErrQuadCalFreqRange)
	}

	writes := []regWrite{
		{0x0A1, 0x7B}, // tracking coefficient
		{0x0A9, 0xFF}, // cal count
		{0x0A2, 0x7F}, // cal Kexp
		{0x0A5, 0x01}, // cal magnitude threshold
		{0x0A6, 0x01},
	}
	// The cal gain table index is adjusted for the mid band so the TIA
	// index is 1 and the LPF index 0.
	if d.rxFreq >= 1300e6 && d.rxFreq < 4e9 {
		writes = append(writes, regWrite{0x0AA, 0x22})
	} else {
		writes = append(writes, regWrite{0x0AA, 0x25})
	}
	writes = append(writes,
		regWrite{0x0A4, 0xF0}, // cal settling count
		regWrite{0x0AE, 0x00}, // cal LPF gain index
	)
	if err := d.pokeAll(writes); err != nil {
		return err
	}

	// Both DC offset calibrations must complete before the quadrature cal
	// itself runs.
	if err := d.calibrateBBDCOffset(); err != nil {
		return err
	}
	if err := d.calibrateRFDCOffset(); err != nil {
		return err
	}

	if err := d.poke(RegCalControl, calTXQuad); err != nil {
		return err
	}
	return d.pollReg(RegCalControl, 10*time.Millisecond, 100, "tx quadrature cal", bitClear(calTXQuad))
}

// calibrateTXQuadrature calibrates TX quadrature for both TX ports. Must be
// called from the ALERT state.
func (d *Device) calibrateTXQuadrature() error {
	state, err := d.ensmState()
	if err != nil {
		return err
	}
	if state != ensmStateAlert {
		return fmt.Errorf("tx quadrature cal requires ALERT, state is 0x%X: %w", state, ErrWrongChipState)
	}

	// Turn off the free-running RX tracking; the RX routine re-enables it
	// at the end of the sequence.
	if err := d.poke(0x169, 0xC0); err != nil {
		return err
	}

	origInputSelect := d.regs.inputSelect

	// Port A pass.
	d.regs.inputSelect &= 0xBF
	if err := d.poke(RegInputSelect, d.regs.inputSelect); err != nil {
		return err
	}
	if err := d.txQuadratureCalRoutine(); err != nil {
		return err
	}

	// Port B pass.
	d.regs.inputSelect |= 0x40
	if err := d.poke(RegInputSelect, d.regs.inputSelect); err != nil {
		return err
	}
	if err := d.txQuadratureCalRoutine(); err != nil {
		return err
	}

	d.regs.inputSelect = origInputSelect
	return d.poke(RegInputSelect, origInputSelect)
}

// programMixerGMSubtable loads the fixed mixer GM table. The entries never
// change with frequency, but the load handshake must be repeated whenever
// the gain tables are reprogrammed.
func (d *Device) programMixerGMSubtable() error {
	gain := [16]uint8{0x78, 0x74, 0x70, 0x6C, 0x68, 0x64, 0x60, 0x5C,
		0x58, 0x54, 0x50, 0x4C, 0x48, 0x30, 0x18, 0x00}
	gm := [16]uint8{0x00, 0x0D, 0x15, 0x1B, 0x21, 0x25, 0x29, 0x2C,
		0x2F, 0x31, 0x33, 0x34, 0x35, 0x3A, 0x3D, 0x3E}

	// Start the table clock.
	if err := d.poke(0x13F, 0x02); err != nil {
		return err
	}

	for i := 15; i >= 0; i-- {
		writes := []regWrite{
			{0x138, uint8(i)},
			{0x139, gain[15-i]},
			{0x13A, 0x00},
			{0x13B, gm[15-i]},
			{0x13F, 0x06},
			{0x13C, 0x00},
			{0x13C, 0x00},
		}
		if err := d.pokeAll(writes); err != nil {
			return err
		}
	}

	// Clear the write bit and stop the clock.
	return d.pokeAll([]regWrite{
		{0x13F, 0x02},
		{0x13C, 0x00},
		{0x13C, 0x00},
		{0x13F, 0x00},
	})
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v > hi {
		return hi
	}
	if v < lo {
		return lo
	}
	return v
}

// minU8 converts a computed register value, capping it at limit. The float
// is truncated the same way the hardware tables were derived.
func minU8(limit uint8, v float64) uint8 {
	if v >= float64(limit) {
		return limit
	}
	if v <= 0 {
		return 0
	}
	return uint8(v)
}
