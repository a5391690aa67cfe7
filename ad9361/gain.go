package ad9361

// maxTXGain is the TX gain with the attenuator fully open. Attenuation is
// programmed in quarter-dB steps down from here.
const maxTXGain = 89.75

// programGainTable loads the gain table for the current RX band. There are
// three tables for the three frequency ranges, and the chip only needs a
// reload when the band actually changes.
func (d *Device) programGainTable() error {
	rows, newTable, err := d.tables.gainTableFor(d.rxFreq)
	if err != nil {
		return err
	}

	if d.curGainTable == newTable {
		return nil
	}
	d.curGainTable = newTable

	// Start the gain table clock.
	if err := d.poke(0x137, 0x1A); err != nil {
		return err
	}

	var index uint8
	for ; index < gainTableRows; index++ {
		row := rows[index]
		writes := []regWrite{
			{0x130, index},
			{0x131, row.LMT},
			{0x132, row.LPF},
			{0x133, row.Digital},
			{0x137, 0x1E},
			{0x134, 0x00},
			{0x134, 0x00},
		}
		if err := d.pokeAll(writes); err != nil {
			return err
		}
	}

	// Everything above the last real row is zero.
	for ; index < 91; index++ {
		writes := []regWrite{
			{0x130, index},
			{0x131, 0x00},
			{0x132, 0x00},
			{0x133, 0x00},
			{0x137, 0x1E},
			{0x134, 0x00},
			{0x134, 0x00},
		}
		if err := d.pokeAll(writes); err != nil {
			return err
		}
	}

	// Clear the write bit and stop the gain clock.
	return d.pokeAll([]regWrite{
		{0x137, 0x1A},
		{0x134, 0x00},
		{0x134, 0x00},
		{0x137, 0x00},
	})
}

// setupGainControl programs manual gain control and its thresholds. Only
// needs to run once per bring-up.
func (d *Device) setupGainControl() error {
	return d.pokeAll([]regWrite{
		{0x0FA, 0xE0}, // gain control mode select
		{0x0FB, 0x08}, // table, digital gain, man gain ctrl
		{0x0FC, 0x23}, // incr step size, ADC overrange size
		{0x0FD, 0x4C}, // max full/LMT gain table index
		{0x0FE, 0x44}, // decr step size, peak overload time
		{0x100, 0x6F}, // max digital gain
		{0x104, 0x2F}, // ADC small overload threshold
		{0x105, 0x3A}, // ADC large overload threshold
		{0x107, 0x31}, // large LMT overload threshold
		{0x108, 0x39}, // small LMT overload threshold
		{RegRX1GainIndex, 0x23},
		{0x10A, 0x58}, // RX1 LPF gain index
		{0x10B, 0x00}, // RX1 digital gain index
		{RegRX2GainIndex, 0x23},
		{0x10D, 0x18}, // RX2 LPF gain index
		{0x10E, 0x00}, // RX2 digital gain index
		{0x114, 0x30}, // low power threshold
		{0x11A, 0x27}, // initial LMT gain limit
		{0x081, 0x00}, // TX symbol gain control
	})
}

// setGain programs the gain of one chain and returns the value actually
// achieved. RX gain selects a row in the loaded gain table; TX gain is
// expressed to the chip as attenuation below maxTXGain. The requested
// value is cached per chain so retunes and rate changes can reapply it.
// Callers hold the device lock.
func (d *Device) setGain(dir Direction, chain Chain, value float64) (float64, error) {
	if dir == RX {
		// Indexing the gain table requires a band-dependent offset from
		// the requested total gain in dB.
		var gainOffset int
		switch {
		case d.rxFreq < 1300e6:
			gainOffset = 5
		case d.rxFreq < 4000e6:
			gainOffset = 3
		default:
			gainOffset = 14
		}

		gainIndex := int(value + float64(gainOffset))
		if gainIndex > 76 {
			gainIndex = 76
		}
		if gainIndex < 0 {
			gainIndex = 0
		}

		if chain == Chain1 {
			d.rx1Gain = value
			if err := d.poke(RegRX1GainIndex, uint8(gainIndex)); err != nil {
				return 0, err
			}
		} else {
			d.rx2Gain = value
			if err := d.poke(RegRX2GainIndex, uint8(gainIndex)); err != nil {
				return 0, err
			}
		}
		return float64(gainIndex - gainOffset), nil
	}

	// Have attenuation word changes take effect immediately.
	if err := d.poke(0x077, 0x40); err != nil {
		return 0, err
	}
	if err := d.poke(0x07C, 0x40); err != nil {
		return 0, err
	}

	attenReg := int((maxTXGain - value) * 4)
	if chain == Chain1 {
		d.tx1Gain = value
		if err := d.poke(RegTX1AttenLSB, uint8(attenReg)); err != nil {
			return 0, err
		}
		if err := d.poke(RegTX1AttenMSB, uint8(attenReg>>8)&0x01); err != nil {
			return 0, err
		}
	} else {
		d.tx2Gain = value
		if err := d.poke(RegTX2AttenLSB, uint8(attenReg)); err != nil {
			return 0, err
		}
		if err := d.poke(RegTX2AttenMSB, uint8(attenReg>>8)&0x01); err != nil {
			return 0, err
		}
	}
	return maxTXGain - float64(attenReg)/4, nil
}

// reprogramGains rewrites the cached gain of every chain. Needed after
// anything that invalidates the programmed values, like a retune to a new
// gain table band or a clock rate change.
func (d *Device) reprogramGains() error {
	if _, err := d.setGain(RX, Chain1, d.rx1Gain); err != nil {
		return err
	}
	if _, err := d.setGain(RX, Chain2, d.rx2Gain); err != nil {
		return err
	}
	if _, err := d.setGain(TX, Chain1, d.tx1Gain); err != nil {
		return err
	}
	if _, err := d.setGain(TX, Chain2, d.tx2Gain); err != nil {
		return err
	}
	return nil
}
