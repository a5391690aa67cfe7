package ad9361

import "time"

// programFIR loads a coefficient bank through the indirect programming
// window at the direction's base address. numTaps must be one of the
// supported bank lengths. Slots above the active length are cleared first
// in case they hold stale taps, then the bank is written slot by slot with
// the documented strobe handshake.
func (d *Device) programFIR(dir Direction, numTaps int) error {
	coeffs, err := d.tables.coeffsFor(numTaps)
	if err != nil {
		return err
	}

	base := rxFIRBase
	if dir == TX {
		base = txFIRBase
	}

	regNumTaps := (uint8((numTaps/16)-1) & 0x07) << 5

	// Turn on the filter clock.
	if err := d.poke(base+5, regNumTaps|0x1A); err != nil {
		return err
	}
	time.Sleep(1 * time.Millisecond)

	for addr := numTaps; addr < 128; addr++ {
		if err := d.writeFIRSlot(base, regNumTaps, uint8(addr), 0); err != nil {
			return err
		}
	}
	for addr := 0; addr < numTaps; addr++ {
		if err := d.writeFIRSlot(base, regNumTaps, uint8(addr), uint16(coeffs[addr])); err != nil {
			return err
		}
	}

	// Clear the write bit with the clock still running so it resets
	// internally before the clock stops, then stop the clock. The final
	// write also sets the -6 dB digital gain that keeps the filter from
	// overflowing.
	if err := d.poke(base+5, regNumTaps|0x1A); err != nil {
		return err
	}
	if dir == RX {
		if err := d.poke(base+5, regNumTaps|0x18); err != nil {
			return err
		}
		return d.poke(base+6, 0x02)
	}
	return d.poke(base+5, regNumTaps|0x19)
}

func (d *Device) writeFIRSlot(base uint16, regNumTaps, slot uint8, coeff uint16) error {
	return d.pokeAll([]regWrite{
		{base + 0, slot},
		{base + 1, uint8(coeff)},
		{base + 2, uint8(coeff >> 8)},
		{base + 5, regNumTaps | 0x1E},
		{base + 4, 0x00},
		{base + 4, 0x00},
	})
}
