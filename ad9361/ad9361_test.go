package ad9361

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"
)

// fakeChip implements RegisterIO against a register map that mimics the
// parts of the chip the driver reads back: ENSM transitions driven by
// control register writes, lock and cal-done status bits, and the RC
// readbacks the TIA calibration consumes. Status reads report success
// unless a test arms one of the failure knobs.
type fakeChip struct {
	regs   map[uint16]uint8
	writes []regWrite

	ensm uint8

	stickyCal  uint8  // cal run bits that never self-clear
	failPoke   uint16 // writes to this address fail when nonzero
	rxPLLStuck bool
	txPLLStuck bool
}

func newFakeChip() *fakeChip {
	return &fakeChip{
		regs: map[uint16]uint8{
			// RX baseband filter RC readbacks, mid-range values.
			0x1EB: 0x1D,
			0x1EC: 0x36,
			0x1E6: 0x03,
			// Calibrated NCO frequency word.
			0x0A3: 0x00,
		},
	}
}

func (f *fakeChip) Poke(addr uint16, val uint8) error {
	if f.failPoke != 0 && addr == f.failPoke {
		return fmt.Errorf("spi write rejected")
	}
	f.writes = append(f.writes, regWrite{addr, val})
	f.regs[addr] = val
	if addr == RegENSMControl {
		switch val {
		case ensmCtrlSPIAlert, ensmCtrlToAlert:
			f.ensm = ensmStateAlert
		case ensmCtrlFDD:
			f.ensm = ensmStateFDD
		case ensmCtrlWait:
			f.ensm = 0x00
		}
	}
	return nil
}

func (f *fakeChip) Peek(addr uint16) (uint8, error) {
	switch addr {
	case RegState:
		return f.ensm, nil
	case RegBBPLLStatus:
		return calBBPLLLocked, nil
	case RegRXCPStatus, RegTXCPStatus:
		return calCPDone, nil
	case RegRXPLLStatus:
		if f.rxPLLStuck {
			return 0x00, nil
		}
		return calPLLLocked, nil
	case RegTXPLLStatus:
		if f.txPLLStuck {
			return 0x00, nil
		}
		return calPLLLocked, nil
	case RegCalControl:
		return f.stickyCal, nil
	}
	return f.regs[addr], nil
}

// lastWrite returns the most recent value written to addr.
func (f *fakeChip) lastWrite(addr uint16) (uint8, bool) {
	for i := len(f.writes) - 1; i >= 0; i-- {
		if f.writes[i].addr == addr {
			return f.writes[i].val, true
		}
	}
	return 0, false
}

// writesTo returns every value written to addr, in order.
func (f *fakeChip) writesTo(addr uint16) []uint8 {
	var vals []uint8
	for _, w := range f.writes {
		if w.addr == addr {
			vals = append(vals, w.val)
		}
	}
	return vals
}

func testBoard() BoardParams {
	return BoardParams{
		ClockingMode:     ClockingXTALN,
		DigitalInterface: InterfaceLVDS,
		Timing:           InterfaceTiming{RXClockDelay: 0, RXDataDelay: 5, TXClockDelay: 5, TXDataDelay: 0},
		RXBandEdges:      [2]float64{2.2e9, 4e9},
		TXBandEdge:       2.5e9,
	}
}

func testTables() *Tables {
	fir := func(n int) []int16 {
		taps := make([]int16, n)
		for i := range taps {
			taps[i] = int16(i - n/2)
		}
		return taps
	}
	synth := make([]SynthCalRow, synthCalRows)
	rate := 12.6e9
	for i := range synth {
		synth[i] = SynthCalRow{
			VCORate:     rate,
			OutputLevel: uint8(i % 16),
			Varactor:    0x0C,
			BiasRef:     0x05,
			BiasTCF:     0x02,
			CalOffset:   0x07,
			VaractorRef: 0x0E,
			ChargePump:  uint8(0x20 + i%16),
			LoopC2:      0x0F,
			LoopC1:      0x0C,
			LoopR1:      0x05,
			LoopC3:      0x0E,
			LoopR3:      0x03,
		}
		rate -= 130e6
	}
	gains := func(base uint8) []GainRow {
		rows := make([]GainRow, gainTableRows)
		for i := range rows {
			rows[i] = GainRow{LMT: base + uint8(i%32), LPF: uint8(i % 25)}
		}
		return rows
	}
	return &Tables{
		FIR:      FIRSets{Taps48: fir(48), Taps64: fir(64), Taps96: fir(96), Taps128: fir(128)},
		SynthCal: synth,
		Gain:     GainTables{Low: gains(0x20), Mid: gains(0x40), High: gains(0x60)},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDevice(t *testing.T) (*Device, *fakeChip) {
	t.Helper()
	chip := newFakeChip()
	dev, err := New(chip, testBoard(), testTables(), testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return dev, chip
}

func newInitializedDevice(t *testing.T) (*Device, *fakeChip) {
	t.Helper()
	dev, chip := newTestDevice(t)
	if err := dev.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return dev, chip
}

func TestNewValidation(t *testing.T) {
	tables := testTables()
	board := testBoard()
	log := testLogger()

	if _, err := New(nil, board, tables, log); err == nil {
		t.Error("expected error for nil transport")
	}
	if _, err := New(newFakeChip(), board, nil, log); err == nil {
		t.Error("expected error for nil tables")
	}

	badBoard := board
	badBoard.RXBandEdges = [2]float64{4e9, 2.2e9}
	if _, err := New(newFakeChip(), badBoard, tables, log); err == nil {
		t.Error("expected error for out-of-order band edges")
	}

	badTables := testTables()
	badTables.FIR.Taps64 = badTables.FIR.Taps64[:10]
	if _, err := New(newFakeChip(), board, badTables, log); err == nil {
		t.Error("expected error for truncated fir set")
	}
}

func TestInitializeBringUp(t *testing.T) {
	dev, chip := newTestDevice(t)
	if err := dev.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// 50 MHz default: divfactor 12 gives a 600 MHz ADC clock from a
	// 1.2 GHz BBPLL, which forces the halved DAC clock bit.
	if dev.bbpllFreq != 1.2e9 {
		t.Errorf("bbpll freq = %v, want 1.2e9", dev.bbpllFreq)
	}
	if dev.adcClockFreq != 600e6 {
		t.Errorf("adc clock = %v, want 600e6", dev.adcClockFreq)
	}
	if got, _ := chip.lastWrite(RegBBPLL); got != 0x09 {
		t.Errorf("bbpll register = 0x%02X, want 0x09", got)
	}

	// Both synthesizers parked, exact at these frequencies.
	if dev.rxFreq != 800e6 {
		t.Errorf("rx freq = %v, want 800e6", dev.rxFreq)
	}
	if dev.txFreq != 850e6 {
		t.Errorf("tx freq = %v, want 850e6", dev.txFreq)
	}

	// 800 MHz selects the low band gain table.
	if dev.curGainTable != 1 {
		t.Errorf("gain table = %d, want 1", dev.curGainTable)
	}

	// Ends in FDD with only the side A TX chain on.
	if chip.ensm != ensmStateFDD {
		t.Errorf("ensm state = 0x%X, want FDD", chip.ensm)
	}
	if got, _ := chip.lastWrite(RegTXFilterConfig); got&0xC0 != 0x40 {
		t.Errorf("tx chain enables = 0x%02X, want TX1 only", got&0xC0)
	}
	if got, _ := chip.lastWrite(RegRXFilterConfig); got&0xC0 != 0x00 {
		t.Errorf("rx chain enables = 0x%02X, want none", got&0xC0)
	}

	// The LVDS electrical block must have been programmed.
	if got, ok := chip.lastWrite(0x03C); !ok || got != 0x23 {
		t.Errorf("lvds config 0x03C = 0x%02X (ok=%v), want 0x23", got, ok)
	}

	// Interface timing nibbles packed into the delay registers.
	if got, _ := chip.lastWrite(0x006); got != 0x05 {
		t.Errorf("rx delays = 0x%02X, want 0x05", got)
	}
	if got, _ := chip.lastWrite(0x007); got != 0x50 {
		t.Errorf("tx delays = 0x%02X, want 0x50", got)
	}

	st, err := dev.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Initialized {
		t.Error("status should report initialized")
	}
	if st.ENSMState != ensmStateFDD {
		t.Errorf("status ensm = 0x%X, want FDD", st.ENSMState)
	}
}

func TestSetClockRate(t *testing.T) {
	dev, chip := newInitializedDevice(t)

	bw, err := dev.SetClockRate(10e6)
	if err != nil {
		t.Fatalf("SetClockRate: %v", err)
	}
	if bw != 10e6 {
		t.Errorf("baseband bw = %v, want 10e6", bw)
	}

	// 10 MHz: divfactor 16, BBPLL 1280 MHz / 8, ADC clock 160 MHz,
	// DAC clock not halved.
	if dev.adcClockFreq != 160e6 {
		t.Errorf("adc clock = %v, want 160e6", dev.adcClockFreq)
	}
	if got, _ := chip.lastWrite(RegBBPLL); got != 0x03 {
		t.Errorf("bbpll register = 0x%02X, want 0x03", got)
	}

	// Must return to FDD with the TX1-only chain selection restored.
	if chip.ensm != ensmStateFDD {
		t.Errorf("ensm state = 0x%X, want FDD", chip.ensm)
	}
	if got, _ := chip.lastWrite(RegTXFilterConfig); got != 0x5E {
		t.Errorf("tx filter = 0x%02X, want 0x5E", got)
	}
	if got, _ := chip.lastWrite(RegRXFilterConfig); got != 0x1E {
		t.Errorf("rx filter = 0x%02X, want 0x1E", got)
	}

	// The synthesizers must still be where they were parked.
	if dev.rxFreq != 800e6 || dev.txFreq != 850e6 {
		t.Errorf("lo freqs = %v/%v, want 800e6/850e6", dev.rxFreq, dev.txFreq)
	}
}

func TestSetClockRateDedupe(t *testing.T) {
	dev, chip := newInitializedDevice(t)

	if _, err := dev.SetClockRate(10e6); err != nil {
		t.Fatalf("SetClockRate: %v", err)
	}
	before := len(chip.writes)

	// Same rate within a hertz: answered from cache.
	bw, err := dev.SetClockRate(10e6 + 0.4)
	if err != nil {
		t.Fatalf("SetClockRate dedupe: %v", err)
	}
	if bw != 10e6 {
		t.Errorf("cached bw = %v, want 10e6", bw)
	}
	if len(chip.writes) != before {
		t.Errorf("dedupe still wrote %d registers", len(chip.writes)-before)
	}
}

func TestSetClockRateRejectsOutOfRange(t *testing.T) {
	dev, chip := newInitializedDevice(t)
	before := len(chip.writes)

	_, err := dev.SetClockRate(62e6)
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
	if len(chip.writes) != before {
		t.Error("failed request must not touch the chip")
	}
}

func TestTune(t *testing.T) {
	dev, chip := newInitializedDevice(t)

	got, err := dev.Tune(RX, 2.4e9)
	if err != nil {
		t.Fatalf("Tune: %v", err)
	}
	// 2.4 GHz divides evenly into the RFPLL: VCO 9.6 GHz, divider 4.
	if got != 2.4e9 {
		t.Errorf("tuned = %v, want exactly 2.4e9", got)
	}

	// Band change from low to mid must swap the gain table.
	if dev.curGainTable != 2 {
		t.Errorf("gain table = %d, want 2", dev.curGainTable)
	}

	// Mid band input select bits.
	if got, _ := chip.lastWrite(RegInputSelect); got&0x3F != 0x0C {
		t.Errorf("input select = 0x%02X, want mid band bits 0x0C", got)
	}

	// Streaming resumed after the tune.
	if chip.ensm != ensmStateFDD {
		t.Errorf("ensm state = 0x%X, want FDD", chip.ensm)
	}

	// TX side must be untouched.
	if dev.txFreq != 850e6 {
		t.Errorf("tx freq = %v, want 850e6", dev.txFreq)
	}
}

// TestOperatingSequence walks the normal operating flow end to end:
// bring-up, rate change, retune into a new band, gain set. Everything the
// later steps depend on must survive the earlier ones.
func TestOperatingSequence(t *testing.T) {
	dev, _ := newInitializedDevice(t)

	bw, err := dev.SetClockRate(10e6)
	if err != nil {
		t.Fatalf("SetClockRate: %v", err)
	}
	if bw != 10e6 {
		t.Errorf("baseband bw = %v, want 10e6", bw)
	}

	got, err := dev.Tune(RX, 2.4e9)
	if err != nil {
		t.Fatalf("Tune: %v", err)
	}
	if math.Abs(got-2.4e9) >= 1.0 {
		t.Errorf("tuned = %v, want within 1 Hz of 2.4e9", got)
	}

	gain, err := dev.SetGain(RX, Chain1, 30)
	if err != nil {
		t.Fatalf("SetGain: %v", err)
	}
	if gain != 30 {
		t.Errorf("gain = %v, want 30", gain)
	}

	st, err := dev.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.GainTable != 2 {
		t.Errorf("resident gain table = %d, want mid band (2)", st.GainTable)
	}
	if st.RXFreq != got || st.ClockRate != 10e6 || st.RX1Gain != 30 {
		t.Errorf("status = %+v, want rx %v, rate 10e6, rx1 gain 30", st, got)
	}
}

func TestTuneDedupe(t *testing.T) {
	dev, chip := newInitializedDevice(t)

	first, err := dev.Tune(RX, 2.4e9)
	if err != nil {
		t.Fatalf("Tune: %v", err)
	}
	before := len(chip.writes)

	second, err := dev.Tune(RX, 2.4e9+0.2)
	if err != nil {
		t.Fatalf("Tune dedupe: %v", err)
	}
	if second != first {
		t.Errorf("cached tune = %v, want %v", second, first)
	}
	if len(chip.writes) != before {
		t.Errorf("dedupe still wrote %d registers", len(chip.writes)-before)
	}

	// The other direction is deduped independently.
	if _, err := dev.Tune(TX, 2.3e9); err != nil {
		t.Fatalf("Tune TX: %v", err)
	}
	if len(chip.writes) == before {
		t.Error("tx tune should have written registers")
	}
}

func TestTuneUnlockedPLL(t *testing.T) {
	dev, chip := newInitializedDevice(t)
	chip.rxPLLStuck = true

	_, err := dev.Tune(RX, 2.4e9)
	if !errors.Is(err, ErrPLLNotLocked) {
		t.Fatalf("err = %v, want ErrPLLNotLocked", err)
	}
}

func TestNotInitializedGuards(t *testing.T) {
	dev, _ := newTestDevice(t)

	cases := []struct {
		name string
		call func() error
	}{
		{"SetClockRate", func() error { _, err := dev.SetClockRate(10e6); return err }},
		{"Tune", func() error { _, err := dev.Tune(RX, 2.4e9); return err }},
		{"SetGain", func() error { _, err := dev.SetGain(RX, Chain1, 30); return err }},
		{"SetActiveChains", func() error { return dev.SetActiveChains(true, true, true, true) }},
		{"OutputTestTone", func() error { return dev.OutputTestTone() }},
		{"DataPortLoopback", func() error { return dev.DataPortLoopback(true) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !errors.Is(err, ErrNotInitialized) {
				t.Errorf("err = %v, want ErrNotInitialized", err)
			}
		})
	}
}

func TestSetActiveChains(t *testing.T) {
	dev, chip := newInitializedDevice(t)

	if err := dev.SetActiveChains(true, true, true, false); err != nil {
		t.Fatalf("SetActiveChains: %v", err)
	}

	if got, _ := chip.lastWrite(RegTXFilterConfig); got&0xC0 != 0xC0 {
		t.Errorf("tx chains = 0x%02X, want both", got&0xC0)
	}
	if got, _ := chip.lastWrite(RegRXFilterConfig); got&0xC0 != 0x40 {
		t.Errorf("rx chains = 0x%02X, want RX1 only", got&0xC0)
	}

	// Started in FDD, so it must flush out and come back.
	if chip.ensm != ensmStateFDD {
		t.Errorf("ensm state = 0x%X, want FDD restored", chip.ensm)
	}

	// The filter words keep the band plan bits below the chain enables.
	if got, _ := chip.lastWrite(RegTXFilterConfig); got&0x3F != 0x22 {
		t.Errorf("tx filter plan bits = 0x%02X, want 0x22", got&0x3F)
	}
}

func TestOutputTestTone(t *testing.T) {
	dev, chip := newInitializedDevice(t)

	if err := dev.OutputTestTone(); err != nil {
		t.Fatalf("OutputTestTone: %v", err)
	}
	want := []regWrite{
		{0x3F4, 0x0B},
		{0x3FC, 0xFF},
		{0x3FD, 0xFF},
		{0x3FE, 0x3F},
	}
	tail := chip.writes[len(chip.writes)-len(want):]
	for i, w := range want {
		if tail[i] != w {
			t.Errorf("write %d = %03X=%02X, want %03X=%02X", i, tail[i].addr, tail[i].val, w.addr, w.val)
		}
	}
}

func TestDataPortLoopback(t *testing.T) {
	dev, chip := newInitializedDevice(t)

	if err := dev.DataPortLoopback(true); err != nil {
		t.Fatalf("DataPortLoopback: %v", err)
	}
	if got, _ := chip.lastWrite(0x3F5); got != 0x01 {
		t.Errorf("loopback reg = 0x%02X, want 0x01", got)
	}

	if err := dev.DataPortLoopback(false); err != nil {
		t.Fatalf("DataPortLoopback off: %v", err)
	}
	if got, _ := chip.lastWrite(0x3F5); got != 0x00 {
		t.Errorf("loopback reg = 0x%02X, want 0x00", got)
	}
}

func TestRegisterAccessBeforeInitialize(t *testing.T) {
	dev, chip := newTestDevice(t)

	if err := dev.PokeRegister(0x3D0, 0xAA); err != nil {
		t.Fatalf("PokeRegister: %v", err)
	}
	got, err := dev.PeekRegister(0x3D0)
	if err != nil {
		t.Fatalf("PeekRegister: %v", err)
	}
	if got != 0xAA {
		t.Errorf("readback = 0x%02X, want 0xAA", got)
	}
	if len(chip.writes) != 1 {
		t.Errorf("writes = %d, want 1", len(chip.writes))
	}
}

func TestStatusBeforeInitialize(t *testing.T) {
	dev, _ := newTestDevice(t)

	st, err := dev.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Initialized {
		t.Error("uninitialized device reported initialized")
	}
	if st.RXFreq != 0 || st.ClockRate != 0 {
		t.Errorf("uninitialized status carries state: %+v", st)
	}
}

func TestFreqIsNearlyEqual(t *testing.T) {
	cases := []struct {
		a, b float64
		want bool
	}{
		{2.4e9, 2.4e9, true},
		{2.4e9, 2.4e9 + 0.999, true},
		{2.4e9, 2.4e9 + 1.0, false},
		{0, 0.5, true},
		{10e6, 10.1e6, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%v_%v", tc.a, tc.b), func(t *testing.T) {
			if got := freqIsNearlyEqual(tc.a, tc.b); got != tc.want {
				t.Errorf("freqIsNearlyEqual(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}
