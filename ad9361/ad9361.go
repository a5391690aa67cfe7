// Package ad9361 drives an AD9361 RF transceiver over a register-level
// transport, usually SPI. It owns the full bring-up: BBPLL and converter
// clock configuration, FIR programming, fractional-N RF synthesizer tuning,
// the calibration sequence, and banded gain control.
//
// The chip's enable state machine (ENSM) gates most of this. Calibrations
// only run from the ALERT state, streaming happens in FDD, and clock
// changes require dropping to the wait state first. The public methods
// handle those transitions themselves; callers just ask for rates,
// frequencies, and gains.
package ad9361

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// RegisterIO is the register-level transport the driver runs on. Both
// calls address the chip's 12-bit SPI register map.
type RegisterIO interface {
	Peek(addr uint16) (uint8, error)
	Poke(addr uint16, value uint8) error
}

// Direction selects the receive or transmit half of the chip.
type Direction int

const (
	RX Direction = iota
	TX
)

func (dir Direction) String() string {
	if dir == RX {
		return "rx"
	}
	return "tx"
}

// Chain selects one of the two signal chains per direction. Chain1 is
// side A, Chain2 is side B.
type Chain int

const (
	Chain1 Chain = iota + 1
	Chain2
)

// ClockingMode selects which crystal path feeds the reference clock.
type ClockingMode int

const (
	ClockingXTALN ClockingMode = iota // reference on XTALN, DCXO path
	ClockingXTALP                     // reference on XTALP
)

func (m ClockingMode) String() string {
	if m == ClockingXTALN {
		return "xtal_n"
	}
	return "xtal_p"
}

// DigitalInterfaceMode selects the electrical standard of the data port.
// Both modes run dual port DDR FDD with TX forced onto one port and RX
// onto the other.
type DigitalInterfaceMode int

const (
	InterfaceLVCMOS DigitalInterfaceMode = iota
	InterfaceLVDS
)

func (m DigitalInterfaceMode) String() string {
	if m == InterfaceLVCMOS {
		return "lvcmos"
	}
	return "lvds"
}

// InterfaceTiming holds the data port clock and data delays, in the
// chip's quarter-nanosecond units. Each value is a 4-bit field.
type InterfaceTiming struct {
	RXClockDelay uint8
	RXDataDelay  uint8
	TXClockDelay uint8
	TXDataDelay  uint8
}

// BoardParams describes how the chip is wired on a particular board:
// which clock input is driven, how the data port is connected, and where
// the RF front end's band switch points sit.
type BoardParams struct {
	ClockingMode     ClockingMode
	DigitalInterface DigitalInterfaceMode
	Timing           InterfaceTiming

	// RXBandEdges are the two RX front end switch frequencies in Hz,
	// low/mid edge first. TXBandEdge is the single TX switch frequency.
	RXBandEdges [2]float64
	TXBandEdge  float64
}

// Validate checks the board description for values the driver cannot
// work with.
func (b *BoardParams) Validate() error {
	if b.RXBandEdges[0] <= 0 || b.RXBandEdges[1] <= 0 {
		return fmt.Errorf("rx band edges must be positive: %v", b.RXBandEdges)
	}
	if b.RXBandEdges[0] >= b.RXBandEdges[1] {
		return fmt.Errorf("rx band edges out of order: %v", b.RXBandEdges)
	}
	if b.TXBandEdge <= 0 {
		return fmt.Errorf("tx band edge must be positive: %v", b.TXBandEdge)
	}
	for _, t := range []uint8{b.Timing.RXClockDelay, b.Timing.RXDataDelay, b.Timing.TXClockDelay, b.Timing.TXDataDelay} {
		if t > 0x0F {
			return fmt.Errorf("interface timing value %d exceeds 4-bit field", t)
		}
	}
	return nil
}

// DeviceStatus is a snapshot of the driver's view of the chip.
type DeviceStatus struct {
	Initialized  bool    `json:"initialized"`
	ENSMState    uint8   `json:"ensm_state"`
	ClockRate    float64 `json:"clock_rate"`
	BasebandBW   float64 `json:"baseband_bw"`
	BBPLLFreq    float64 `json:"bbpll_freq"`
	ADCClockFreq float64 `json:"adc_clock_freq"`
	RXFreq       float64 `json:"rx_freq"`
	TXFreq       float64 `json:"tx_freq"`
	RX1Gain      float64 `json:"rx1_gain"`
	RX2Gain      float64 `json:"rx2_gain"`
	TX1Gain      float64 `json:"tx1_gain"`
	TX2Gain      float64 `json:"tx2_gain"`
	GainTable    uint8   `json:"gain_table"`
}

// Device is the driver state for one chip. All exported methods are safe
// for concurrent use; register sequences never interleave.
type Device struct {
	mu     sync.Mutex
	io     RegisterIO
	board  BoardParams
	tables *Tables
	log    *slog.Logger

	initialized bool
	regs        shadowRegs

	// Requested values, kept for dedupe. The chip never achieves these
	// exactly; the actual fields below hold what it did achieve.
	reqClockRate float64
	reqCoreClock float64
	reqRXFreq    float64
	reqTXFreq    float64

	rxFreq       float64
	txFreq       float64
	basebandBW   float64
	bbpllFreq    float64
	adcClockFreq float64

	rxBBFTuneDiv uint16
	curGainTable uint8
	tfirFactor   int

	rx1Gain float64
	rx2Gain float64
	tx1Gain float64
	tx2Gain float64
}

// New wires up a driver instance. The tables are validated here so that a
// bad coefficient file fails at startup, not mid-calibration. Initialize
// must be called before anything else except the raw register accessors.
func New(io RegisterIO, board BoardParams, tables *Tables, log *slog.Logger) (*Device, error) {
	if io == nil {
		return nil, fmt.Errorf("register transport is required")
	}
	if err := board.Validate(); err != nil {
		return nil, fmt.Errorf("invalid board parameters: %w", err)
	}
	if tables == nil {
		return nil, fmt.Errorf("calibration tables are required")
	}
	if err := tables.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calibration tables: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Device{
		io:     io,
		board:  board,
		tables: tables,
		log:    log,
	}, nil
}

// regWrite is one register write in a scripted sequence.
type regWrite struct {
	addr uint16
	val  uint8
}

func (d *Device) poke(addr uint16, val uint8) error {
	if err := d.io.Poke(addr, val); err != nil {
		return fmt.Errorf("failed to write register 0x%03X: %w", addr, err)
	}
	return nil
}

func (d *Device) peek(addr uint16) (uint8, error) {
	val, err := d.io.Peek(addr)
	if err != nil {
		return 0, fmt.Errorf("failed to read register 0x%03X: %w", addr, err)
	}
	return val, nil
}

func (d *Device) pokeAll(writes []regWrite) error {
	for _, w := range writes {
		if err := d.poke(w.addr, w.val); err != nil {
			return err
		}
	}
	return nil
}

// ensmState reads the current ENSM state from the low nibble of the state
// register.
func (d *Device) ensmState() (uint8, error) {
	state, err := d.peek(RegState)
	if err != nil {
		return 0, err
	}
	return state & 0x0F, nil
}

// freqIsNearlyEqual treats frequencies within 1 Hz as the same request.
// Callers hammer the driver with repeated identical settings during
// startup, and retuning for a sub-Hz delta costs a full calibration pass.
func freqIsNearlyEqual(a, b float64) bool {
	return math.Max(a, b)-math.Min(a, b) < 1
}

// Initialize resets the chip and runs the complete bring-up: reference
// and converter clocks, FIR filters, both synthesizers, and every
// calibration. The chip is left in the FDD state with TX1 active and a
// 50 MHz clock, ready for SetClockRate and Tune.
//
// The register sequence below follows the vendor bring-up order. Several
// of the calibrations consume state left by earlier steps, so the order
// is not negotiable.
func (d *Device) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.regs.reset()
	d.rxFreq = 0
	d.txFreq = 0
	d.reqRXFreq = 0
	d.reqTXFreq = 0
	d.basebandBW = 0
	d.reqClockRate = 0
	d.reqCoreClock = 0
	d.bbpllFreq = 0
	d.adcClockFreq = 0
	d.rxBBFTuneDiv = 0
	d.curGainTable = 0
	d.rx1Gain = 0
	d.rx2Gain = 0
	d.tx1Gain = 0
	d.tx2Gain = 0
	d.initialized = false

	d.log.Info("initializing transceiver",
		"clocking", d.board.ClockingMode,
		"interface", d.board.DigitalInterface)

	// Soft reset.
	if err := d.poke(RegSPIConfig, 0x01); err != nil {
		return err
	}
	if err := d.poke(RegSPIConfig, 0x00); err != nil {
		return err
	}
	time.Sleep(20 * time.Millisecond)

	// Undocumented, required before anything else in the bring-up.
	if err := d.poke(0x3DF, 0x01); err != nil {
		return err
	}

	preamble := []regWrite{
		{0x2A6, 0x0E}, // enable master bias
		{0x2A8, 0x0E}, // set bandgap trim
		// RFPLL reference scale to REFCLK * 2.
		{0x2AB, 0x07},
		{0x2AC, 0xFF},
	}
	if err := d.pokeAll(preamble); err != nil {
		return err
	}

	// Enable clocks.
	switch d.board.ClockingMode {
	case ClockingXTALN:
		if err := d.poke(0x009, 0x17); err != nil {
			return err
		}
	case ClockingXTALP:
		writes := []regWrite{
			{0x009, 0x07},
			{0x292, 0x08},
			{0x293, 0x80},
			{0x294, 0x00},
			{0x295, 0x14},
		}
		if err := d.pokeAll(writes); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported clocking mode %d", d.board.ClockingMode)
	}
	time.Sleep(20 * time.Millisecond)

	// Tune the BBPLL and program the FIRs at the default rate.
	if _, err := d.setupRates(50e6); err != nil {
		return err
	}

	// Data port configuration, FDD dual port DDR. TX is forced onto one
	// port, RX onto the other.
	switch d.board.DigitalInterface {
	case InterfaceLVCMOS:
		writes := []regWrite{
			{0x010, 0xC8},
			{0x011, 0x00},
			{RegPortConfig, 0x02},
		}
		if err := d.pokeAll(writes); err != nil {
			return err
		}
	case InterfaceLVDS:
		writes := []regWrite{
			{0x010, 0xCC},
			{0x011, 0x00},
			{RegPortConfig, 0x10},
			// LVDS electrical settings.
			{0x03C, 0x23},
			{0x03D, 0xFF},
			{0x03E, 0x0F},
		}
		if err := d.pokeAll(writes); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported digital interface mode %d", d.board.DigitalInterface)
	}

	// Data clock delays from the board description.
	rxDelays := ((d.board.Timing.RXClockDelay & 0x0F) << 4) | (d.board.Timing.RXDataDelay & 0x0F)
	txDelays := ((d.board.Timing.TXClockDelay & 0x0F) << 4) | (d.board.Timing.TXDataDelay & 0x0F)
	if err := d.poke(0x006, rxDelays); err != nil {
		return err
	}
	if err := d.poke(0x007, txDelays); err != nil {
		return err
	}

	auxAndGPO := []regWrite{
		// AuxDAC off, manual control.
		{0x018, 0x00}, // AuxDAC1 word [9:2]
		{0x019, 0x00}, // AuxDAC2 word [9:2]
		{0x01A, 0x00}, // AuxDAC1 config and word [1:0]
		{0x01B, 0x00}, // AuxDAC2 config and word [1:0]
		{0x022, 0x4A}, // invert bypassed LNA
		{0x023, 0xFF}, // AuxDAC manual/auto control
		{0x026, 0x00}, // AuxDAC manual select / GPO manual select
		{0x030, 0x00}, // AuxDAC1 RX delay
		{0x031, 0x00}, // AuxDAC1 TX delay
		{0x032, 0x00}, // AuxDAC2 RX delay
		{0x033, 0x00}, // AuxDAC2 TX delay

		// AuxADC temperature sensor.
		{0x00B, 0x00}, // temp sensor offset
		{0x00C, 0x00}, // temp sensor window
		{0x00D, 0x03}, // periodic measurement
		{0x00F, 0x04}, // decimation
		{0x01C, 0x10}, // AuxADC clock divider
		{0x01D, 0x01}, // AuxADC decimation/enable

		// Control outputs.
		{0x035, 0x07},
		{0x036, 0xFF},

		// GPO: four outputs, all enabled, no delays.
		{0x03A, 0x27},
		{0x020, 0x00}, // GPO auto enable in RX and TX
		{0x027, 0x03}, // GPO manual/auto value in ALERT
		{0x028, 0x00}, // GPO_0 RX delay
		{0x029, 0x00}, // GPO_1 RX delay
		{0x02A, 0x00}, // GPO_2 RX delay
		{0x02B, 0x00}, // GPO_3 RX delay
		{0x02C, 0x00}, // GPO_0 TX delay
		{0x02D, 0x00}, // GPO_1 TX delay
		{0x02E, 0x00}, // GPO_2 TX delay
		{0x02F, 0x00}, // GPO_3 TX delay
	}
	if err := d.pokeAll(auxAndGPO); err != nil {
		return err
	}

	synthDefaults := []regWrite{
		{0x261, 0x00}, // RX LO power
		{0x2A1, 0x00}, // TX LO power
		{0x248, 0x0B}, // enable RX VCO LDO
		{0x288, 0x0B}, // enable TX VCO LDO
		{0x246, 0x02}, // power down RX cal Tcf
		{0x286, 0x02}, // power down TX cal Tcf
		{0x249, 0x8E}, // RX VCO cal length
		{0x289, 0x8E}, // TX VCO cal length
		{0x23B, 0x80}, // RX charge pump defaults before LUT programming
		{0x27B, 0x80}, // TX charge pump defaults before LUT programming
		{0x243, 0x0D}, // RX prescaler bias
		{0x283, 0x0D}, // TX prescaler bias
		{0x23D, 0x00}, // clear half VCO cal clock
		{0x27D, 0x00}, // clear half VCO cal clock
	}
	if err := d.pokeAll(synthDefaults); err != nil {
		return err
	}

	// Bring the ENSM up into ALERT under SPI control and calibrate.
	ensmUp := []regWrite{
		{RegENSMConfig, 0x04},              // dual synth mode, synth enable control
		{RegENSMControl, ensmCtrlSPIAlert}, // SPI TXNRX control, to ALERT, TX on
		{RegENSMFDDMode, 0x01},             // enable ENSM
	}
	if err := d.pokeAll(ensmUp); err != nil {
		return err
	}
	time.Sleep(time.Millisecond)

	if err := d.calibrateSynthChargePumps(); err != nil {
		return err
	}

	// Park both synthesizers at known frequencies so every calibration
	// below has a live LO to work against.
	if _, err := d.tuneRFPLL(RX, 800e6); err != nil {
		return err
	}
	if _, err := d.tuneRFPLL(TX, 850e6); err != nil {
		return err
	}

	if err := d.runCalibrationSequence(false); err != nil {
		return err
	}

	// Calibrations done, restore the parallel port config they clobber.
	if err := d.restorePortConfig(); err != nil {
		return err
	}
	if err := d.poke(RegENSMFDDMode, 0x01); err != nil {
		return err
	}
	if err := d.poke(RegENSMConfig, 0x04); err != nil {
		return err
	}

	postCal := []regWrite{
		// Zero attenuation on both TX chains.
		{RegTX1AttenLSB, 0x00},
		{RegTX1AttenMSB, 0x00},
		{RegTX2AttenLSB, 0x00},
		{RegTX2AttenMSB, 0x00},

		// RSSI measurement setup.
		{0x150, 0x0E}, // measurement duration 0, 1
		{0x151, 0x00}, // measurement duration 2, 3
		{0x152, 0xFF}, // weighted multiplier 0
		{0x153, 0x00}, // weighted multiplier 1
		{0x154, 0x00}, // weighted multiplier 2
		{0x155, 0x00}, // weighted multiplier 3
		{0x156, 0x00}, // delay
		{0x157, 0x00}, // wait
		{0x158, 0x0D}, // mode select
		{0x15C, 0x67}, // power measurement duration
	}
	if err := d.pokeAll(postCal); err != nil {
		return err
	}

	// Default to the side A TX chain, then enter FDD.
	if err := d.setActiveChains(true, false, false, false); err != nil {
		return err
	}
	if err := d.poke(RegENSMControl, ensmCtrlFDD); err != nil {
		return err
	}

	d.initialized = true
	d.log.Info("transceiver initialized",
		"bbpll", d.bbpllFreq,
		"adc_clock", d.adcClockFreq,
		"rx_freq", d.rxFreq,
		"tx_freq", d.txFreq)
	return nil
}

// restorePortConfig rewrites the parallel port duplex configuration for
// the board's interface mode.
func (d *Device) restorePortConfig() error {
	switch d.board.DigitalInterface {
	case InterfaceLVCMOS:
		return d.poke(RegPortConfig, 0x02)
	case InterfaceLVDS:
		return d.poke(RegPortConfig, 0x10)
	default:
		return fmt.Errorf("unsupported digital interface mode %d", d.board.DigitalInterface)
	}
}

// SetClockRate changes the data clock rate between the chip and the FPGA
// and re-runs every calibration that depends on it. Returns the achieved
// baseband bandwidth. Requests within 1 Hz of the previous one are
// answered from cache without touching the chip.
func (d *Device) SetClockRate(rate float64) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return 0, ErrNotInitialized
	}
	if rate > 61.44e6 {
		return 0, fmt.Errorf("clock rate %.0f Hz above 61.44 MHz limit: %w", rate, ErrOutOfRange)
	}
	if freqIsNearlyEqual(rate, d.reqClockRate) {
		return d.basebandBW, nil
	}

	d.log.Info("setting clock rate", "rate", rate)

	// Clock configuration requires the wait state. Drop there from
	// wherever the ENSM currently sits.
	entryState, err := d.ensmState()
	if err != nil {
		return 0, err
	}
	switch entryState {
	case ensmStateAlert:
		if err := d.poke(RegENSMControl, ensmCtrlFDD); err != nil {
			return 0, err
		}
		time.Sleep(5 * time.Millisecond)
		if err := d.poke(RegENSMControl, ensmCtrlWait); err != nil {
			return 0, err
		}
	case ensmStateFDD:
		if err := d.poke(RegENSMControl, ensmCtrlWait); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("clock rate change from ENSM state 0x%X: %w", entryState, ErrWrongChipState)
	}

	// setupRates enables all chains for calibration. Remember the real
	// selection so it can be restored on the way out.
	origTXChains := d.regs.txFilter & 0xC0
	origRXChains := d.regs.rxFilter & 0xC0

	bw, err := d.setupRates(rate)
	if err != nil {
		return 0, err
	}

	// Into ALERT for the calibration pass.
	ensmUp := []regWrite{
		{RegENSMConfig, 0x04},
		{RegENSMControl, ensmCtrlSPIAlert},
		{RegENSMFDDMode, 0x01},
	}
	if err := d.pokeAll(ensmUp); err != nil {
		return 0, err
	}
	time.Sleep(time.Millisecond)

	if err := d.calibrateSynthChargePumps(); err != nil {
		return 0, err
	}

	// Retune both synthesizers to where they were. The new converter
	// clocks invalidate the previous PLL programming.
	if _, err := d.tuneRFPLL(RX, d.rxFreq); err != nil {
		return 0, err
	}
	if _, err := d.tuneRFPLL(TX, d.txFreq); err != nil {
		return 0, err
	}

	if err := d.runCalibrationSequence(true); err != nil {
		return 0, err
	}

	if err := d.restorePortConfig(); err != nil {
		return 0, err
	}
	if err := d.poke(RegENSMFDDMode, 0x01); err != nil {
		return 0, err
	}
	if err := d.poke(RegENSMConfig, 0x04); err != nil {
		return 0, err
	}

	// Leave the ENSM where we found it.
	switch entryState {
	case ensmStateAlert:
		// Already there.
	case ensmStateFDD:
		d.regs.txFilter = (d.regs.txFilter & 0x3F) | origTXChains
		d.regs.rxFilter = (d.regs.rxFilter & 0x3F) | origRXChains
		if err := d.poke(RegTXFilterConfig, d.regs.txFilter); err != nil {
			return 0, err
		}
		if err := d.poke(RegRXFilterConfig, d.regs.rxFilter); err != nil {
			return 0, err
		}
		if err := d.poke(RegENSMControl, ensmCtrlFDD); err != nil {
			return 0, err
		}
	}

	d.log.Info("clock rate set", "rate", rate, "baseband_bw", bw)
	return bw, nil
}

// Tune moves one synthesizer to the requested LO frequency and re-runs
// the calibrations a large frequency step invalidates. Returns the
// frequency actually achieved. Requests within 1 Hz of the previous one
// for the same direction are answered from cache.
func (d *Device) Tune(dir Direction, value float64) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return 0, ErrNotInitialized
	}

	switch dir {
	case RX:
		if freqIsNearlyEqual(value, d.reqRXFreq) {
			return d.rxFreq, nil
		}
	case TX:
		if freqIsNearlyEqual(value, d.reqTXFreq) {
			return d.txFreq, nil
		}
	default:
		return 0, fmt.Errorf("invalid direction %d", dir)
	}

	d.log.Info("tuning", "direction", dir, "freq", value)

	// Tuning must happen in ALERT. Note whether to return to FDD after.
	state, err := d.ensmState()
	if err != nil {
		return 0, err
	}
	wasStreaming := state != ensmStateAlert
	if wasStreaming {
		if err := d.poke(RegENSMControl, ensmCtrlToAlert); err != nil {
			return 0, err
		}
	}

	tuned, err := d.tuneRFPLL(dir, value)
	if err != nil {
		return 0, err
	}

	// A band change on RX needs the matching gain table.
	if dir == RX {
		if err := d.programGainTable(); err != nil {
			return 0, err
		}
	}
	if err := d.reprogramGains(); err != nil {
		return 0, err
	}

	if err := d.calibrateTXQuadrature(); err != nil {
		return 0, err
	}
	if err := d.calibrateRXQuadrature(); err != nil {
		return 0, err
	}

	if wasStreaming {
		if err := d.poke(RegENSMControl, ensmCtrlFDD); err != nil {
			return 0, err
		}
	}

	d.log.Info("tuned", "direction", dir, "freq", tuned)
	return tuned, nil
}

// SetGain sets the gain of one chain in dB and returns the gain actually
// programmed. RX gain resolves through the loaded gain table, so the
// result depends on the current RX band. TX gain is attenuation below
// 89.75 dB in quarter-dB steps.
func (d *Device) SetGain(dir Direction, chain Chain, value float64) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return 0, ErrNotInitialized
	}
	return d.setGain(dir, chain, value)
}

// SetActiveChains selects which of the four signal chains are powered.
// If the chip is streaming it is briefly dropped out of FDD while the
// chain enables change, then returned.
func (d *Device) SetActiveChains(tx1, tx2, rx1, rx2 bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return ErrNotInitialized
	}
	return d.setActiveChains(tx1, tx2, rx1, rx2)
}

func (d *Device) setActiveChains(tx1, tx2, rx1, rx2 bool) error {
	d.regs.txFilter &= 0x3F
	d.regs.rxFilter &= 0x3F
	if tx1 {
		d.regs.txFilter |= 0x40
	}
	if tx2 {
		d.regs.txFilter |= 0x80
	}
	if rx1 {
		d.regs.rxFilter |= 0x40
	}
	if rx2 {
		d.regs.rxFilter |= 0x80
	}

	state, err := d.ensmState()
	if err != nil {
		return err
	}

	// Chain enables cannot change during FDD. Flush out to ALERT first
	// and restore afterwards.
	returnToFDD := false
	if state == ensmStateFDD {
		if err := d.poke(RegENSMControl, ensmCtrlToAlert); err != nil {
			return err
		}
		returnToFDD = true
	}
	if state == ensmStateFDD || state == ensmStateFDDFlush {
		err := d.pollReg(RegState, time.Millisecond, 100, "fdd flush", func(v uint8) bool {
			s := v & 0x0F
			return s != ensmStateFDD && s != ensmStateFDDFlush
		})
		if err != nil {
			return err
		}
	}

	if err := d.poke(RegTXFilterConfig, d.regs.txFilter); err != nil {
		return err
	}
	if err := d.poke(RegRXFilterConfig, d.regs.rxFilter); err != nil {
		return err
	}

	if returnToFDD {
		return d.poke(RegENSMControl, ensmCtrlFDD)
	}
	return nil
}

// OutputTestTone makes the chip transmit a self-generated tone at 480 kHz
// offset from the TX LO, for checkout without any data port traffic.
func (d *Device) OutputTestTone() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return ErrNotInitialized
	}
	return d.pokeAll([]regWrite{
		{0x3F4, 0x0B},
		{0x3FC, 0xFF},
		{0x3FD, 0xFF},
		{0x3FE, 0x3F},
	})
}

// DataPortLoopback loops the chip's data port RX back to TX digitally,
// for link integrity checks against the FPGA.
func (d *Device) DataPortLoopback(enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return ErrNotInitialized
	}
	val := uint8(0x00)
	if enabled {
		val = 0x01
	}
	return d.poke(0x3F5, val)
}

// Status reports the driver's cached view plus the live ENSM state. On an
// uninitialized device it returns zero values without touching hardware.
func (d *Device) Status() (DeviceStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := DeviceStatus{
		Initialized:  d.initialized,
		ClockRate:    d.reqClockRate,
		BasebandBW:   d.basebandBW,
		BBPLLFreq:    d.bbpllFreq,
		ADCClockFreq: d.adcClockFreq,
		RXFreq:       d.rxFreq,
		TXFreq:       d.txFreq,
		RX1Gain:      d.rx1Gain,
		RX2Gain:      d.rx2Gain,
		TX1Gain:      d.tx1Gain,
		TX2Gain:      d.tx2Gain,
		GainTable:    d.curGainTable,
	}
	if !d.initialized {
		return st, nil
	}
	state, err := d.ensmState()
	if err != nil {
		return st, err
	}
	st.ENSMState = state
	return st, nil
}

// PeekRegister reads one register directly. Works before Initialize;
// intended for debugging, not for normal operation.
func (d *Device) PeekRegister(addr uint16) (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peek(addr)
}

// PokeRegister writes one register directly. The driver's shadow state is
// not updated, so writes to registers the driver composes can be
// clobbered by the next operation. Debugging only.
func (d *Device) PokeRegister(addr uint16, value uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.poke(addr, value)
}
