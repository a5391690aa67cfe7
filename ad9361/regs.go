package ad9361

// Register addresses the driver reads back, polls, or rewrites outside the
// one-shot initialization tables. The SPI register map is 12 bits wide;
// write-once setup registers are poked by literal address next to a comment
// saying what they hold.
const (
	RegSPIConfig      uint16 = 0x000 // soft reset strobe
	RegTXFilterConfig uint16 = 0x002 // TX chain enables, FIR interpolation
	RegRXFilterConfig uint16 = 0x003 // RX chain enables, FIR decimation
	RegInputSelect    uint16 = 0x004 // RF port and band select
	RegRFPLLDividers  uint16 = 0x005 // RX/TX RFPLL divider words
	RegBBPLL          uint16 = 0x00A // BBPLL divider, DAC clock select
	RegPortConfig     uint16 = 0x012 // parallel port duplex config
	RegENSMFDDMode    uint16 = 0x013 // ENSM enable, FDD mode bit
	RegENSMControl    uint16 = 0x014 // ENSM state transition requests
	RegENSMConfig     uint16 = 0x015 // synthesizer enable control
	RegCalControl     uint16 = 0x016 // calibration run bits, self-clearing
	RegState          uint16 = 0x017 // ENSM state in the low nibble

	RegBBPLLStatus uint16 = 0x05E // BBPLL lock in bit 7
	RegRXCPStatus  uint16 = 0x244 // RX charge pump cal done in bit 7
	RegRXPLLStatus uint16 = 0x247 // RX RFPLL lock in bit 1
	RegTXCPStatus  uint16 = 0x284 // TX charge pump cal done in bit 7
	RegTXPLLStatus uint16 = 0x287 // TX RFPLL lock in bit 1

	RegTX1AttenLSB  uint16 = 0x073 // TX1 attenuation word [7:0]
	RegTX1AttenMSB  uint16 = 0x074 // TX1 attenuation word [8]
	RegTX2AttenLSB  uint16 = 0x075 // TX2 attenuation word [7:0]
	RegTX2AttenMSB  uint16 = 0x076 // TX2 attenuation word [8]
	RegRX1GainIndex uint16 = 0x109 // RX1 full/LMT gain table index
	RegRX2GainIndex uint16 = 0x10C // RX2 full/LMT gain table index
)

// Calibration run bits in RegCalControl. The chip clears the bit when the
// corresponding calibration finishes.
const (
	calBBDCOffset  uint8 = 0x01
	calRFDCOffset  uint8 = 0x02
	calTXQuad      uint8 = 0x10
	calTXBBTune    uint8 = 0x40
	calRXBBTune    uint8 = 0x80
	calBBPLLLocked uint8 = 0x80 // in RegBBPLLStatus
	calCPDone      uint8 = 0x80 // in RegRXCPStatus / RegTXCPStatus
	calPLLLocked   uint8 = 0x02 // in RegRXPLLStatus / RegTXPLLStatus
)

// ENSM state codes as read from the low nibble of RegState.
const (
	ensmStateAlert    uint8 = 0x05
	ensmStateFDD      uint8 = 0x0A
	ensmStateFDDFlush uint8 = 0x0B
)

// Values written to RegENSMControl to request state transitions.
const (
	ensmCtrlWait     uint8 = 0x00 // drop to the wait/sleep state
	ensmCtrlToAlert  uint8 = 0x01 // move to ALERT (flushes FDD first)
	ensmCtrlSPIAlert uint8 = 0x05 // SPI-controlled TXNRX, force ALERT
	ensmCtrlFDD      uint8 = 0x21 // dual synth, move to FDD
)

// FIR coefficient banks are programmed indirectly through a small register
// window at a per-direction base address.
const (
	rxFIRBase uint16 = 0x0F0
	txFIRBase uint16 = 0x060
)

// shadowRegs mirrors configuration registers the driver composes with
// read-modify-write sequences. The hardware copies are write-mostly, so the
// shadow is authoritative and readback is never used for these.
type shadowRegs struct {
	vcoDividers   uint8 // RegRFPLLDividers
	inputSelect   uint8 // RegInputSelect
	rxFilter      uint8 // RegRXFilterConfig
	txFilter      uint8 // RegTXFilterConfig
	bbPLL         uint8 // RegBBPLL
	bbfTuneConfig uint8 // RX baseband filter tune config, 0x1F9
	bbfTuneMode   uint8 // TX baseband filter tune mode, 0x0D7
}

// reset loads the power-on values the bring-up sequence assumes.
func (r *shadowRegs) reset() {
	r.vcoDividers = 0x00
	r.inputSelect = 0x30
	r.rxFilter = 0x00
	r.txFilter = 0x00
	r.bbPLL = 0x02
	r.bbfTuneConfig = 0x1E
	r.bbfTuneMode = 0x1E
}
