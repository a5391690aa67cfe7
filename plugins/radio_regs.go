package plugins

// Register descriptions for the debug register endpoints. This is the
// subset of the AD9361 map someone poking at a misbehaving board actually
// looks at; everything else reads back as "Unknown register".
var RegisterDescriptions = map[uint16]string{
	0x000: "SPI_CONF - SPI config and soft reset",
	0x002: "TX_ENABLE_FILTER - TX chain enables and FIR interpolation",
	0x003: "RX_ENABLE_FILTER - RX chain enables and FIR decimation",
	0x004: "INPUT_SELECT - RF port and band select",
	0x005: "RFPLL_DIVIDERS - RX/TX RFPLL divider words",
	0x006: "RX_CLOCK_DATA_DELAY - RX interface timing",
	0x007: "TX_CLOCK_DATA_DELAY - TX interface timing",
	0x00A: "BBPLL - BBPLL divider and DAC clock select",
	0x010: "PARALLEL_PORT_1 - data port swap and routing",
	0x011: "PARALLEL_PORT_2 - data port clock config",
	0x012: "PARALLEL_PORT_3 - data port duplex config",
	0x013: "ENSM_MODE - ENSM enable, FDD mode bit",
	0x014: "ENSM_CONFIG_1 - ENSM state transition requests",
	0x015: "ENSM_CONFIG_2 - synthesizer enable control",
	0x016: "CALIBRATION_CTRL - calibration run bits, self-clearing",
	0x017: "STATE - ENSM state in the low nibble",
	0x03C: "CLOCK_ENABLE - reference and converter clock enables",
	0x041: "BBPLL_INT_NFRAC_MSB - BBPLL fractional word [23:16]",
	0x042: "BBPLL_INT_NFRAC_MID - BBPLL fractional word [15:8]",
	0x043: "BBPLL_INT_NFRAC_LSB - BBPLL fractional word [7:0]",
	0x044: "BBPLL_INTEGER - BBPLL integer word",
	0x045: "BBPLL_REF_DIV - BBPLL reference scaler",
	0x046: "BBPLL_CP_CURRENT - BBPLL charge pump current",
	0x04D: "BBPLL_CTRL - BBPLL init and cal strobes",
	0x05E: "BBPLL_STATUS - BBPLL lock in bit 7",
	0x060: "TX_FIR_COEF_ADDR - TX FIR coefficient window",
	0x065: "TX_FIR_CONF - TX FIR bank config and clocks",
	0x073: "TX1_ATTEN_0 - TX1 attenuation word [7:0]",
	0x074: "TX1_ATTEN_1 - TX1 attenuation word [8]",
	0x075: "TX2_ATTEN_0 - TX2 attenuation word [7:0]",
	0x076: "TX2_ATTEN_1 - TX2 attenuation word [8]",
	0x077: "TX_ATTEN_OFFSET - attenuation update mode",
	0x0A0: "TX_QUAD_KEXP - quad cal tone and exponent",
	0x0A3: "TX_QUAD_FULL_LMT_GAIN - quad cal gain select",
	0x0A9: "TX_QUAD_CAL_COUNT - quad cal averaging",
	0x0AA: "TX_QUAD_MAG_FTEST - quad cal magnitude threshold",
	0x0D0: "TX_SEC_FILTER_RES - secondary TX filter resistor",
	0x0D1: "TX_SEC_FILTER_CAP - secondary TX filter capacitor",
	0x0D2: "TX_SEC_FILTER_CTRL - secondary TX filter control",
	0x0F0: "RX_FIR_COEF_ADDR - RX FIR coefficient window",
	0x0F5: "RX_FIR_CONF - RX FIR bank config and clocks",
	0x0F6: "RX_FIR_GAIN - RX FIR output gain",
	0x109: "RX1_GAIN_INDEX - RX1 gain table index",
	0x10C: "RX2_GAIN_INDEX - RX2 gain table index",
	0x130: "GAIN_TABLE_ADDR - gain table row address",
	0x131: "GAIN_TABLE_WRITE_0 - gain table LMT word",
	0x132: "GAIN_TABLE_WRITE_1 - gain table LPF word",
	0x133: "GAIN_TABLE_WRITE_2 - gain table digital word",
	0x137: "GAIN_TABLE_CONF - gain table clock and write strobe",
	0x186: "RF_DC_OFFSET_COUNT - RF DC offset wait count",
	0x187: "RF_DC_OFFSET_CONF_1 - RF DC offset config",
	0x188: "RF_DC_OFFSET_ATTEN - RF DC offset attenuation",
	0x1DB: "TIA_CONF - TIA cal control",
	0x1DC: "TIA1_C_LSB - RX1 TIA capacitor [7:0]",
	0x1DD: "TIA1_C_MSB - RX1 TIA capacitor [8]",
	0x1DE: "TIA2_C_LSB - RX2 TIA capacitor [7:0]",
	0x1DF: "TIA2_C_MSB - RX2 TIA capacitor [8]",
	0x1E2: "RX1_BBF_TUNE - RX1 baseband filter tune strobe",
	0x1E3: "RX2_BBF_TUNE - RX2 baseband filter tune strobe",
	0x1F8: "RX_BBF_TUNE_DIVIDE - baseband filter tune divider [7:0]",
	0x1F9: "RX_BBF_TUNE_CONFIG - tune divider [8], filter config",
	0x1FB: "RX_BBBW_MHZ - baseband bandwidth, MHz part",
	0x1FC: "RX_BBBW_KHZ - baseband bandwidth, kHz part",
	0x200: "ADC_SMALL_CAP - first register of the ADC setup block",
	0x231: "RX_SYNTH_INT_LSB - RX RFPLL integer word [7:0]",
	0x232: "RX_SYNTH_INT_MSB - RX RFPLL integer word [10:8]",
	0x233: "RX_SYNTH_FRAC_LSB - RX RFPLL fractional word [7:0]",
	0x234: "RX_SYNTH_FRAC_MID - RX RFPLL fractional word [15:8]",
	0x235: "RX_SYNTH_FRAC_MSB - RX RFPLL fractional word [22:16]",
	0x23A: "RX_SYNTH_VCO_OUTPUT - RX VCO output level",
	0x23B: "RX_SYNTH_CP_CURRENT - RX charge pump current",
	0x244: "RX_CP_STATUS - RX charge pump cal done in bit 7",
	0x247: "RX_PLL_STATUS - RX RFPLL lock in bit 1",
	0x271: "TX_SYNTH_INT_LSB - TX RFPLL integer word [7:0]",
	0x272: "TX_SYNTH_INT_MSB - TX RFPLL integer word [10:8]",
	0x273: "TX_SYNTH_FRAC_LSB - TX RFPLL fractional word [7:0]",
	0x274: "TX_SYNTH_FRAC_MID - TX RFPLL fractional word [15:8]",
	0x275: "TX_SYNTH_FRAC_MSB - TX RFPLL fractional word [22:16]",
	0x27A: "TX_SYNTH_VCO_OUTPUT - TX VCO output level",
	0x27B: "TX_SYNTH_CP_CURRENT - TX charge pump current",
	0x284: "TX_CP_STATUS - TX charge pump cal done in bit 7",
	0x287: "TX_PLL_STATUS - TX RFPLL lock in bit 1",
	0x3F4: "BIST_CONFIG - built-in self test config",
	0x3F5: "OBSERVE_CONFIG - data port loopback control",
	0x3FC: "BIST_AND_DATA_PORT_TEST_0 - test tone config",
	0x3FD: "BIST_AND_DATA_PORT_TEST_1 - test tone config",
	0x3FE: "BIST_AND_DATA_PORT_TEST_2 - test tone config",
}
