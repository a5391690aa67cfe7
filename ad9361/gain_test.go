package ad9361

import (
	"strings"
	"testing"
)

func TestSetGainRX(t *testing.T) {
	cases := []struct {
		name      string
		rxFreq    float64
		value     float64
		wantIndex uint8
		wantGain  float64
	}{
		{"low band", 800e6, 30, 35, 30},
		{"low band clip bottom", 800e6, -10, 0, -5},
		{"low band clip top", 800e6, 76, 76, 71},
		{"mid band", 2.4e9, 30, 33, 30},
		{"mid band clip bottom", 2.4e9, -5, 0, -3},
		{"high band", 5e9, 5, 19, 5},
		{"high band clip top", 5e9, 70, 76, 62},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dev, chip := newTestDevice(t)
			dev.rxFreq = tc.rxFreq

			got, err := dev.setGain(RX, Chain1, tc.value)
			if err != nil {
				t.Fatalf("setGain: %v", err)
			}
			if got != tc.wantGain {
				t.Errorf("gain = %v, want %v", got, tc.wantGain)
			}
			if idx, _ := chip.lastWrite(RegRX1GainIndex); idx != tc.wantIndex {
				t.Errorf("gain index = %d, want %d", idx, tc.wantIndex)
			}
			if dev.rx1Gain != tc.value {
				t.Errorf("cached gain = %v, want requested %v", dev.rx1Gain, tc.value)
			}
		})
	}
}

func TestSetGainRXChain2(t *testing.T) {
	dev, chip := newTestDevice(t)
	dev.rxFreq = 2.4e9

	got, err := dev.setGain(RX, Chain2, 40)
	if err != nil {
		t.Fatalf("setGain: %v", err)
	}
	if got != 40 {
		t.Errorf("gain = %v, want 40", got)
	}
	if idx, _ := chip.lastWrite(RegRX2GainIndex); idx != 43 {
		t.Errorf("gain index = %d, want 43", idx)
	}
	if _, ok := chip.lastWrite(RegRX1GainIndex); ok {
		t.Error("chain 2 request wrote the chain 1 register")
	}
	if dev.rx2Gain != 40 {
		t.Errorf("cached gain = %v, want 40", dev.rx2Gain)
	}
}

func TestSetGainTX(t *testing.T) {
	cases := []struct {
		name     string
		value    float64
		wantLSB  uint8
		wantMSB  uint8
		wantGain float64
	}{
		{"integer gain", 60, 119, 0, 60},
		{"full attenuation", 0, 103, 1, 0},
		// 60.1 dB wants 29.65 dB of attenuation; the word truncates to
		// 29.5 dB, a quarter-dB step above the request.
		{"quarter db rounding", 60.1, 118, 0, 60.25},
		{"max gain", 89.75, 0, 0, 89.75},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dev, chip := newTestDevice(t)

			got, err := dev.setGain(TX, Chain1, tc.value)
			if err != nil {
				t.Fatalf("setGain: %v", err)
			}
			if got != tc.wantGain {
				t.Errorf("gain = %v, want %v", got, tc.wantGain)
			}
			if lsb, _ := chip.lastWrite(RegTX1AttenLSB); lsb != tc.wantLSB {
				t.Errorf("atten lsb = %d, want %d", lsb, tc.wantLSB)
			}
			if msb, _ := chip.lastWrite(RegTX1AttenMSB); msb != tc.wantMSB {
				t.Errorf("atten msb = %d, want %d", msb, tc.wantMSB)
			}
			// Immediate-update bits precede the attenuation word.
			if v, _ := chip.lastWrite(0x077); v != 0x40 {
				t.Errorf("tx1 update mode = 0x%02X, want 0x40", v)
			}
			if v, _ := chip.lastWrite(0x07C); v != 0x40 {
				t.Errorf("tx2 update mode = 0x%02X, want 0x40", v)
			}
		})
	}
}

func TestSetGainTXChain2(t *testing.T) {
	dev, chip := newTestDevice(t)

	if _, err := dev.setGain(TX, Chain2, 50); err != nil {
		t.Fatalf("setGain: %v", err)
	}
	if lsb, _ := chip.lastWrite(RegTX2AttenLSB); lsb != 159 {
		t.Errorf("atten lsb = %d, want 159", lsb)
	}
	if _, ok := chip.lastWrite(RegTX1AttenLSB); ok {
		t.Error("chain 2 request wrote the chain 1 register")
	}
	if dev.tx2Gain != 50 {
		t.Errorf("cached gain = %v, want 50", dev.tx2Gain)
	}
}

func TestReprogramGains(t *testing.T) {
	dev, chip := newTestDevice(t)
	dev.rxFreq = 800e6

	if _, err := dev.setGain(RX, Chain1, 30); err != nil {
		t.Fatalf("setGain: %v", err)
	}
	if idx, _ := chip.lastWrite(RegRX1GainIndex); idx != 35 {
		t.Fatalf("low band index = %d, want 35", idx)
	}
	if _, err := dev.setGain(TX, Chain1, 60); err != nil {
		t.Fatalf("setGain tx: %v", err)
	}

	// After a band change the same requested gain maps to a new index.
	dev.rxFreq = 2.4e9
	if err := dev.reprogramGains(); err != nil {
		t.Fatalf("reprogramGains: %v", err)
	}
	if idx, _ := chip.lastWrite(RegRX1GainIndex); idx != 33 {
		t.Errorf("mid band index = %d, want 33", idx)
	}

	// The TX word is unchanged but must be rewritten.
	lsbs := chip.writesTo(RegTX1AttenLSB)
	if len(lsbs) != 2 || lsbs[1] != 119 {
		t.Errorf("tx atten writes = %#v, want two writes of 119", lsbs)
	}
}

func TestProgramGainTable(t *testing.T) {
	dev, chip := newTestDevice(t)
	dev.regs.reset()
	dev.rxFreq = 800e6

	if err := dev.programGainTable(); err != nil {
		t.Fatalf("programGainTable: %v", err)
	}
	if dev.curGainTable != 1 {
		t.Errorf("resident table = %d, want 1", dev.curGainTable)
	}

	// 77 real rows plus zero fill through row 90.
	indexes := chip.writesTo(0x130)
	if len(indexes) != 91 {
		t.Fatalf("row writes = %d, want 91", len(indexes))
	}
	if indexes[0] != 0 || indexes[76] != 76 || indexes[90] != 90 {
		t.Errorf("row indexes = %d..%d, want 0..90", indexes[0], indexes[90])
	}

	lmts := chip.writesTo(0x131)
	if lmts[0] != 0x20 {
		t.Errorf("row 0 lmt = 0x%02X, want low table base 0x20", lmts[0])
	}
	if lmts[76] != 0x2C {
		t.Errorf("row 76 lmt = 0x%02X, want 0x2C", lmts[76])
	}
	for i := 77; i <= 90; i++ {
		if lmts[i] != 0 {
			t.Fatalf("fill row %d lmt = 0x%02X, want 0", i, lmts[i])
		}
	}

	// Clock handshake: start, one strobe per row, clear, stop.
	clocks := chip.writesTo(0x137)
	if len(clocks) != 94 {
		t.Fatalf("clock writes = %d, want 94", len(clocks))
	}
	if clocks[0] != 0x1A || clocks[92] != 0x1A || clocks[93] != 0x00 {
		t.Errorf("clock sequence ends %02X %02X, want 1A 00", clocks[92], clocks[93])
	}

	// Same band again: already resident, no traffic.
	before := len(chip.writes)
	if err := dev.programGainTable(); err != nil {
		t.Fatalf("programGainTable repeat: %v", err)
	}
	if len(chip.writes) != before {
		t.Error("resident table was reprogrammed")
	}

	// Band change swaps tables.
	dev.rxFreq = 2.4e9
	if err := dev.programGainTable(); err != nil {
		t.Fatalf("programGainTable mid band: %v", err)
	}
	if dev.curGainTable != 2 {
		t.Errorf("resident table = %d, want 2", dev.curGainTable)
	}
	lmts = chip.writesTo(0x131)
	if lmts[91] != 0x40 {
		t.Errorf("mid table row 0 lmt = 0x%02X, want 0x40", lmts[91])
	}
}

func TestSetGainWriteError(t *testing.T) {
	dev, chip := newTestDevice(t)
	dev.rxFreq = 800e6
	chip.failPoke = RegRX1GainIndex

	_, err := dev.setGain(RX, Chain1, 30)
	if err == nil {
		t.Fatal("expected write error")
	}
	if !strings.Contains(err.Error(), "0x109") {
		t.Errorf("error %q does not name the failing register", err)
	}
}
