package ad9361

import (
	"errors"
	"strings"
	"testing"
)

func TestTablesValidate(t *testing.T) {
	if err := testTables().Validate(); err != nil {
		t.Fatalf("valid tables rejected: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*Tables)
		wantSub string
	}{
		{
			"truncated fir set",
			func(tb *Tables) { tb.FIR.Taps96 = tb.FIR.Taps96[:90] },
			"taps96",
		},
		{
			"missing synth row",
			func(tb *Tables) { tb.SynthCal = tb.SynthCal[:52] },
			"52 rows",
		},
		{
			"non-descending vco rate",
			func(tb *Tables) { tb.SynthCal[5].VCORate = tb.SynthCal[4].VCORate },
			"not strictly descending",
		},
		{
			"negative vco rate",
			func(tb *Tables) { tb.SynthCal[0].VCORate = -1 },
			"must be positive",
		},
		{
			"output level overflow",
			func(tb *Tables) { tb.SynthCal[3].OutputLevel = 0x10 },
			"output_level",
		},
		{
			"charge pump overflow",
			func(tb *Tables) { tb.SynthCal[7].ChargePump = 0x40 },
			"charge_pump",
		},
		{
			"bias ref overflow",
			func(tb *Tables) { tb.SynthCal[0].BiasRef = 0x08 },
			"bias_ref",
		},
		{
			"short gain table",
			func(tb *Tables) { tb.Gain.Mid = tb.Gain.Mid[:76] },
			"gain table mid",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tb := testTables()
			tc.mutate(tb)
			err := tb.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestGainTableFor(t *testing.T) {
	tb := testTables()

	cases := []struct {
		freq float64
		want uint8
	}{
		{70e6, 1},
		{1299.999e6, 1},
		{1300e6, 2},
		{3.999e9, 2},
		{4e9, 3},
		{6e9, 3},
	}
	for _, tc := range cases {
		rows, id, err := tb.gainTableFor(tc.freq)
		if err != nil {
			t.Fatalf("gainTableFor(%v): %v", tc.freq, err)
		}
		if id != tc.want {
			t.Errorf("table for %v: id = %d, want %d", tc.freq, id, tc.want)
		}
		if len(rows) != gainTableRows {
			t.Errorf("table for %v has %d rows", tc.freq, len(rows))
		}
	}

	if _, _, err := tb.gainTableFor(6.001e9); !errors.Is(err, ErrInvalidCodePath) {
		t.Errorf("above 6 GHz: err = %v, want ErrInvalidCodePath", err)
	}
}

func TestCoeffsFor(t *testing.T) {
	tb := testTables()

	for _, n := range []int{48, 64, 96, 128} {
		coeffs, err := tb.coeffsFor(n)
		if err != nil {
			t.Fatalf("coeffsFor(%d): %v", n, err)
		}
		if len(coeffs) != n {
			t.Errorf("coeffsFor(%d) returned %d taps", n, len(coeffs))
		}
	}

	if _, err := tb.coeffsFor(32); !errors.Is(err, ErrUnsupportedTapCount) {
		t.Errorf("coeffsFor(32): err = %v, want ErrUnsupportedTapCount", err)
	}
}
