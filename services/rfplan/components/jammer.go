// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package components

import (
	"github.com/AleutianAI/AleutianRF/services/rfplan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/schema"
)

// JammerSchema declares the jammer's flat keys.
var JammerSchema = schema.New("jammer",
	schema.Opt("id", schema.KindString),
	schema.Req("center_frequency", schema.KindNumber),
	schema.Req("bandwidth", schema.KindNumber),
	schema.Req("amplitude", schema.KindNumber),
	schema.Opt("amplitude_width", schema.KindNumber),
	schema.Opt("initial_phase", schema.KindNumber),
	schema.Req("sampling_freq", schema.KindNumber),
	schema.Req("num_samples", schema.KindInt),
	schema.Opt("output_iq_file", schema.KindString),
	schema.Opt("output_csv_file", schema.KindString),
	schema.Opt("write_iq", schema.KindBool),
	schema.Opt("write_csv", schema.KindBool),
	schema.Req("tx_gain", schema.KindNumber),
	schema.Req("device_args", schema.KindString),
)

const jammerReminder = `Apply these constraints strictly for 'jammer':
- center_frequency must be within NR FR1 (410e6-7.125e9) or FR2 (24.25e9-52.6e9).
- If device_args contains b200/b210, center_frequency <= 6e9 and FR2 is not allowed.
- sampling_freq >= 2x bandwidth, and for b200-family sampling_freq <= 61.44e6; bandwidth <= ~56e6.
- amplitude and amplitude_width in [0,1], tx_gain in [0,90], num_samples > 0.`

// JammerSpec returns the jammer registry entry.
func JammerSpec() *Spec {
	return &Spec{
		Type:      rfplan.ComponentJammer,
		Schema:    JammerSchema,
		Semantic:  ValidateJammer,
		Compiler:  CompileFlatYAML,
		Format:    "yaml",
		Forbidden: []string{"id", "device_args"},
		Envelopes: []Envelope{
			{Field: "center_frequency", Range: rfplan.Range{Lo: 70e6, Hi: B200MaxFrequency}, Bonus: 0.5},
			{Field: "sampling_freq", Range: rfplan.Range{Lo: 1e6, Hi: B200MaxSamplingRate}, Bonus: 0.5},
			{Field: "bandwidth", Range: rfplan.Range{Lo: 1e3, Hi: B200MaxBandwidth}, Bonus: 0.25},
		},
		Reminder: jammerReminder,
	}
}

// ValidateJammer checks jammer physics and hardware limits.
func ValidateJammer(cfg rfplan.ComponentConfig) *rfplan.ValidationResult {
	c := newChecker(cfg)

	c.positive("bandwidth")
	c.between("amplitude", 0, 1)
	c.between("amplitude_width", 0, 1)
	c.between("tx_gain", MinGain, MaxGain)
	c.nyquist("sampling_freq", "bandwidth")
	c.inBand("center_frequency")
	c.positive("num_samples")

	if dev, _ := cfg.String("device_args"); IsB200(dev) {
		c.atMost("center_frequency", B200MaxFrequency, "center_frequency exceeds B200-family tuning range (<= 6e9)")
		if f, ok := cfg.Number("center_frequency"); ok && FR2.Contains(f) {
			c.res.Fail("center_frequency", "B200-family cannot operate in NR FR2 (24.25e9-52.6e9)",
				rfplan.Hint{Kind: rfplan.HintMax, Max: rfplan.F(B200MaxFrequency), Actual: rfplan.F(f)})
		}
		c.atMost("sampling_freq", B200MaxSamplingRate, "sampling_freq exceeds B200-family practical maximum (~61.44e6)")
		c.atMost("bandwidth", B200MaxBandwidth, "bandwidth exceeds B200-family front-end practical limit (~56e6)")
	}

	return c.res
}
