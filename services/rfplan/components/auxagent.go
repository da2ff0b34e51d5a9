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
	"strings"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/schema"
)

// AuxAgentSchema declares the auxiliary capture agent's keys. All of them
// live in the [rf] section.
var AuxAgentSchema = schema.New("aux_agent",
	schema.Req("id", schema.KindString),
	schema.Req("rf_type", schema.KindString),
	schema.Req("rf_rx_freq", schema.KindNumber),
	schema.Req("rf_srate", schema.KindNumber),
	schema.Req("rf_rx_gain", schema.KindNumber),
	schema.Req("rf_tx_gain", schema.KindNumber),
	schema.Req("rf_num_samples", schema.KindInt),
	schema.Req("rf_iq_file", schema.KindString),
	schema.Opt("rf_device_args", schema.KindString),
)

// Capture output must land in the shared container volume.
const (
	auxOutputDir     = "/output/"
	auxMaxNumSamples = 10_000_000
)

const auxReminder = `Apply these constraints strictly for 'aux_agent':
- rf_type must be uhd or zmq.
- rf_rx_freq must be within NR FR1 (410e6-7.125e9) or FR2 (24.25e9-52.6e9).
- rf_srate > 0; rf_rx_gain and rf_tx_gain in [0,90]; rf_num_samples in (0, 10000000].
- rf_iq_file must be a path under /output/.
- For uhd with a b200 device, rf_rx_freq <= 6e9 and rf_srate <= 61.44e6.`

// AuxAgentSpec returns the auxiliary agent registry entry.
func AuxAgentSpec() *Spec {
	return &Spec{
		Type:      rfplan.ComponentAuxAgent,
		Schema:    AuxAgentSchema,
		Semantic:  ValidateAuxAgent,
		Compiler:  CompileINI,
		Format:    "ini",
		Forbidden: []string{"id", "rf_type", "rf_device_args"},
		Envelopes: []Envelope{
			{Field: "rf_rx_freq", Range: rfplan.Range{Lo: FR1.Lo, Hi: B200MaxFrequency}, Bonus: 0.5},
			{Field: "rf_srate", Range: rfplan.Range{Lo: 1e6, Hi: B200MaxSamplingRate}, Bonus: 0.5},
		},
		Reminder: auxReminder,
	}
}

// ValidateAuxAgent checks capture radio limits and the output path.
func ValidateAuxAgent(cfg rfplan.ComponentConfig) *rfplan.ValidationResult {
	c := newChecker(cfg)

	rfType := c.oneOfStrings("rf_type", "uhd", "zmq")
	c.inBand("rf_rx_freq")
	c.positive("rf_srate")
	c.between("rf_rx_gain", MinGain, MaxGain)
	c.between("rf_tx_gain", MinGain, MaxGain)
	c.positive("rf_num_samples")
	c.atMost("rf_num_samples", auxMaxNumSamples, "rf_num_samples must be <= 10000000")

	iq, _ := cfg.String("rf_iq_file")
	switch {
	case iq == "":
		c.res.Fail("rf_iq_file", "rf_iq_file cannot be empty", rfplan.Hint{Kind: rfplan.HintPattern})
	case !strings.HasPrefix(iq, auxOutputDir):
		c.res.Fail("rf_iq_file", "rf_iq_file should be in /output/ directory for docker deployment",
			rfplan.Hint{Kind: rfplan.HintPattern})
	}

	if dev, _ := cfg.String("rf_device_args"); rfType == "uhd" && IsB200(dev) {
		c.atMost("rf_rx_freq", B200MaxFrequency, "B200-family devices cannot operate above 6 GHz")
		c.atMost("rf_srate", B200MaxSamplingRate, "B200-family sampling rate should not exceed ~61.44 MHz")
	}

	return c.res
}
