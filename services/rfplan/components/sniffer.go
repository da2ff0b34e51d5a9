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

// SnifferSchema declares the sniffer's flat keys. Keys prefixed pdcch_
// compile into the [[pdcch]] table.
var SnifferSchema = schema.New("sniffer",
	schema.Opt("id", schema.KindString),
	schema.Opt("file_path", schema.KindString),
	schema.Req("sample_rate", schema.KindNumber),
	schema.Req("frequency", schema.KindNumber),
	schema.Opt("nid_1", schema.KindInt),
	schema.Req("ssb_numerology", schema.KindInt),
	schema.Opt("pdcch_coreset_id", schema.KindInt),
	schema.Opt("pdcch_subcarrier_offset", schema.KindInt),
	schema.Req("pdcch_num_prbs", schema.KindInt),
	schema.Opt("pdcch_numerology", schema.KindInt),
	schema.Opt("pdcch_dci_sizes_list", schema.KindList),
	schema.Opt("pdcch_scrambling_id_start", schema.KindInt),
	schema.Opt("pdcch_scrambling_id_end", schema.KindInt),
	schema.Opt("pdcch_rnti_start", schema.KindInt),
	schema.Opt("pdcch_rnti_end", schema.KindInt),
	schema.Opt("pdcch_interleaving_pattern", schema.KindString),
	schema.Req("pdcch_coreset_duration", schema.KindInt),
	schema.Opt("pdcch_AL_corr_thresholds", schema.KindList),
	schema.Opt("pdcch_num_candidates_per_AL", schema.KindList),
)

const snifferReminder = `Apply these constraints strictly for 'sniffer':
- frequency must be within NR FR1 (410e6-7.125e9) or FR2 (24.25e9-52.6e9).
- ssb_numerology in [0,4]; pdcch_coreset_duration in {1,2,3}.
- pdcch_num_prbs > 0; list lengths: dci_sizes=2, AL_corr_thresholds=5, num_candidates_per_AL=5; list elements must be numbers.
- pdcch_scrambling_id_start <= pdcch_scrambling_id_end and pdcch_rnti_start <= pdcch_rnti_end.`

// SnifferSpec returns the sniffer registry entry.
func SnifferSpec() *Spec {
	return &Spec{
		Type:      rfplan.ComponentSniffer,
		Schema:    SnifferSchema,
		Semantic:  ValidateSniffer,
		Compiler:  CompileSnifferTOML,
		Format:    "toml",
		Forbidden: []string{"id", "file_path"},
		Envelopes: []Envelope{
			{Field: "frequency", Range: rfplan.Range{Lo: FR1.Lo, Hi: B200MaxFrequency}, Bonus: 0.5},
			{Field: "sample_rate", Range: rfplan.Range{Lo: 1.92e6, Hi: B200MaxSamplingRate}, Bonus: 0.5},
		},
		Reminder: snifferReminder,
	}
}

// ValidateSniffer checks sniffer band, numerology and PDCCH search-space
// coherence.
func ValidateSniffer(cfg rfplan.ComponentConfig) *rfplan.ValidationResult {
	c := newChecker(cfg)

	c.positive("sample_rate")
	c.positive("pdcch_num_prbs")
	c.between("ssb_numerology", 0, 4)
	c.inBand("frequency")
	c.oneOfInts("pdcch_coreset_duration", 1, 2, 3)
	c.ordered("pdcch_scrambling_id_start", "pdcch_scrambling_id_end")
	c.ordered("pdcch_rnti_start", "pdcch_rnti_end")
	c.length("pdcch_dci_sizes_list", 2)
	c.length("pdcch_AL_corr_thresholds", 5)
	c.length("pdcch_num_candidates_per_AL", 5)
	c.numericList("pdcch_dci_sizes_list")
	c.numericList("pdcch_AL_corr_thresholds")
	c.numericList("pdcch_num_candidates_per_AL")

	return c.res
}
