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
	"errors"
	"strings"
	"testing"

	"github.com/go-ini/ini"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/extract"
)

// =============================================================================
// Fixtures
// =============================================================================

const jammerJSON = `{
	"center_frequency": 1.5e9, "bandwidth": 20e6, "sampling_freq": 10e6,
	"tx_gain": 50, "num_samples": 1000, "device_args": "type=b200",
	"amplitude": 0.5, "amplitude_width": 0.1, "initial_phase": 0,
	"output_iq_file": "o.fc32", "write_iq": false
}`

const snifferJSON = `{
	"id": "sniff1", "file_path": "/data/capture.fc32",
	"sample_rate": 23.04e6, "frequency": 1.842e9, "nid_1": 1, "ssb_numerology": 0,
	"pdcch_coreset_id": 1, "pdcch_subcarrier_offset": 0, "pdcch_num_prbs": 48,
	"pdcch_numerology": 0, "pdcch_dci_sizes_list": [39, 41],
	"pdcch_scrambling_id_start": 0, "pdcch_scrambling_id_end": 10,
	"pdcch_rnti_start": 0, "pdcch_rnti_end": 65535,
	"pdcch_interleaving_pattern": "non-interleaved", "pdcch_coreset_duration": 1,
	"pdcch_AL_corr_thresholds": [100, 100, 100, 100, 100],
	"pdcch_num_candidates_per_AL": [0, 0, 4, 2, 0]
}`

const rtueJSON = `{
	"id": "ue1", "rf_freq_offset": 0, "rf_tx_gain": 50, "rf_rx_gain": 40,
	"rf_srate": 23.04e6, "rf_nof_antennas": 1, "rf_device_name": "zmq",
	"rf_device_args": "tx_port=tcp://127.0.0.1:2001,rx_port=tcp://127.0.0.1:2000",
	"rat_eutra_dl_earfcn": 0, "rat_eutra_nof_carriers": 0,
	"rat_nr_bands": 3, "rat_nr_nof_carriers": 1, "rat_nr_max_nof_prb": 106, "rat_nr_nof_prb": 106,
	"pcap_enable": "none", "log_all_level": "info", "log_filename": "/tmp/ue.log",
	"usim_mode": "soft", "usim_algo": "milenage",
	"usim_opc": "63BFA50EE6523365FF14C1F45F88737D", "usim_k": "00112233445566778899aabbccddeeff",
	"usim_imsi": "001010123456780", "usim_imei": "353490069873319",
	"rrc_release": 15, "rrc_ue_category": 4, "nas_apn": "srsapn", "nas_apn_protocol": "ipv4",
	"gui_enable": false, "gw_ip_devname": "tun_srsue", "gw_ip_netmask": "255.255.255.0",
	"general_metrics_period_secs": 1.0
}`

const auxJSON = `{
	"id": "aux1", "rf_type": "uhd", "rf_rx_freq": 3.5e9, "rf_srate": 23.04e6,
	"rf_rx_gain": 40, "rf_tx_gain": 0, "rf_num_samples": 1000000,
	"rf_iq_file": "/output/capture.fc32", "rf_device_args": "type=b200"
}`

func load(t *testing.T, text string) rfplan.ComponentConfig {
	t.Helper()
	obj, err := extract.Object(text)
	require.NoError(t, err)
	return rfplan.ComponentConfig(obj)
}

func spec(t *testing.T, ct rfplan.ComponentType) *Spec {
	t.Helper()
	s, err := DefaultRegistry().Lookup(ct)
	require.NoError(t, err)
	return s
}

// =============================================================================
// Semantic scenarios
// =============================================================================

func TestJammer_Nyquist(t *testing.T) {
	s := spec(t, rfplan.ComponentJammer)
	cfg := load(t, jammerJSON)

	res := s.Validate(cfg)
	require.False(t, res.OK)
	assert.Equal(t, []string{"sampling_freq must be at least 2x bandwidth"}, res.Errors)
	require.Len(t, res.Hints["sampling_freq"], 1)
	hint := res.Hints["sampling_freq"][0]
	assert.Equal(t, rfplan.HintRelative, hint.Kind)
	assert.Equal(t, "bandwidth", hint.RelativeTo)
	assert.InDelta(t, 0.75, hint.Excess(), 1e-9)

	cfg["sampling_freq"] = 40e6
	assert.True(t, s.Validate(cfg).OK)
}

func TestJammer_B200Gating(t *testing.T) {
	s := spec(t, rfplan.ComponentJammer)
	cfg := load(t, jammerJSON)
	cfg["center_frequency"] = 28e9
	cfg["sampling_freq"] = 100e6
	cfg["bandwidth"] = 45e6

	res := s.Validate(cfg)
	require.False(t, res.OK)
	assert.Contains(t, res.Errors, "center_frequency exceeds B200-family tuning range (<= 6e9)")
	assert.Contains(t, res.Errors, "B200-family cannot operate in NR FR2 (24.25e9-52.6e9)")
	assert.Contains(t, res.Errors, "sampling_freq exceeds B200-family practical maximum (~61.44e6)")

	cfg["device_args"] = "type=x310"
	assert.True(t, s.Validate(cfg).OK, "FR2 is legal without the B200 gate")
}

func TestJammer_Ranges(t *testing.T) {
	s := spec(t, rfplan.ComponentJammer)
	cfg := load(t, jammerJSON)
	cfg["sampling_freq"] = 40e6
	cfg["amplitude"] = 1.5
	cfg["tx_gain"] = int64(95)
	cfg["num_samples"] = int64(0)

	res := s.Validate(cfg)
	assert.ElementsMatch(t, []string{
		"amplitude must be between 0 and 1",
		"tx_gain must be between 0 and 90",
		"num_samples must be > 0",
	}, res.Errors)
}

func TestJammer_SchemaRunsBeforeSemantic(t *testing.T) {
	s := spec(t, rfplan.ComponentJammer)
	cfg := load(t, jammerJSON)
	cfg["num_samples"] = 1000.5
	cfg["power"] = int64(3)

	res, err := s.ValidateErr(cfg)
	require.Error(t, err)
	var schemaErr *rfplan.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Len(t, res.Errors, 2)
	assert.NotContains(t, res.Errors, "sampling_freq must be at least 2x bandwidth")
}

func TestSniffer_Band(t *testing.T) {
	s := spec(t, rfplan.ComponentSniffer)
	cfg := load(t, snifferJSON)
	require.True(t, s.Validate(cfg).OK)

	cfg["frequency"] = 1e6
	res, err := s.ValidateErr(cfg)
	var semErr *rfplan.SemanticError
	require.True(t, errors.As(err, &semErr))
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "FR1")
	assert.Contains(t, res.Errors[0], "FR2")
	assert.Equal(t, rfplan.HintAllowedRanges, res.Hints["frequency"][0].Kind)

	cfg["frequency"] = 1.842e9
	assert.True(t, s.Validate(cfg).OK)
}

func TestSniffer_SearchSpace(t *testing.T) {
	s := spec(t, rfplan.ComponentSniffer)
	cfg := load(t, snifferJSON)
	cfg["pdcch_coreset_duration"] = int64(4)
	cfg["pdcch_rnti_start"] = int64(100)
	cfg["pdcch_rnti_end"] = int64(10)
	cfg["pdcch_dci_sizes_list"] = []any{int64(39)}
	cfg["ssb_numerology"] = int64(5)

	res := s.Validate(cfg)
	assert.ElementsMatch(t, []string{
		"ssb_numerology must be between 0 and 4",
		"pdcch_coreset_duration must be one of {1, 2, 3}",
		"pdcch_rnti_start must be <= pdcch_rnti_end",
		"pdcch_dci_sizes_list must have exactly 2 elements",
	}, res.Errors)
}

func TestSniffer_ListElementsMustBeNumbers(t *testing.T) {
	s := spec(t, rfplan.ComponentSniffer)
	cfg := load(t, strings.Replace(snifferJSON, "[39, 41]", "[null, 41]", 1))

	res, err := s.ValidateErr(cfg)
	var semErr *rfplan.SemanticError
	require.True(t, errors.As(err, &semErr))
	assert.Equal(t, []string{"pdcch_dci_sizes_list[0] must be a number, got null"}, res.Errors)
	assert.Equal(t, rfplan.HintSchemaType, res.Hints["pdcch_dci_sizes_list"][0].Kind)

	cfg = load(t, snifferJSON)
	cfg["pdcch_AL_corr_thresholds"] = []any{int64(100), "high", int64(100), int64(100), int64(100)}
	cfg["pdcch_num_candidates_per_AL"] = []any{int64(0), int64(0), []any{int64(4)}, int64(2), int64(0)}
	res = s.Validate(cfg)
	assert.ElementsMatch(t, []string{
		"pdcch_AL_corr_thresholds[1] must be a number, got string",
		"pdcch_num_candidates_per_AL[2] must be a number, got list",
	}, res.Errors)

	cfg = load(t, snifferJSON)
	require.True(t, s.Validate(cfg).OK)
	_, err = s.Compile(cfg)
	require.NoError(t, err)
}

func TestRTUE_PRBMapping(t *testing.T) {
	s := spec(t, rfplan.ComponentRTUE)
	cfg := load(t, rtueJSON)
	require.True(t, s.Validate(cfg).OK)

	cfg["rat_nr_nof_prb"] = int64(50)
	res := s.Validate(cfg)
	require.False(t, res.OK)
	assert.Equal(t, []string{"rat_nr_nof_prb must be 106 for rf_srate near 23.04e6 or 30.72e6"}, res.Errors)
	assert.Equal(t, rfplan.HintEquals, res.Hints["rat_nr_nof_prb"][0].Kind)

	cfg["rat_nr_nof_prb"] = int64(106)
	assert.True(t, s.Validate(cfg).OK)
}

func TestRTUE_DeviceArgs(t *testing.T) {
	s := spec(t, rfplan.ComponentRTUE)
	tests := []struct {
		name    string
		device  string
		args    string
		wantErr string
	}{
		{"uhd missing addr", "uhd", "type=b200", "missing 'addr' in UHD args"},
		{"zmq missing rx", "zmq", "tx_port=tcp://127.0.0.1:2001", "missing 'rx_port' in ZMQ args"},
		{"zmq bad format", "zmq", "tx_port=tcp://host:2001,rx_port=tcp://127.0.0.1:2000", "invalid format for tx_port: tcp://host:2001"},
		{"unknown device", "soapy", "", `unknown rf_device_name "soapy", valid options are uhd, zmq`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := load(t, rtueJSON)
			cfg["rf_device_name"] = tt.device
			cfg["rf_device_args"] = tt.args
			res := s.Validate(cfg)
			assert.Contains(t, res.Errors, tt.wantErr)
		})
	}
}

func TestRTUE_MaxPRBBelowPRB(t *testing.T) {
	s := spec(t, rfplan.ComponentRTUE)
	cfg := load(t, rtueJSON)
	cfg["rf_srate"] = 15.36e6
	cfg["rat_nr_nof_prb"] = int64(52)
	cfg["rat_nr_max_nof_prb"] = int64(25)

	res := s.Validate(cfg)
	assert.Equal(t, []string{"rat_nr_max_nof_prb must be >= rat_nr_nof_prb"}, res.Errors)
}

func TestAuxAgent_Rules(t *testing.T) {
	s := spec(t, rfplan.ComponentAuxAgent)
	cfg := load(t, auxJSON)
	require.True(t, s.Validate(cfg).OK)

	cfg["rf_rx_freq"] = 7e9
	cfg["rf_iq_file"] = "/tmp/capture.fc32"
	res := s.Validate(cfg)
	assert.ElementsMatch(t, []string{
		"rf_iq_file should be in /output/ directory for docker deployment",
		"B200-family devices cannot operate above 6 GHz",
	}, res.Errors)
}

// =============================================================================
// Compilers
// =============================================================================

func TestCompile_Idempotent(t *testing.T) {
	fixtures := map[rfplan.ComponentType]string{
		rfplan.ComponentSniffer:  snifferJSON,
		rfplan.ComponentRTUE:     rtueJSON,
		rfplan.ComponentAuxAgent: auxJSON,
	}
	jam := load(t, jammerJSON)
	jam["sampling_freq"] = 40e6

	for ct, text := range fixtures {
		t.Run(string(ct), func(t *testing.T) {
			s := spec(t, ct)
			cfg := load(t, text)
			a, err := s.Compile(cfg)
			require.NoError(t, err)
			b, err := s.Compile(cfg)
			require.NoError(t, err)
			assert.Equal(t, a, b)
			assert.NotEmpty(t, a)
		})
	}

	t.Run("jammer", func(t *testing.T) {
		s := spec(t, rfplan.ComponentJammer)
		a, err := s.Compile(jam)
		require.NoError(t, err)
		b, err := s.Compile(jam)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

func TestCompile_JammerFlatBlock(t *testing.T) {
	s := spec(t, rfplan.ComponentJammer)
	cfg := load(t, jammerJSON)
	cfg["sampling_freq"] = 40e6
	cfg["id"] = "jam1"

	out, err := s.Compile(cfg)
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &parsed))
	assert.Len(t, parsed, len(cfg)-1)
	assert.NotContains(t, parsed, "id")
	assert.Equal(t, 1000, parsed["num_samples"])
	assert.Equal(t, "type=b200", parsed["device_args"])
	assert.Regexp(t, `^center_frequency: `, out)
}

func TestCompile_SnifferReparse(t *testing.T) {
	s := spec(t, rfplan.ComponentSniffer)
	cfg := load(t, snifferJSON)

	out, err := s.Compile(cfg)
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, toml.Unmarshal([]byte(out), &parsed))
	assert.Len(t, parsed, 2)

	sniffer, ok := parsed["sniffer"].(map[string]any)
	require.True(t, ok)
	pdcchList, ok := parsed["pdcch"].([]any)
	require.True(t, ok)
	require.Len(t, pdcchList, 1)
	pdcch := pdcchList[0].(map[string]any)

	for k := range cfg {
		if k == "id" {
			continue
		}
		if bare, isPDCCH := cutPDCCH(k); isPDCCH {
			assert.Contains(t, pdcch, bare)
		} else {
			assert.Contains(t, sniffer, k)
		}
	}
	assert.NotContains(t, sniffer, "id")
	assert.Len(t, pdcch["AL_corr_thresholds"], 5)
	freq, ok := rfplan.AsNumber(sniffer["frequency"])
	require.True(t, ok)
	assert.Equal(t, 1.842e9, freq)
}

func cutPDCCH(k string) (string, bool) {
	if len(k) > len(snifferPDCCHPrefix) && k[:len(snifferPDCCHPrefix)] == snifferPDCCHPrefix {
		return k[len(snifferPDCCHPrefix):], true
	}
	return "", false
}

func TestCompile_INIReparse(t *testing.T) {
	for _, tc := range []struct {
		ct   rfplan.ComponentType
		text string
	}{
		{rfplan.ComponentRTUE, rtueJSON},
		{rfplan.ComponentAuxAgent, auxJSON},
	} {
		t.Run(string(tc.ct), func(t *testing.T) {
			s := spec(t, tc.ct)
			cfg := load(t, tc.text)

			out, err := s.Compile(cfg)
			require.NoError(t, err)

			parsed, err := ini.Load([]byte(out))
			require.NoError(t, err)

			total := 0
			for _, sec := range parsed.Sections() {
				total += len(sec.Keys())
			}
			assert.Equal(t, len(cfg)-1, total, "every key except id is emitted once")

			for k := range cfg {
				if k == "id" {
					continue
				}
				section, bare, ok := SectionFor(k)
				require.True(t, ok, k)
				assert.True(t, parsed.Section(section).HasKey(bare), "%s -> [%s] %s", k, section, bare)
			}
		})
	}
}

func TestCompile_INIValues(t *testing.T) {
	s := spec(t, rfplan.ComponentRTUE)
	out, err := s.Compile(load(t, rtueJSON))
	require.NoError(t, err)

	parsed, err := ini.Load([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, "23040000", parsed.Section("rf").Key("srate").String())
	assert.Equal(t, "106", parsed.Section("rat.nr").Key("nof_prb").String())
	assert.Equal(t, "false", parsed.Section("gui").Key("enable").String())
	assert.Equal(t, "srsapn", parsed.Section("nas").Key("apn").String())
}

func TestCompileINI_DropsUnmappedPrefix(t *testing.T) {
	out, err := CompileINI(rfplan.ComponentConfig{
		"rf_tx_gain": int64(10),
		"mystery_key": "x",
	}, RTUESchema)
	require.NoError(t, err)
	assert.Contains(t, out, "[rf]")
	assert.NotContains(t, out, "mystery")
}

func TestSpec_CompileErrorIsTyped(t *testing.T) {
	s := spec(t, rfplan.ComponentRTUE)
	cfg := load(t, rtueJSON)
	cfg["rf_tx_gain"] = map[string]any{"nested": true}

	_, err := s.Compile(cfg)
	var compErr *rfplan.CompilationError
	require.True(t, errors.As(err, &compErr))
	assert.Equal(t, rfplan.ComponentRTUE, compErr.Type)
}

// =============================================================================
// Registry
// =============================================================================

func TestRegistry_Lookup(t *testing.T) {
	reg := DefaultRegistry()
	assert.Equal(t, []rfplan.ComponentType{
		rfplan.ComponentAuxAgent, rfplan.ComponentJammer, rfplan.ComponentRTUE, rfplan.ComponentSniffer,
	}, reg.Types())

	_, err := reg.Lookup("bluetooth")
	assert.ErrorIs(t, err, rfplan.ErrUnknownComponent)
}

func TestSpecs_HaveReminders(t *testing.T) {
	for _, ct := range rfplan.AllComponentTypes() {
		s := spec(t, ct)
		assert.NotEmpty(t, s.Reminder, ct)
		assert.Contains(t, s.Forbidden, "id", ct)
		for _, f := range s.Forbidden {
			_, declared := s.Schema.Field(f)
			assert.True(t, declared, "%s forbidden field %s must be declared", ct, f)
		}
	}
}

func TestIsB200(t *testing.T) {
	assert.True(t, IsB200("type=B210,serial=123"))
	assert.True(t, IsB200("type=b200"))
	assert.False(t, IsB200("addr=192.168.10.2"))
}
