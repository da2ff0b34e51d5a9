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
	"fmt"
	"regexp"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
	"github.com/AleutianAI/AleutianRF/services/rfplan/schema"
)

// RTUESchema declares the UE emulator's flat keys. The prefix of each key
// selects its INI section through INISections.
var RTUESchema = schema.New("rtue",
	schema.Req("id", schema.KindString),
	schema.Opt("rf_freq_offset", schema.KindInt),
	schema.Req("rf_tx_gain", schema.KindNumber),
	schema.Req("rf_rx_gain", schema.KindNumber),
	schema.Req("rf_srate", schema.KindNumber),
	schema.Opt("rf_nof_antennas", schema.KindInt),
	schema.Opt("rf_device_name", schema.KindString),
	schema.Opt("rf_device_args", schema.KindString),
	schema.Opt("rat_eutra_dl_earfcn", schema.KindInt),
	schema.Opt("rat_eutra_nof_carriers", schema.KindInt),
	schema.Req("rat_nr_bands", schema.KindInt),
	schema.Opt("rat_nr_nof_carriers", schema.KindInt),
	schema.Opt("rat_nr_max_nof_prb", schema.KindInt),
	schema.Req("rat_nr_nof_prb", schema.KindInt),
	schema.Opt("pcap_enable", schema.KindString),
	schema.Opt("pcap_mac_filename", schema.KindString),
	schema.Opt("pcap_mac_nr_filename", schema.KindString),
	schema.Opt("pcap_nas_filename", schema.KindString),
	schema.Opt("log_all_level", schema.KindString),
	schema.Opt("log_phy_lib_level", schema.KindString),
	schema.Opt("log_all_hex_limit", schema.KindInt),
	schema.Opt("log_filename", schema.KindString),
	schema.Opt("log_file_max_size", schema.KindInt),
	schema.Opt("usim_mode", schema.KindString),
	schema.Opt("usim_algo", schema.KindString),
	schema.Opt("usim_opc", schema.KindString),
	schema.Opt("usim_k", schema.KindString),
	schema.Req("usim_imsi", schema.KindString),
	schema.Opt("usim_imei", schema.KindString),
	schema.Opt("rrc_release", schema.KindInt),
	schema.Opt("rrc_ue_category", schema.KindInt),
	schema.Req("nas_apn", schema.KindString),
	schema.Opt("nas_apn_protocol", schema.KindString),
	schema.Opt("gui_enable", schema.KindBool),
	schema.Opt("gw_ip_devname", schema.KindString),
	schema.Opt("gw_ip_netmask", schema.KindString),
	schema.Opt("general_metrics_influxdb_enable", schema.KindBool),
	schema.Opt("general_metrics_influxdb_url", schema.KindString),
	schema.Opt("general_metrics_influxdb_port", schema.KindInt),
	schema.Opt("general_metrics_influxdb_org", schema.KindString),
	schema.Opt("general_metrics_influxdb_token", schema.KindString),
	schema.Opt("general_metrics_influxdb_bucket", schema.KindString),
	schema.Opt("general_metrics_period_secs", schema.KindNumber),
	schema.Opt("general_ue_data_identifier", schema.KindString),
)

const rtueReminder = `Apply these constraints strictly for 'rtue':
- rf_srate > 0; rf_tx_gain and rf_rx_gain in [0,90].
- rat_nr_nof_prb > 0 and rat_nr_max_nof_prb >= rat_nr_nof_prb.
- If rf_srate is about 23.04e6 or 30.72e6 then rat_nr_nof_prb must be 106.
- rf_device_name is uhd (rf_device_args needs addr=...) or zmq (tx_port and rx_port as tcp://ip:port).`

var zmqPortPattern = regexp.MustCompile(`^tcp://[\d.]+:\d+$`)

// RTUESpec returns the UE emulator registry entry.
func RTUESpec() *Spec {
	return &Spec{
		Type:      rfplan.ComponentRTUE,
		Schema:    RTUESchema,
		Semantic:  ValidateRTUE,
		Compiler:  CompileINI,
		Format:    "ini",
		Forbidden: []string{"id", "rf_device_name", "rf_device_args", "usim_imsi"},
		Envelopes: []Envelope{
			{Field: "rf_srate", Range: rfplan.Range{Lo: 23.04e6, Hi: 30.72e6}, Bonus: 0.5},
			{Field: "rf_tx_gain", Range: rfplan.Range{Lo: 40, Hi: 80}, Bonus: 0.25},
		},
		Reminder: rtueReminder,
	}
}

// ValidateRTUE checks radio device args, gains and carrier sizing.
func ValidateRTUE(cfg rfplan.ComponentConfig) *rfplan.ValidationResult {
	c := newChecker(cfg)

	args, _ := cfg.String("rf_device_args")
	if _, present := cfg["rf_device_name"]; present {
		switch c.oneOfStrings("rf_device_name", "uhd", "zmq") {
		case "uhd":
			checkUHDArgs(c, args)
		case "zmq":
			checkZMQArgs(c, args)
		}
	}

	c.positive("rf_srate")
	c.between("rf_tx_gain", MinGain, MaxGain)
	c.between("rf_rx_gain", MinGain, MaxGain)
	c.positive("rat_nr_nof_prb")
	c.positive("rat_nr_max_nof_prb")
	prb, okPRB := cfg.Number("rat_nr_nof_prb")
	maxPRB, okMax := cfg.Number("rat_nr_max_nof_prb")
	if okPRB && okMax && prb > 0 && maxPRB > 0 && maxPRB < prb {
		c.res.Fail("rat_nr_max_nof_prb", "rat_nr_max_nof_prb must be >= rat_nr_nof_prb",
			rfplan.Hint{Kind: rfplan.HintMin, Min: rfplan.F(prb), RelativeTo: "rat_nr_nof_prb", Actual: rfplan.F(maxPRB)})
	}
	c.prbForRate("rf_srate", "rat_nr_nof_prb")

	if IsB200(args) {
		c.atMost("rf_srate", B200MaxSamplingRate, "rf_srate exceeds B200-family practical maximum (~61.44e6)")
	}

	return c.res
}

func checkUHDArgs(c *checker, args string) {
	if _, ok := ParseDeviceArgs(args)["addr"]; !ok {
		c.res.Fail("rf_device_args", "missing 'addr' in UHD args",
			rfplan.Hint{Kind: rfplan.HintPattern})
	}
}

func checkZMQArgs(c *checker, args string) {
	parsed := ParseDeviceArgs(args)
	for _, port := range []string{"tx_port", "rx_port"} {
		v, ok := parsed[port]
		if !ok {
			c.res.Fail("rf_device_args", fmt.Sprintf("missing '%s' in ZMQ args", port),
				rfplan.Hint{Kind: rfplan.HintPattern})
			continue
		}
		if !zmqPortPattern.MatchString(v) {
			c.res.Fail("rf_device_args", fmt.Sprintf("invalid format for %s: %s", port, v),
				rfplan.Hint{Kind: rfplan.HintPattern})
		}
	}
}
