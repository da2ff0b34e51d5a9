// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extract pulls a single JSON value out of free-form model output.
//
// Candidates are tried in this order:
//
//  1. Every fenced code block (```json ... ``` or ``` ... ```), in order.
//  2. The slice between the first and last bracket pair whose opening
//     delimiter appears first in the text ("[" or "{"), then the other.
//
// Each candidate is decoded strictly: an object with a repeated key, trailing
// data after the value, or an empty candidate is a failure. Nothing partial
// is ever returned.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianRF/services/rfplan"
)

var fencePattern = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\r?\n?(.*?)```")

// JSON extracts the first strictly valid JSON value from text.
//
// Description:
//
//	Objects decode to map[string]any and arrays to []any. Integer literals
//	decode to int64, literals with a fraction or exponent to float64.
//
// Outputs:
//
//	any - The decoded value.
//	error - *rfplan.ExtractionError when no candidate parses.
func JSON(text string) (any, error) {
	return firstOf(text, "", func(any) bool { return true })
}

// Object extracts the first candidate in text that decodes to a JSON object.
// Arrays met on the way, such as a quoted range in prose, are skipped.
func Object(text string) (map[string]any, error) {
	v, err := firstOf(text, "object", func(v any) bool {
		_, ok := v.(map[string]any)
		return ok
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// Array extracts the first candidate in text that decodes to a JSON array.
func Array(text string) ([]any, error) {
	v, err := firstOf(text, "array", func(v any) bool {
		_, ok := v.([]any)
		return ok
	})
	if err != nil {
		return nil, err
	}
	return v.([]any), nil
}

// firstOf walks the candidates in priority order and returns the first that
// decodes and satisfies want. When nothing matches, a candidate that decoded
// to the wrong kind is reported ahead of parse errors.
func firstOf(text, kind string, want func(any) bool) (any, error) {
	var (
		lastErr error
		wrong   any
		seen    bool
	)
	for _, candidate := range Candidates(text) {
		v, err := Decode(candidate)
		if err != nil {
			lastErr = err
			continue
		}
		if want(v) {
			return v, nil
		}
		if !seen {
			wrong, seen = v, true
		}
	}
	if seen {
		return nil, &rfplan.ExtractionError{Reason: fmt.Sprintf("expected a JSON %s, got %s", kind, kindOf(wrong))}
	}
	reason := "empty input"
	if lastErr != nil {
		reason = lastErr.Error()
	} else if strings.TrimSpace(text) != "" {
		reason = "no JSON object or array found"
	}
	return nil, &rfplan.ExtractionError{Reason: reason}
}

// Candidates lists the substrings of text worth decoding, in priority order.
func Candidates(text string) []string {
	var out []string
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}

	arr := slice(text, '[', ']')
	obj := slice(text, '{', '}')
	first, second := arr, obj
	if oi, ai := strings.IndexByte(text, '{'), strings.IndexByte(text, '['); oi >= 0 && (ai < 0 || oi < ai) {
		first, second = obj, arr
	}
	if first != "" {
		out = append(out, first)
	}
	if second != "" {
		out = append(out, second)
	}
	return out
}

func slice(text string, open, close byte) string {
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, close)
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// Decode strictly decodes exactly one JSON value from s.
func Decode(s string) (any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("empty candidate")
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if tok, err := dec.Token(); err != io.EOF {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("unexpected trailing data %v", tok)
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", t)
		}
	case json.Number:
		return number(t)
	case string, bool, nil:
		return t, nil
	default:
		return nil, fmt.Errorf("unexpected token %v", tok)
	}
}

func decodeObject(dec *json.Decoder) (map[string]any, error) {
	obj := make(map[string]any)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("object key is not a string: %v", keyTok)
		}
		if _, dup := obj[key]; dup {
			return nil, fmt.Errorf("duplicate key %q", key)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		obj[key] = v
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return obj, nil
}

func decodeArray(dec *json.Decoder) ([]any, error) {
	arr := []any{}
	for dec.More() {
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	return arr, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func number(n json.Number) (any, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return f, nil
}

func kindOf(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return "number"
	}
}
