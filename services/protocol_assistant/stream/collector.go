// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream reads the upstream backend's line-delimited JSON replies.
//
// The backend streams a chat turn as one JSON object per line: token
// packets, document packets and finally the complete message. Only the last
// well-formed object matters to the caller.
//
//	{"answer_piece": "The"}
//	{"answer_piece": " protocol"}
//	not json                                  <- skipped
//	{"message_id": 3, "parent_message": 1, "message": "{\"summary\": \"X\"}"}
//
// Collect returns the final object; ExtractJSON decodes the JSON document
// embedded as text in its "message" field.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"unicode/utf8"
)

// MaxLineSize is the longest line Collect decodes; longer lines are skipped.
// The final message packet carries the whole answer plus document metadata
// on a single line.
const MaxLineSize = 4 << 20

// Message is one decoded stream object. Numbers are json.Number.
type Message map[string]any

// String returns the value at key if it is a string.
func (m Message) String(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// Int64 returns the value at key if it is an integral number.
//
// "1" as a JSON string is not accepted; 1.0 is.
func (m Message) Int64(key string) (int64, bool) {
	switch v := m[key].(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, true
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt64(f)
	case float64:
		return floatToInt64(v)
	case int:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}

func floatToInt64(f float64) (int64, bool) {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// =============================================================================
// Collect
// =============================================================================

// Collect reads r to EOF and returns the last line that decoded as a JSON
// object.
//
// # Description
//
// Blank lines are skipped. Lines that are not valid UTF-8, not valid JSON,
// or JSON values other than objects are logged and skipped. Malformed
// content never produces an error.
//
// # Inputs
//
//   - ctx: Checked between lines; cancellation stops the read.
//   - r: The upstream response body. Not closed by Collect.
//
// # Outputs
//
//   - Message: The last decoded object.
//   - bool: False when no line decoded; the Message is then nil.
//   - error: Read failures or ctx errors. Lines over MaxLineSize are
//     skipped like malformed ones.
func Collect(ctx context.Context, r io.Reader) (Message, bool, error) {
	slog.Debug("Collecting streamed response")

	br := bufio.NewReaderSize(r, 64*1024)

	var (
		last    Message
		found   bool
		lineNum int
		buf     []byte
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		raw, oversized, err := readLine(br, buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, false, fmt.Errorf("read stream: %w", err)
		}
		buf = raw
		lineNum++

		if oversized {
			slog.Warn("Skipping oversized stream line", "line", lineNum, "max_bytes", MaxLineSize)
			continue
		}
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}
		slog.Debug("Received stream line", "line", lineNum, "bytes", len(line))

		msg, err := decodeLine(line)
		if err != nil {
			slog.Warn("Skipping malformed stream line",
				"line", lineNum,
				"error", err,
				"content", truncate(line, 200))
			continue
		}
		last, found = msg, true
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	if !found {
		slog.Warn("No valid messages received in stream", "lines", lineNum)
		return nil, false, nil
	}
	slog.Debug("Last streamed message", "keys", len(last))
	return last, true, nil
}

// readLine reads the next line into buf, newline included. A line longer
// than MaxLineSize is consumed to its end and reported as oversized with an
// empty buffer. io.EOF is returned only when nothing was read.
func readLine(br *bufio.Reader, buf []byte) ([]byte, bool, error) {
	buf = buf[:0]
	oversized := false
	read := 0
	for {
		chunk, err := br.ReadSlice('\n')
		read += len(chunk)
		if !oversized {
			if len(buf)+len(bytes.TrimSuffix(chunk, []byte("\n"))) > MaxLineSize {
				oversized, buf = true, buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && read > 0:
			return buf, oversized, nil
		default:
			return buf, oversized, err
		}
	}
}

func decodeLine(line []byte) (Message, error) {
	if !utf8.Valid(line) {
		return nil, errors.New("invalid UTF-8")
	}
	value, err := decodeStrict(line)
	if err != nil {
		return nil, err
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("JSON value is %T, not an object", value)
	}
	return Message(obj), nil
}

// decodeStrict decodes exactly one JSON value and rejects trailing data.
func decodeStrict(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}
	return value, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...(" + strconv.Itoa(len(b)-n) + " more bytes)"
}

// =============================================================================
// Embedded JSON
// =============================================================================

// ExtractJSON decodes text as a single JSON document.
//
// Returns false when text is not valid JSON. Numbers are json.Number so
// that re-encoding preserves them exactly.
func ExtractJSON(text string) (any, bool) {
	value, err := decodeStrict([]byte(text))
	if err != nil {
		slog.Warn("Message is not a JSON document", "error", err)
		return nil, false
	}
	return value, true
}

var markdownJSONBlock = regexp.MustCompile("(?s)```json(.*?)```")

// ExtractJSONMarkdown decodes the first ```json fenced block in text.
//
// Models often wrap JSON in a fence even when asked not to. Returns false
// when there is no block or the first block is not valid JSON.
func ExtractJSONMarkdown(text string) (any, bool) {
	match := markdownJSONBlock.FindStringSubmatch(text)
	if match == nil {
		return nil, false
	}
	value, err := decodeStrict([]byte(match[1]))
	if err != nil {
		slog.Warn("Fenced JSON block is not valid JSON", "error", err)
		return nil, false
	}
	return value, true
}

// IsEmpty reports whether a decoded JSON value carries no content: null,
// false, zero, "", {} or [].
func IsEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case bool:
		return !v
	case string:
		return v == ""
	case json.Number:
		f, err := v.Float64()
		return err == nil && f == 0
	case float64:
		return v == 0
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	default:
		return false
	}
}
