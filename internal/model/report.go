// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"regexp"
	"strings"
)

// =============================================================================
// VISUALIZATION REPORT ENVELOPE
// =============================================================================

// reportEnvelope is the wire encoding the visualizer stage uses for
// structured results. Assistant content is either plain text or this JSON
// object; anything that does not decode cleanly is treated as plain text.
type reportEnvelope struct {
	Type           string            `json:"type"`
	Content        string            `json:"content"`
	GeneratedFiles map[string]string `json:"generated_files"`
}

// reportEnvelopeType is the discriminator value for visualization reports.
const reportEnvelopeType = "visualization_report"

// Report is a decoded visualization result.
type Report struct {
	Content        string
	GeneratedFiles map[string]string
}

// DecodeReport decodes a possible visualization envelope. Decode failure
// is an expected, silent case: the original string comes back as content
// with no generated files.
func DecodeReport(content string) Report {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return Report{Content: content}
	}

	var env reportEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return Report{Content: content}
	}
	if env.Type != reportEnvelopeType {
		return Report{Content: content}
	}

	return Report{Content: env.Content, GeneratedFiles: env.GeneratedFiles}
}

// EncodeReport produces the wire envelope for a visualization result.
func EncodeReport(content string, files map[string]string) (string, error) {
	data, err := json.Marshal(reportEnvelope{
		Type:           reportEnvelopeType,
		Content:        content,
		GeneratedFiles: files,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// fileMarkerRe matches the inline "[FILE: <filename>]" markers the
// rendering layer resolves against the generated files map.
var fileMarkerRe = regexp.MustCompile(`\[FILE:\s*([^\]]+)\]`)

// FileMarkers returns the filenames referenced inline in report content,
// in order of first appearance.
func FileMarkers(content string) []string {
	matches := fileMarkerRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
