// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"encoding/base64"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/optiq-tui/internal/ui/styles"
)

// =============================================================================
// GENERATED FILE CARDS
// =============================================================================

// fileMarkerPrefix and fileMarkerSuffix delimit inline artifact
// references in visualizer answers, e.g. "[FILE: results.png]".
const (
	fileMarkerPrefix = "[FILE: "
	fileMarkerSuffix = "]"
)

// FileCard describes one generated visualization artifact.
type FileCard struct {
	Name string
	// Size is the decoded payload size in bytes, -1 when unknown.
	Size int
}

// NewFileCard builds a card from an artifact name and its base64
// payload. Payloads that fail to decode are sized as raw bytes, which
// matches how they are written to disk.
func NewFileCard(name, payload string) FileCard {
	size := len(payload)
	if decoded, err := base64.StdEncoding.DecodeString(payload); err == nil {
		size = len(decoded)
	}
	return FileCard{Name: name, Size: size}
}

// Render returns the styled card line.
func (f FileCard) Render(theme *styles.Theme) string {
	label := "⎙ " + f.Name
	if f.Size >= 0 {
		label += "  " + formatFileSize(f.Size)
	}
	return theme.FileCard.Render(label)
}

// ReplaceFileMarkers substitutes "[FILE: name]" markers in answer text
// with rendered cards. Markers naming files absent from the artifact
// map are left untouched so the reader still sees the reference.
func ReplaceFileMarkers(text string, generated map[string]string, theme *styles.Theme) string {
	if len(generated) == 0 {
		return text
	}

	var out strings.Builder
	rest := text
	for {
		start := strings.Index(rest, fileMarkerPrefix)
		if start < 0 {
			out.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], fileMarkerSuffix)
		if end < 0 {
			out.WriteString(rest)
			break
		}
		end += start

		name := strings.TrimSpace(rest[start+len(fileMarkerPrefix) : end])
		out.WriteString(rest[:start])
		if payload, ok := generated[name]; ok {
			out.WriteString(NewFileCard(name, payload).Render(theme))
		} else {
			out.WriteString(rest[start : end+1])
		}
		rest = rest[end+1:]
	}
	return out.String()
}

// RenderFileList renders cards for every artifact, sorted by name, for
// display under a visualizer answer.
func RenderFileList(generated map[string]string, theme *styles.Theme) string {
	if len(generated) == 0 {
		return ""
	}

	names := make([]string, 0, len(generated))
	for name := range generated {
		names = append(names, name)
	}
	sort.Strings(names)

	cards := make([]string, 0, len(names))
	for _, name := range names {
		cards = append(cards, NewFileCard(name, generated[name]).Render(theme))
	}
	return lipgloss.JoinVertical(lipgloss.Left, cards...)
}

// formatFileSize prints a byte count in human units.
func formatFileSize(n int) string {
	switch {
	case n >= 1<<20:
		return strconv.Itoa(n/(1<<20)) + " MiB"
	case n >= 1<<10:
		return strconv.Itoa(n/(1<<10)) + " KiB"
	default:
		return strconv.Itoa(n) + " B"
	}
}
