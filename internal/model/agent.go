// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// AGENT TYPE
// =============================================================================

// AgentType identifies a pipeline stage. The enumeration is strictly
// ordered: modeler, then coder, then visualizer.
type AgentType string

const (
	AgentModeler    AgentType = "MODELER_AGENT"
	AgentCoder      AgentType = "CODER_AGENT"
	AgentVisualizer AgentType = "VISUALIZER_AGENT"
)

// Pipeline is the fixed stage order.
var Pipeline = []AgentType{AgentModeler, AgentCoder, AgentVisualizer}

// String returns the wire representation of the agent type.
func (a AgentType) String() string {
	return string(a)
}

// DisplayName returns a human-readable stage name.
func (a AgentType) DisplayName() string {
	switch a {
	case AgentModeler:
		return "Mathematical Modeler"
	case AgentCoder:
		return "Python Coder"
	case AgentVisualizer:
		return "Visualizer"
	default:
		return string(a)
	}
}

// Next returns the following pipeline stage, or "" for the final stage
// (and for unknown agent types).
func (a AgentType) Next() AgentType {
	switch a {
	case AgentModeler:
		return AgentCoder
	case AgentCoder:
		return AgentVisualizer
	default:
		return ""
	}
}

// Index returns the stage's position in the pipeline, or -1 if unknown.
func (a AgentType) Index() int {
	for i, stage := range Pipeline {
		if stage == a {
			return i
		}
	}
	return -1
}

// IsValid reports whether a names a known pipeline stage.
func (a AgentType) IsValid() bool {
	return a.Index() >= 0
}

// StageAt returns the agent type for a pipeline position.
// Positions outside the pipeline return "".
func StageAt(index int) AgentType {
	if index < 0 || index >= len(Pipeline) {
		return ""
	}
	return Pipeline[index]
}
