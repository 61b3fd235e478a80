// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot query command handler for the optiq CLI.
//
// Handles "optiq ask" which submits a problem to the modeler stage,
// polls the job to completion, and prints the rendered draft. With
// --full the coder and visualizer stages run as well, auto-accepting
// each draft, so a single invocation yields the complete report.
//
// Examples:
//
//	optiq ask "Schedule 12 nurses across 3 shifts"
//	optiq ask "Plan truck routes" --file depots.csv
//	optiq ask "Blend feed at minimum cost" --full --out ./report
package cli

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/optiq-tui/internal/api"
	"github.com/jeranaias/optiq-tui/internal/model"
	"github.com/jeranaias/optiq-tui/internal/util"
)

// MaxAttachmentSize is the largest data file accepted with --file (1MB).
const MaxAttachmentSize = 1 << 20

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// markdownRenderer is the glamour renderer for answer output.
var markdownRenderer *glamour.TermRenderer

func init() {
	var err error
	markdownRenderer, err = glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(DefaultTerminalWidth),
	)
	if err != nil {
		markdownRenderer = nil
	}
}

// renderMarkdown renders markdown content for terminal display.
// Returns the original content if rendering fails.
func renderMarkdown(content string) string {
	if markdownRenderer == nil {
		return content
	}
	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// displayAnswer prints an answer, rendering markdown only on a TTY so
// piped output stays clean.
func displayAnswer(content string) {
	if IsStdoutTTY() {
		fmt.Print(renderMarkdown(content))
	} else {
		fmt.Println(content)
	}
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

// readAttachment loads a data file for upload alongside the prompt.
func readAttachment(path string) (api.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return api.File{}, &NotFoundError{Resource: "file", ID: path}
		}
		return api.File{}, WrapError(err, "cannot access file")
	}
	if info.Size() > MaxAttachmentSize {
		return api.File{}, fmt.Errorf("file too large: %s is %d bytes (max %d)", path, info.Size(), MaxAttachmentSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return api.File{}, WrapError(err, "failed to read file")
	}
	return api.File{Name: filepath.Base(path), Data: data}, nil
}

// =============================================================================
// ASK HANDLER
// =============================================================================

// HandleAskCommand handles the "ask" command: submit, poll, print.
func HandleAskCommand(args Args) error {
	app, err := NewApp(args)
	if err != nil {
		return err
	}
	if err := app.RequireToken(); err != nil {
		return err
	}

	question := strings.TrimSpace(args.Query)

	// No question on the command line: accept piped input.
	if question == "" && !IsTTY() {
		stdinData, err := io.ReadAll(bufio.NewReader(os.Stdin))
		if err == nil {
			question = strings.TrimSpace(string(stdinData))
		}
	}
	if question == "" {
		return ErrMissingArgument("question", `optiq ask "your problem"`)
	}

	var files []api.File
	for _, path := range args.Files {
		f, err := readAttachment(path)
		if err != nil {
			return err
		}
		files = append(files, f)
		if !args.Quiet {
			fmt.Fprintf(os.Stderr, "%s Attaching %s (%d bytes)\n",
				InfoStyle.Render("[+]"), f.Name, len(f.Data))
		}
	}

	stages := model.Pipeline[:1]
	if args.Full {
		stages = model.Pipeline
	}

	start := time.Now()
	result := AskData{}
	ctx := context.Background()

	// IDs the later stages generate against.
	var conversationID, acceptedModelID, acceptedCodeID string

	for i, stage := range stages {
		req := api.JobRequest{
			AgentType:              stage,
			Prompt:                 question,
			ConversationID:         conversationID,
			AcceptedModelMessageID: acceptedModelID,
			AcceptedCodeMessageID:  acceptedCodeID,
		}
		if stage == model.AgentModeler {
			req.Files = files
		} else {
			// Later stages auto-generate from the accepted drafts.
			req.Prompt = " "
		}

		if !args.Quiet {
			fmt.Fprintf(os.Stderr, "%s working...\n",
				RenderStageHeader(i+1, len(stages), shortStageName(stage)))
		}

		status, convID, err := runStageJob(ctx, app, req)
		if err != nil {
			if args.JSON {
				NewJSONErrorResponse("ask", err).Print()
			}
			return err
		}
		if convID != "" {
			conversationID = convID
		}

		stageData := AskStageData{
			Stage:     shortStageName(stage),
			MessageID: status.MessageID,
		}

		content := status.Answer
		var generated map[string]string
		if stage == model.AgentVisualizer {
			report := model.DecodeReport(status.Answer)
			content = report.Content
			generated = report.GeneratedFiles
		}
		stageData.Answer = content
		for name := range generated {
			stageData.GeneratedFiles = append(stageData.GeneratedFiles, name)
		}
		result.Stages = append(result.Stages, stageData)

		if !args.JSON {
			if len(stages) > 1 {
				fmt.Println(StageStyle.Render("## " + stage.DisplayName()))
				fmt.Println()
			}
			displayAnswer(content)
			fmt.Println()
		}

		if len(generated) > 0 && args.OutputDir != "" {
			if err := writeGeneratedFiles(args.OutputDir, generated, args.Quiet); err != nil {
				return err
			}
		} else if len(generated) > 0 && !args.JSON {
			for name := range generated {
				fmt.Fprintf(os.Stderr, "%s Generated file available: %s (use --out DIR to save)\n",
					InfoStyle.Render("[+]"), name)
			}
		}

		// The draft we just received is the context for the next stage.
		switch stage {
		case model.AgentModeler:
			acceptedModelID = status.MessageID
		case model.AgentCoder:
			acceptedCodeID = status.MessageID
		}
	}

	if !args.Quiet && !args.JSON {
		fmt.Fprintf(os.Stderr, "%s\n",
			DimStyle.Render("Done in "+formatDurationShort(time.Since(start))))
	}

	if args.JSON {
		result.ConversationID = conversationID
		result.DurationMs = time.Since(start).Milliseconds()
		return NewJSONResponse("ask", result).Print()
	}
	return nil
}

// runStageJob submits one job and blocks until it resolves. Returns the
// final status and the backend conversation id when one was assigned.
func runStageJob(ctx context.Context, app *App, req api.JobRequest) (*api.JobStatus, string, error) {
	resp, err := app.Client.SubmitJob(ctx, req)
	if err != nil {
		return nil, "", WrapError(err, "submission failed")
	}

	status, err := app.Client.PollJob(ctx, resp.JobID, nil).Wait()
	if err != nil {
		return nil, resp.ConversationID, err
	}
	return status, resp.ConversationID, nil
}

// writeGeneratedFiles decodes the report's base64 payloads into dir.
func writeGeneratedFiles(dir string, generated map[string]string, quiet bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WrapError(err, "failed to create output directory")
	}
	for name, payload := range generated {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// Backend occasionally returns text files unencoded.
			data = []byte(payload)
		}
		path := filepath.Join(dir, filepath.Base(name))
		if err := util.AtomicWriteFile(path, data, 0o644); err != nil {
			return WrapError(err, "failed to write "+name)
		}
		if !quiet {
			fmt.Fprintf(os.Stderr, "%s Wrote %s\n", SuccessStyle.Render("[ok]"), path)
		}
	}
	return nil
}
