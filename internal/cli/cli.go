// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and command routing for optiq.
package cli

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdTUI Command = iota
	CmdAsk
	CmdChat
	CmdSessions
	CmdConfig
	CmdAuth
	CmdVersion
	CmdHelp
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet     bool
	Verbose   bool
	JSON      bool   // Output in JSON format
	ServerURL string // --server override

	// Command-specific
	Query      string
	Files      []string // -f/--file attachments (repeatable)
	Full       bool     // ask: run all three stages
	OutputDir  string   // ask: write generated files here
	Remote     bool     // sessions: list from the server instead of cache
	Subcommand string
	ConfigKey  string
	ConfigVal  string
	Token      string // auth login --token

	// Raw args (remaining after flag parsing)
	Raw []string
}

const usageText = `optiq - decision-model assistant for the command line

Optiq turns a plain-language optimization problem into a mathematical
model, solver code, and a visual report through a three-stage agent
pipeline (modeler, coder, visualizer). Each stage produces a draft you
accept before the next one runs.

Usage:
  optiq                      Start TUI (default)
  optiq ask "problem"        One-shot: model a problem and print the answer
  optiq chat                 Interactive pipeline REPL
  optiq sessions             List saved conversations
  optiq config [show|set|path|init]  Configuration
  optiq auth [login|logout|status]   API token management
  optiq version              Show version
  optiq help                 Show this help

Ask Command:
  optiq ask "Schedule 12 nurses across 3 shifts"
  optiq ask "Plan truck routes" --file depots.csv --file demand.csv
  optiq ask "Blend feed at minimum cost" --full
    -f, --file FILE          Attach a data file (repeatable)
    --full                   Run all three stages, auto-accepting each draft
    --out DIR                Write generated report files to DIR (implies --full)
    --json                   Print the result as JSON

Chat Commands (during chat):
  /accept                    Accept the current draft and advance the pipeline
  /retry                     Reissue the last failed request
  /stage N                   View pipeline stage N (1-3)
  /files [DIR]               List or save the report's generated files
  /new                       Start a fresh conversation
  /list                      List conversations
  /open N                    Resume conversation N from the list
  /help                      Show chat commands
  /quit                      Exit chat

Sessions Command:
  optiq sessions             List cached conversations (newest first)
  optiq sessions --remote    List conversations known to the server
    --json                   Output in JSON format

Config Commands:
  optiq config show          Show effective configuration (default)
  optiq config path          Print the config file path
  optiq config init          Write a default config file
  optiq config set KEY VALUE Set a value and save
    Keys: server.url, server.timeout_secs, polling.interval_ms,
          polling.max_attempts, chat.auto_advance_delay_ms,
          cache.enabled, cache.max_conversations, ui.theme

Auth Commands:
  optiq auth login           Store an API token (prompted, hidden input)
    --token TOKEN            Provide the token on the command line
  optiq auth status          Show whether a token is configured
  optiq auth logout          Remove the stored token

Global Flags:
  --server URL    Override the configured server URL
  -q, --quiet     Minimal output
  -v, --verbose   Debug output
  --json          Output in JSON format

Environment:
  OPTIQ_SERVER_URL, OPTIQ_TOKEN, OPTIQ_POLL_INTERVAL_MS,
  OPTIQ_POLL_MAX_ATTEMPTS, OPTIQ_THEME, OPTIQ_CACHE_PATH

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Printf(usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("optiq version %s\n", Version)
	fmt.Printf("  Git commit: %s\n", GitCommit)
	fmt.Printf("  Build date: %s\n", BuildDate)
}

// Parse parses command-line arguments and returns the command and args.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses the given argument list. Split out from Parse for
// testability.
func ParseArgs(args []string) (Command, Args) {
	remaining, parsedArgs := parseGlobalFlags(args)

	if len(remaining) == 0 {
		return CmdTUI, parsedArgs
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	parsedArgs.Raw = remaining

	switch cmd {
	case "tui":
		return CmdTUI, parsedArgs

	case "ask":
		parseAskArgs(&parsedArgs, remaining)
		return CmdAsk, parsedArgs

	case "chat":
		return CmdChat, parsedArgs

	case "sessions", "session", "ls":
		parseSessionsArgs(&parsedArgs, remaining)
		return CmdSessions, parsedArgs

	case "config":
		parseConfigArgs(&parsedArgs, remaining)
		return CmdConfig, parsedArgs

	case "auth", "login", "logout":
		parseAuthArgs(&parsedArgs, cmd, remaining)
		return CmdAuth, parsedArgs

	case "version", "--version":
		return CmdVersion, parsedArgs

	case "help", "-h", "--help":
		return CmdHelp, parsedArgs

	default:
		// Unknown command. Treat the whole line as a question so that
		// `optiq "schedule my fleet"` does the obvious thing.
		parseAskArgs(&parsedArgs, append([]string{cmd}, remaining...))
		return CmdAsk, parsedArgs
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsedArgs Args

	i := 0
	for i < len(args) {
		arg := args[i]

		switch arg {
		case "-q", "--quiet":
			parsedArgs.Quiet = true
		case "-v", "--verbose":
			parsedArgs.Verbose = true
		case "--json":
			parsedArgs.JSON = true
		case "--server":
			if i+1 < len(args) {
				i++
				parsedArgs.ServerURL = args[i]
			}
		default:
			if strings.HasPrefix(arg, "--server=") {
				parsedArgs.ServerURL = strings.TrimPrefix(arg, "--server=")
			} else {
				remaining = append(remaining, arg)
			}
		}
		i++
	}

	return remaining, parsedArgs
}

// parseAskArgs parses ask command specific arguments.
func parseAskArgs(args *Args, remaining []string) {
	var query []string

	i := 0
	for i < len(remaining) {
		arg := remaining[i]

		switch arg {
		case "-f", "--file":
			if i+1 < len(remaining) {
				i++
				args.Files = append(args.Files, remaining[i])
			}
		case "--full":
			args.Full = true
		case "--out":
			if i+1 < len(remaining) {
				i++
				args.OutputDir = remaining[i]
				args.Full = true
			}
		default:
			switch {
			case strings.HasPrefix(arg, "--file="):
				args.Files = append(args.Files, strings.TrimPrefix(arg, "--file="))
			case strings.HasPrefix(arg, "--out="):
				args.OutputDir = strings.TrimPrefix(arg, "--out=")
				args.Full = true
			case !strings.HasPrefix(arg, "-"):
				query = append(query, arg)
			}
		}
		i++
	}

	args.Query = strings.Join(query, " ")
}

// parseSessionsArgs parses sessions command specific arguments.
func parseSessionsArgs(args *Args, remaining []string) {
	for _, arg := range remaining {
		if arg == "--remote" || arg == "-r" {
			args.Remote = true
		}
	}
}

// parseConfigArgs parses config command specific arguments.
func parseConfigArgs(args *Args, remaining []string) {
	if len(remaining) > 0 {
		args.Subcommand = remaining[0]
		if len(remaining) > 1 {
			args.ConfigKey = remaining[1]
		}
		if len(remaining) > 2 {
			args.ConfigVal = remaining[2]
		}
	}
}

// parseAuthArgs parses auth command specific arguments. "optiq login"
// and "optiq logout" are shorthands for the auth subcommands.
func parseAuthArgs(args *Args, cmd string, remaining []string) {
	if cmd == "login" || cmd == "logout" {
		args.Subcommand = cmd
	} else if len(remaining) > 0 {
		args.Subcommand = remaining[0]
	}

	for i := 0; i < len(remaining); i++ {
		arg := remaining[i]
		switch {
		case arg == "--token" && i+1 < len(remaining):
			args.Token = remaining[i+1]
			i++
		case strings.HasPrefix(arg, "--token="):
			args.Token = strings.TrimPrefix(arg, "--token=")
		}
	}
}

// =============================================================================
// COMMAND HANDLERS
// =============================================================================

// HandleAsk handles the "ask" command.
func HandleAsk(args Args) {
	if err := HandleAskCommand(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(GetExitCode(err))
	}
}

// HandleChat handles the "chat" command.
func HandleChat(args Args) {
	if err := HandleChatCommand(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(GetExitCode(err))
	}
}

// HandleSessions handles the "sessions" command.
func HandleSessions(args Args) {
	if err := HandleSessionsCommand(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(GetExitCode(err))
	}
}

// HandleConfig handles the "config" command.
func HandleConfig(args Args) {
	if err := HandleConfigCommand(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(GetExitCode(err))
	}
}

// HandleAuth handles the "auth" command.
func HandleAuth(args Args) {
	if err := HandleAuthCommand(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(GetExitCode(err))
	}
}

// HandleVersion handles the "version" command.
func HandleVersion(args Args) {
	if args.JSON {
		resp := NewJSONResponse("version", VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		})
		resp.Print()
		return
	}
	PrintVersion()
}

// HandleHelp handles the "help" command.
func HandleHelp() {
	PrintUsage()
}
