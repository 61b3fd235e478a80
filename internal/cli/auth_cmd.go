// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// auth_cmd.go - API token management command for the optiq CLI.
//
// Subcommands:
//
//	login [--token T]  Store a token (encrypted at rest)
//	status             Show whether a token is configured
//	logout             Remove the stored token
package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/jeranaias/optiq-tui/internal/auth"
	"github.com/jeranaias/optiq-tui/internal/config"
)

// HandleAuthCommand handles the "auth" command.
func HandleAuthCommand(args Args) error {
	dir, err := config.ConfigDir()
	if err != nil {
		return WrapError(err, "failed to resolve config directory")
	}
	if err := config.EnsureConfigDir(); err != nil {
		return WrapError(err, "failed to create config directory")
	}
	tokens := auth.NewTokenStore(dir)

	switch args.Subcommand {
	case "", "status":
		return authStatus(tokens)
	case "login":
		return authLogin(tokens, args)
	case "logout":
		return authLogout(tokens)
	default:
		return &ValidationError{
			Field:   "subcommand",
			Value:   args.Subcommand,
			Reason:  "unknown auth subcommand",
			Example: "optiq auth [login|logout|status]",
		}
	}
}

// authStatus reports where the effective token comes from.
func authStatus(tokens *auth.TokenStore) error {
	switch {
	case os.Getenv("OPTIQ_TOKEN") != "":
		fmt.Printf("%s Token provided by OPTIQ_TOKEN (overrides the stored token)\n",
			SuccessStyle.Render("[ok]"))
	case tokens.HasToken():
		fmt.Printf("%s Token stored (encrypted at rest)\n", SuccessStyle.Render("[ok]"))
	default:
		fmt.Printf("%s No token configured. Run 'optiq auth login'.\n",
			WarningStyle.Render("[!]"))
	}
	return nil
}

// authLogin stores a token from --token, piped stdin, or a hidden prompt.
func authLogin(tokens *auth.TokenStore, args Args) error {
	token := strings.TrimSpace(args.Token)

	if token == "" && !IsTTY() {
		data, err := io.ReadAll(bufio.NewReader(os.Stdin))
		if err == nil {
			token = strings.TrimSpace(string(data))
		}
	}

	if token == "" {
		if err := RequiresTTY("enter a token"); err != nil {
			return err
		}
		fmt.Print("API token: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return WrapError(err, "failed to read token")
		}
		token = strings.TrimSpace(string(raw))
	}

	if token == "" {
		return ErrMissingArgument("token", "optiq auth login --token YOUR_TOKEN")
	}

	if err := tokens.Set(token); err != nil {
		return WrapError(err, "failed to store token")
	}
	fmt.Printf("%s Token stored.\n", SuccessStyle.Render("[ok]"))
	return nil
}

// authLogout removes the stored token.
func authLogout(tokens *auth.TokenStore) error {
	if err := tokens.Clear(); err != nil {
		return WrapError(err, "failed to remove token")
	}
	fmt.Printf("%s Token removed.\n", SuccessStyle.Render("[ok]"))
	if os.Getenv("OPTIQ_TOKEN") != "" {
		fmt.Printf("%s OPTIQ_TOKEN is still set in the environment.\n",
			WarningStyle.Render("[!]"))
	}
	return nil
}
