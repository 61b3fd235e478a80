// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// sessions.go - Conversation listing command for the optiq CLI.
//
// "optiq sessions" lists the offline cache by default so it works
// without connectivity; --remote queries the server instead.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jeranaias/optiq-tui/internal/model"
	"github.com/jeranaias/optiq-tui/internal/util"
)

// HandleSessionsCommand handles the "sessions" command.
func HandleSessionsCommand(args Args) error {
	app, err := NewApp(args)
	if err != nil {
		return err
	}

	var sessions []SessionData

	if args.Remote {
		if err := app.RequireToken(); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		records, err := app.Client.ListConversations(ctx)
		if err != nil {
			return WrapError(err, "failed to list conversations")
		}
		for _, rec := range records {
			sessions = append(sessions, SessionData{
				ID:        rec.ID,
				BackendID: rec.ID,
				Title:     rec.Title,
				CreatedAt: rec.CreatedAt,
				UpdatedAt: rec.UpdatedAt,
			})
		}
	} else {
		offline := app.OpenCache()
		if offline == nil {
			return fmt.Errorf("conversation cache is disabled; use --remote to list from the server")
		}
		defer offline.Close()
		metas, err := offline.Metas()
		if err != nil {
			return WrapError(err, "failed to read conversation cache")
		}
		sessions = sessionData(metas)
	}

	if args.JSON {
		return NewJSONResponse("sessions", sessions).Print()
	}

	if len(sessions) == 0 {
		fmt.Println(DimStyle.Render("No conversations found."))
		return nil
	}

	source := "cached"
	if args.Remote {
		source = "server"
	}
	fmt.Println(TitleStyle.Render(fmt.Sprintf("Conversations (%s)", source)))
	for i, s := range sessions {
		fmt.Printf("  %2d. %-50s %s\n", i+1, util.TruncateWidth(s.Title, 50),
			DimStyle.Render(formatRelativeTime(s.UpdatedAt)))
	}
	fmt.Println()
	fmt.Println(DimStyle.Render("Resume one with /open inside 'optiq chat'."))
	return nil
}

// sessionData converts cache metadata into the listing shape.
func sessionData(metas []model.Meta) []SessionData {
	out := make([]SessionData, 0, len(metas))
	for _, m := range metas {
		out = append(out, SessionData{
			ID:        m.ID,
			BackendID: m.BackendID,
			Title:     m.Title,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		})
	}
	return out
}
