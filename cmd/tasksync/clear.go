package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tasksync/internal/sync"
	"github.com/mschirtzinger/tasksync/internal/ui"
)

var clearCmd = &cobra.Command{
	Use:     "clear",
	GroupID: "admin",
	Short:   "Delete stored records and cursors",
	Long: `Delete sync data for one source, or everything when --source is omitted.

This cannot be undone. Pass --confirm ` + sync.ClearConfirmToken + ` to run
non-interactively; on a terminal you are asked to confirm instead.`,
	Run: func(cmd *cobra.Command, args []string) {
		source, _ := cmd.Flags().GetString("source")
		token, _ := cmd.Flags().GetString("confirm")

		if token == "" && ui.IsTerminal(os.Stdin) {
			scope := "ALL sync data"
			if source != "" {
				scope = fmt.Sprintf("all records and the cursor of %q", source)
			}

			var confirmed bool
			err := huh.NewConfirm().
				Title("Delete " + scope + "?").
				Description("This cannot be undone.").
				Affirmative("Delete").
				Negative("Cancel").
				Value(&confirmed).
				Run()
			if err != nil {
				exitf("%v", err)
			}
			if !confirmed {
				fmt.Println("Cancelled")
				return
			}
			token = sync.ClearConfirmToken
		}

		ctx := context.Background()
		svc, backend, err := openService(ctx)
		if err != nil {
			exitf("%v", err)
		}
		defer closeOnExit(backend)()

		result, err := svc.Clear(ctx, sync.ClearRequest{Source: source, Confirm: token})
		if err != nil {
			exitf("%v", err)
		}
		ui.NewPrinter(os.Stdout).Cleared(result)
	},
}

func init() {
	clearCmd.Flags().StringP("source", "s", "", "Only clear this source")
	clearCmd.Flags().String("confirm", "", "Confirmation token ("+sync.ClearConfirmToken+")")
	rootCmd.AddCommand(clearCmd)
}
