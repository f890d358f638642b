package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/playernotes/internal/config"
	"github.com/MarcoPoloResearchLab/playernotes/internal/faceit"
	"github.com/MarcoPoloResearchLab/playernotes/internal/transfer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newExportCommand() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every note and the note colors to an export file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			app, err := newApplication(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer app.Close()

			exportedAt := time.Now()
			if outPath == "" {
				outPath = transfer.FileName(exportedAt)
			}
			file, err := os.Create(outPath)
			if err != nil {
				return err
			}
			document := transfer.Build(app.store, app.settings, exportedAt)
			if err := transfer.Encode(file, document); err != nil {
				_ = file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return err
			}
			app.logger.Info("notes exported", zap.String("path", outPath), zap.Int("notes", len(document.Notes)))
			fmt.Fprintln(cmd.OutOrStdout(), outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "Destination file (defaults to faceit-notes-<date>.json)")
	return cmd
}

func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Merge an export file into the stored notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			document, err := transfer.Decode(file)
			_ = file.Close()
			if err != nil {
				return err
			}

			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			app, err := newApplication(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := transfer.Import(cmd.Context(), document, app.store, app.settings)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d notes, %d skipped, colors applied: %t\n",
				result.Imported, result.Skipped, result.ColorsApplied)
			return nil
		},
	}
}

func newSyncMatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-match <room-url|match-id>",
		Short: "Fetch the players of a match and reconcile stored notes with their identities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			matchID := strings.TrimSpace(args[0])
			if extracted, ok := faceit.ExtractMatchID(matchID); ok {
				matchID = extracted
			}

			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			app, err := newApplication(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer app.Close()

			client, err := app.matchClient()
			if err != nil {
				return err
			}
			batch, err := client.LoadMatchPlayers(cmd.Context(), matchID)
			if err != nil {
				return err
			}
			result, err := app.resolver.Ingest(cmd.Context(), app.store, batch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "match %s: %d accepted, %d skipped, %d renamed, %d rekeyed\n",
				matchID, result.Accepted, result.Skipped, result.Renamed, result.Rekeyed)
			return nil
		},
	}
}

func newTokenCommand() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an install token for the extension",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := newTokenIssuer(appConfig)
			if err != nil {
				return err
			}
			issued, err := issuer.Issue(subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), issued.Token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", issued.ExpiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "extension", "Install identifier carried in the token subject")
	return cmd
}
