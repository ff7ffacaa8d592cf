package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/voicedesk/internal/domain"
	"github.com/ashureev/voicedesk/internal/elevenlabs"
	"github.com/ashureev/voicedesk/internal/secrets"
	"github.com/ashureev/voicedesk/internal/store"
	"github.com/ashureev/voicedesk/internal/voice"
)

// --- preview ---

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Synthesize a voice style's preview sample to a file",
	Long: `Synthesize a voice style's preview sample to a file.

Examples:
  voicedesk preview --style calm --out calm.mp3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rawStyle, _ := cmd.Flags().GetString("style")
		out, _ := cmd.Flags().GetString("out")

		style, err := domain.ParseVoiceStyle(rawStyle)
		if err != nil {
			return err
		}
		if out == "" {
			out = string(style) + ".mp3"
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		voices, err := voice.Load(cfg.VoiceCatalogPath)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.VendorTimeout)
		defer cancel()

		repo, err := store.Open(ctx, cfg.DBDriver, cfg.DBPath, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer repo.Close()

		src := secrets.Chain{secrets.Env{}, secrets.Store{Secrets: repo}}
		p := voice.NewPreviewer(voices, src, elevenlabs.NewClientWithBaseURL(cfg.ElevenLabsBaseURL, cfg.VendorTimeout))
		audio, err := p.Preview(ctx, style)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, audio, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(audio), out)
		return nil
	},
}

func init() {
	previewCmd.Flags().String("style", string(domain.DefaultVoiceStyle), "voice style (friendly, professional, energetic, calm)")
	previewCmd.Flags().String("out", "", "output file (default: <style>.mp3)")
}

// --- secrets ---

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage secrets stored in the database",
}

var secretsSetCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "Store a secret, e.g. " + secrets.VendorAPIKey,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		repo, err := store.Open(ctx, cfg.DBDriver, cfg.DBPath, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer repo.Close()

		if err := repo.PutSecret(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored secret %s\n", args[0])
		return nil
	},
}

func init() {
	secretsCmd.AddCommand(secretsSetCmd)
}
