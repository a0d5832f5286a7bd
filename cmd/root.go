package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pixelforge",
		Short: "AI design generation service",
		Long: `PixelForge turns a natural-language creative brief into rendered design
images. A language model produces HTML/CSS markup which is screenshotted
through headless Chrome; each request fans out into multiple independently
failing variants, and credits are settled only for the variants that
actually succeed.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCreditsCmd())
	cmd.AddCommand(newExportCmd())

	return cmd
}
