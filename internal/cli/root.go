package cli

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "scribe",
	Short: "Real-time clinical transcription capture",
	Long: "scribe captures microphone audio during a clinical encounter, streams it " +
		"to a speech recognition service, and assembles a speaker-labeled transcript " +
		"that is saved to the encounter record.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			return godotenv.Load(envFile)
		}
		// best effort; a missing .env is not an error
		godotenv.Load()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to .env file with secrets")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func Execute() error {
	return rootCmd.Execute()
}
