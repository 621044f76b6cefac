package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/batchsend/batchsend/internal/config"
	"github.com/batchsend/batchsend/internal/logger"
	"github.com/batchsend/batchsend/internal/util"
	"github.com/batchsend/batchsend/internal/vault"
)

func init() {
	// A .env file can override defaults via BATCHSEND_CONFIG and
	// BATCHSEND_DEBUG; missing files are fine.
	_ = godotenv.Load()

	configPath := os.Getenv("BATCHSEND_CONFIG")
	if configPath == "" {
		var err error
		configPath, err = config.DefaultConfigPath()
		if err != nil {
			util.Red.Println("Error setting default config path: ", err)
			os.Exit(1)
		}
	}
	rootCmd.PersistentFlags().StringP("config", "c", configPath, "Path to config file")

	debugDefault := strings.EqualFold(os.Getenv("BATCHSEND_DEBUG"), "true") || os.Getenv("BATCHSEND_DEBUG") == "1"
	rootCmd.PersistentFlags().Bool("debug", debugDefault, "Enable debug logging of SMTP conversations")
}

var rootCmd = &cobra.Command{
	Use:   "batchsend",
	Short: "Batch-send files as email attachments over SMTP",
	Long: `batchsend sends every file in a directory as an individual email
attachment to one or more recipients, one SMTP session per file with
bounded retry on transient failures.

Each run writes an append-only audit log recording the delivery outcome
of every file, and reports per-file status and overall progress while it
runs. SMTP credentials are stored encrypted on your machine.`,
	Run: func(cmd *cobra.Command, args []string) {
		// Show help if no command is provided
		cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadStoreOrExit opens the profile store named by the command flags,
// wiring the vault key from the same directory, and initializes the debug
// log beside it.
func loadStoreOrExit(cmd *cobra.Command) *config.Store {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		util.LogError(util.ConfigError, "reading config flag", err)
		os.Exit(1)
	}

	debug, _ := cmd.Flags().GetBool("debug")
	logPath := filepath.Join(filepath.Dir(configPath), "debug.log")
	if err := logger.Init(logPath, debug); err != nil {
		util.LogError(util.ConfigError, "opening debug log", err)
	} else {
		logger.SetDebug(debug)
	}

	store, err := config.Load(configPath, vault.New(config.DefaultKeyPath(configPath)))
	if err != nil {
		util.LogError(util.ConfigError, "loading configuration", err)
		os.Exit(1)
	}
	return store
}
