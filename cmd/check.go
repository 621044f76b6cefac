package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/batchsend/batchsend/internal/logger"
	"github.com/batchsend/batchsend/internal/mail"
	"github.com/batchsend/batchsend/internal/util"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the SMTP profile without sending anything",
	Long: `Connects to the configured SMTP server, negotiates TLS as configured,
logs in with the stored credentials, and disconnects. No mail is sent.`,
	Run: func(cmd *cobra.Command, args []string) {
		store := loadStoreOrExit(cmd)
		defer logger.Close()

		util.Cyan.Printf("Checking %s:%d as %s...\n", store.GetServer(), store.GetPort(), store.GetEmail())
		if err := mail.NewSMTPDispatcher(store).Verify(context.Background()); err != nil {
			util.LogError(util.NetworkError, "verifying connection", err)
			os.Exit(1)
		}
		util.GreenBold.Println("Connection successful, credentials are valid")
	},
}
