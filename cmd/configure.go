package cmd

import (
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/batchsend/batchsend/internal/util"
)

func init() {
	rootCmd.AddCommand(configureCmd)
}

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Configure SMTP connection settings",
	Long: `Interactively edit the SMTP profile: server, port, sender account,
password, and TLS/SSL negotiation. The password is stored encrypted;
leaving the password prompt empty keeps the existing one.`,
	Run: func(cmd *cobra.Command, args []string) {
		store := loadStoreOrExit(cmd)
		configPath, _ := cmd.Flags().GetString("config")

		util.CyanBold.Println("CONFIGURE BATCHSEND")
		util.Cyan.Println("Press enter to keep the current value.")

		server := promptString("SMTP server", store.GetServer())
		port := promptPort("SMTP port (usually 587 or 465)", store.GetPort())
		email := promptString("Sender email", store.GetEmail())

		passwordHint := "not set"
		if store.GetPasswordToken() != "" {
			passwordHint = "stored encrypted"
		}
		util.Cyan.Printf("Password (currently %s, empty keeps it) : ", passwordHint)
		password := util.ScanlineTrim()

		useTLS := promptBool("Use STARTTLS", store.GetUseTLS())
		useSSL := promptBool("Use implicit SSL (skips STARTTLS)", store.GetUseSSL())

		if err := store.Update(server, port, email, password, useTLS, useSSL); err != nil {
			util.LogError(util.ConfigError, "saving configuration", err)
			os.Exit(1)
		}
		util.Green.Printf("Configuration saved to %s\n", configPath)

		util.CyanBold.Println("\nNext steps:")
		util.Cyan.Println("- Run 'batchsend check' to verify the credentials against the server")
		util.Cyan.Println("- Run 'batchsend send <directory> --to <recipients>' to start a batch")
	},
}

func promptString(label, current string) string {
	util.Cyan.Printf("%s (current: %s) : ", label, current)
	if v := util.ScanlineTrim(); v != "" {
		return v
	}
	return current
}

func promptPort(label string, current int) int {
	for {
		util.Cyan.Printf("%s (current: %d) : ", label, current)
		v := util.ScanlineTrim()
		if v == "" {
			return current
		}
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 {
			util.Red.Println("Entered port number is either invalid or not an integer, please try again")
			continue
		}
		return port
	}
}

func promptBool(label string, current bool) bool {
	state := "n"
	if current {
		state = "y"
	}
	util.Cyan.Printf("%s (y/n, current: %s) : ", label, state)
	switch strings.ToLower(util.ScanlineTrim()) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	default:
		return current
	}
}
