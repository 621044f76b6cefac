package cmd

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lithammer/dedent"
	"github.com/spf13/cobra"

	"github.com/batchsend/batchsend/internal/batch"
	"github.com/batchsend/batchsend/internal/logger"
	"github.com/batchsend/batchsend/internal/mail"
	"github.com/batchsend/batchsend/internal/util"
)

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringP("to", "t", "", "Comma-separated recipient email addresses")
	sendCmd.MarkFlagRequired("to")
	sendCmd.Flags().String("logs", "LOGS", "Directory for per-run audit logs")
}

var (
	helpSend = `Sends every regular file in the given directory as an individual email
attachment, in lexical filename order, one SMTP session per file. Failed
files do not stop the batch; every outcome is recorded in the run's audit
log. Press Ctrl-C to stop after the file currently being sent.`

	exampleSend = dedent.Dedent(`
		# Send every file in ./reports to one recipient
		batchsend send ./reports --to "boss@example.com"

		# Send to several recipients, keeping audit logs in a custom place
		batchsend send ./invoices --to "a@x.com, b@x.com" --logs /var/log/batchsend`,
	)
)

var sendCmd = &cobra.Command{
	Use:     "send DIRECTORY",
	Short:   "Send every file in a directory as an email attachment",
	Long:    helpSend,
	Example: exampleSend,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		store := loadStoreOrExit(cmd)
		defer logger.Close()

		to, _ := cmd.Flags().GetString("to")
		logsDir, _ := cmd.Flags().GetString("logs")

		runner := batch.New(store, mail.NewSMTPDispatcher(store), logsDir)

		files, err := runner.Scan(args[0])
		if err != nil {
			util.LogError(util.FileError, "scanning directory", err)
			os.Exit(1)
		}
		util.CyanBold.Printf("Found %d files:\n", len(files))
		for i, file := range files {
			util.Cyan.Printf("%d. %s\n", i+1, filepath.Base(file))
		}

		events, err := runner.Start(to)
		if err != nil {
			util.LogError(util.MailError, "starting batch", err)
			os.Exit(1)
		}
		util.Cyan.Printf("Audit log: %s\n", runner.AuditLogPath())

		// Ctrl-C requests a cooperative stop at the next job boundary; the
		// file currently in flight finishes or fails normally first.
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigChan
			util.Yellow.Println("\nStopping after the current file...")
			runner.Cancel()
		}()

		failures := 0
		for ev := range events {
			switch ev.Kind {
			case batch.EventLog:
				util.Cyan.Println(ev.Message)
			case batch.EventStatus:
				if ev.Status == batch.StatusSent {
					util.Green.Printf("%s: SENT\n", ev.Filename)
				} else {
					util.Red.Printf("%s: FAILED\n", ev.Filename)
					failures++
				}
			case batch.EventProgress:
				util.CyanBold.Printf("Progress: %d%%\n", ev.Percent)
			case batch.EventFinished:
			}
		}
		signal.Stop(sigChan)

		if runner.State() == batch.StateCancelled {
			util.Yellow.Println("Run cancelled")
		}
		if failures > 0 {
			util.LogErrorf(util.MailError, "batch finished",
				"%d of %d files failed, see %s", failures, len(files), runner.AuditLogPath())
			os.Exit(1)
		}
		util.GreenBold.Printf("Sent %d files\n", len(files))
	},
}
