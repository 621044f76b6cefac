package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"os"
	"path/filepath"
	"strconv"
	"time"

	gomail "gopkg.in/mail.v2"

	"github.com/batchsend/batchsend/internal/config"
	"github.com/batchsend/batchsend/internal/logger"
)

const (
	// DefaultMaxAttempts bounds retries per job; only transient failures
	// are retried.
	DefaultMaxAttempts = 3
	// DefaultRetryDelay is the fixed wait between attempts.
	DefaultRetryDelay = 5 * time.Second
	// DefaultTimeout bounds dialing and the whole SMTP session so a hung
	// server cannot stall the batch indefinitely.
	DefaultTimeout = 30 * time.Second
)

// SMTPDispatcher sends one message per job over a fresh SMTP session:
// connect (implicit TLS or plain), EHLO, optional STARTTLS with re-EHLO,
// NOOP probe, AUTH, one transaction for all recipients, QUIT. The profile
// and password are re-read from the store on every attempt.
type SMTPDispatcher struct {
	cfg config.Provider

	MaxAttempts int
	RetryDelay  time.Duration
	Timeout     time.Duration
	// TLSConfig overrides the client TLS configuration for both implicit
	// TLS and STARTTLS; ServerName is filled from the profile when empty.
	TLSConfig *tls.Config
}

var _ Dispatcher = (*SMTPDispatcher)(nil)

func NewSMTPDispatcher(cfg config.Provider) *SMTPDispatcher {
	return &SMTPDispatcher{
		cfg:         cfg,
		MaxAttempts: DefaultMaxAttempts,
		RetryDelay:  DefaultRetryDelay,
		Timeout:     DefaultTimeout,
	}
}

// Send delivers the job, retrying transient failures up to MaxAttempts with
// a fixed delay. Configuration and attachment errors are never retried.
// The last transient error surfaces when the attempt budget is exhausted.
func (d *SMTPDispatcher) Send(ctx context.Context, job Job) error {
	var lastErr *Error
	for attempt := 1; attempt <= d.MaxAttempts; attempt++ {
		err := d.sendOnce(ctx, job)
		if err == nil {
			if attempt > 1 {
				logger.Infof("sent %s on attempt %d/%d", job.FilePath, attempt, d.MaxAttempts)
			}
			return nil
		}

		lastErr = classify("sending message", err)
		if !lastErr.Transient() {
			return lastErr
		}
		if attempt == d.MaxAttempts {
			break
		}

		logger.Warnf("attempt %d/%d for %s failed: %v, retrying in %s",
			attempt, d.MaxAttempts, job.FilePath, lastErr, d.RetryDelay)
		select {
		case <-time.After(d.RetryDelay):
		case <-ctx.Done():
			return lastErr
		}
	}
	return lastErr
}

// Verify runs the session through authentication and quits without sending
// anything, to check the stored profile.
func (d *SMTPDispatcher) Verify(ctx context.Context) error {
	if err := d.cfg.Reload(); err != nil {
		logger.Warnf("reloading profile failed, using cached values: %v", err)
	}
	account := d.cfg.GetEmail()
	password := d.cfg.DecryptedPassword()
	if account == "" || password == "" {
		return newConfigError("email credentials are not configured")
	}

	c, err := d.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := d.negotiate(c); err != nil {
		return err
	}
	if err := c.Auth(smtp.PlainAuth("", account, password, d.cfg.GetServer())); err != nil {
		return classifyAuth(err)
	}
	if err := c.Quit(); err != nil {
		logger.Warnf("QUIT failed: %v", err)
	}
	return nil
}

func (d *SMTPDispatcher) sendOnce(ctx context.Context, job Job) error {
	// Fetch the profile fresh so config edits during a long batch apply to
	// subsequent jobs. A failed reload keeps the cached profile.
	if err := d.cfg.Reload(); err != nil {
		logger.Warnf("reloading profile failed, using cached values: %v", err)
	}
	account := d.cfg.GetEmail()
	password := d.cfg.DecryptedPassword()
	if account == "" || password == "" {
		return newConfigError("email credentials are not configured")
	}

	filename := filepath.Base(job.FilePath)
	data, err := os.ReadFile(job.FilePath)
	if err != nil {
		return newAttachmentError(job.FilePath, err)
	}
	msg := buildMessage(account, job.Recipients, filename, data)

	logger.Debugf("connecting to %s:%d (SSL: %t, TLS: %t)",
		d.cfg.GetServer(), d.cfg.GetPort(), d.cfg.GetUseSSL(), d.cfg.GetUseTLS())
	c, err := d.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := d.negotiate(c); err != nil {
		return err
	}

	logger.Debugf("logging in as %s", account)
	if err := c.Auth(smtp.PlainAuth("", account, password, d.cfg.GetServer())); err != nil {
		return classifyAuth(err)
	}

	if err := c.Mail(account); err != nil {
		return classify("MAIL FROM", err)
	}
	// One transaction for all recipients. Any rejection fails the whole
	// attempt, even if other recipients were accepted.
	rejected := make(map[string]string)
	for _, rcpt := range job.Recipients {
		if err := c.Rcpt(rcpt); err != nil {
			rejected[rcpt] = err.Error()
		}
	}
	if len(rejected) > 0 {
		return newRecipientRejectedError(rejected)
	}

	w, err := c.Data()
	if err != nil {
		return classify("DATA", err)
	}
	if _, err := msg.WriteTo(w); err != nil {
		w.Close()
		return classify("writing message", err)
	}
	if err := w.Close(); err != nil {
		return classify("finishing message", err)
	}

	logger.Debugf("sent %s to %v", filename, job.Recipients)
	if err := c.Quit(); err != nil {
		// The server already accepted the message.
		logger.Warnf("QUIT failed: %v", err)
	}
	return nil
}

// connect dials the server (implicit TLS when use_ssl) and reads the 220
// greeting. The session deadline bounds all subsequent socket I/O.
func (d *SMTPDispatcher) connect(ctx context.Context) (*smtp.Client, error) {
	server := d.cfg.GetServer()
	addr := net.JoinHostPort(server, strconv.Itoa(d.cfg.GetPort()))
	dialer := &net.Dialer{Timeout: d.Timeout}

	var conn net.Conn
	var err error
	if d.cfg.GetUseSSL() {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: d.tlsConfig()}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, newTransientError(fmt.Sprintf("connecting to %s", addr), err)
	}
	conn.SetDeadline(time.Now().Add(d.Timeout))

	c, err := smtp.NewClient(conn, server)
	if err != nil {
		conn.Close()
		return nil, classify("reading server greeting", err)
	}
	return c, nil
}

// negotiate upgrades to STARTTLS when configured (use_ssl already has an
// encrypted socket and skips it) and probes liveness with NOOP. StartTLS
// re-issues EHLO after the handshake, as the protocol requires.
func (d *SMTPDispatcher) negotiate(c *smtp.Client) error {
	if d.cfg.GetUseTLS() && !d.cfg.GetUseSSL() {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return newTransientError("server does not advertise STARTTLS", nil)
		}
		logger.Debugf("starting TLS with %s", d.cfg.GetServer())
		if err := c.StartTLS(d.tlsConfig()); err != nil {
			return classify("negotiating STARTTLS", err)
		}
	}

	// NOOP support varies between servers; a failure is advisory only.
	if err := c.Noop(); err != nil {
		logger.Warnf("NOOP check failed: %v", err)
	}
	return nil
}

func (d *SMTPDispatcher) tlsConfig() *tls.Config {
	cfg := &tls.Config{}
	if d.TLSConfig != nil {
		cfg = d.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = d.cfg.GetServer()
	}
	return cfg
}

func buildMessage(from string, recipients []string, filename string, data []byte) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("To", recipients...)
	msg.SetHeader("Subject", filename)
	msg.SetBody("text/plain", fmt.Sprintf("Please find the attached file: %s", filename))
	msg.Attach(filename, gomail.SetCopyFunc(func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}))
	return msg
}
