package notification

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikeyg42/motioncam/internal/config"
	"github.com/mikeyg42/motioncam/internal/recorder"
	"github.com/mikeyg42/motioncam/internal/transfer"
)

// EmailSender delivers clips as email attachments over SMTPS (implicit
// TLS). It implements transfer.Sender; failures are classified so the
// transfer queue retries only what can succeed.
type EmailSender struct {
	cfg    config.EmailConfig
	logger *zap.Logger
}

// NewEmailSender validates addressing configuration and returns a sender.
func NewEmailSender(cfg config.EmailConfig, logger *zap.Logger) (*EmailSender, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("email credentials are required")
	}
	if cfg.Recipient == "" {
		return nil, fmt.Errorf("recipient address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &EmailSender{cfg: cfg, logger: logger.Named("email")}, nil
}

// Send attaches the clip to an alert email and submits it.
func (s *EmailSender) Send(ctx context.Context, clip *recorder.ClipFile) error {
	payload, err := BuildMIMEMessage(&Message{
		From:    s.cfg.Username,
		To:      s.cfg.Recipient,
		Subject: fmt.Sprintf("Motion detected at %s", clip.StartTime.Format(time.RFC1123)),
		TextBody: fmt.Sprintf("Motion was recorded between %s and %s.\r\nThe recording is attached.",
			clip.StartTime.Format(time.RFC1123), clip.EndTime.Format(time.RFC1123)),
		MessageID:      uuid.New().String(),
		AttachmentPath: clip.Path,
	})
	if err != nil {
		// Missing or unreadable file cannot be fixed by resending.
		return transfer.Rejected(err)
	}

	addr := net.JoinHostPort(s.cfg.SMTPHost, fmt.Sprintf("%d", s.cfg.SMTPPort))
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: s.cfg.SMTPHost})
	if err != nil {
		return transfer.NetworkFailure(fmt.Errorf("dial %s: %w", addr, err))
	}
	defer conn.Close()

	deadline := time.Now().Add(s.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, s.cfg.SMTPHost)
	if err != nil {
		return transfer.NetworkFailure(fmt.Errorf("smtp handshake: %w", err))
	}
	defer client.Close()

	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
	if err := client.Auth(auth); err != nil {
		return transfer.AuthFailure(fmt.Errorf("smtp auth as %s: %w", s.cfg.Username, err))
	}

	if err := client.Mail(s.cfg.Username); err != nil {
		return classifySMTP(fmt.Errorf("MAIL FROM: %w", err))
	}
	if err := client.Rcpt(s.cfg.Recipient); err != nil {
		return classifySMTP(fmt.Errorf("RCPT TO %s: %w", s.cfg.Recipient, err))
	}

	wc, err := client.Data()
	if err != nil {
		return classifySMTP(fmt.Errorf("DATA: %w", err))
	}
	if _, err := wc.Write(payload); err != nil {
		wc.Close()
		return transfer.NetworkFailure(fmt.Errorf("write message: %w", err))
	}
	if err := wc.Close(); err != nil {
		return classifySMTP(fmt.Errorf("finish message: %w", err))
	}

	if err := client.Quit(); err != nil {
		s.logger.Debug("smtp quit failed after accepted message", zap.Error(err))
	}

	s.logger.Info("alert email sent",
		zap.String("clip_id", clip.ID),
		zap.String("recipient", s.cfg.Recipient),
		zap.Int64("attachment_bytes", clip.SizeBytes))
	return nil
}

// classifySMTP maps permanent SMTP status codes to rejections; everything
// else is treated as a transient network failure.
func classifySMTP(err error) error {
	var proto *textproto.Error
	if errors.As(err, &proto) && proto.Code >= 500 {
		return transfer.Rejected(err)
	}
	return transfer.NetworkFailure(err)
}
