package providers

import (
	"fmt"
	"net/smtp"

	"github.com/goccy/go-json"

	"tickerpulse/internal/models"
)

type emailConfig struct {
	Email string `json:"email"`
}

func (d *Dispatcher) sendEmail(cp models.ContactPoint, subject, body string) error {
	var eCfg emailConfig
	configBytes, err := json.Marshal(cp.Configuration)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration for user %d: %w", cp.UserID, err)
	}
	if err := json.Unmarshal(configBytes, &eCfg); err != nil {
		return fmt.Errorf("failed to parse Email configuration for user %d: %w", cp.UserID, err)
	}
	if eCfg.Email == "" {
		return fmt.Errorf("email not set in configuration for user %d", cp.UserID)
	}

	smtpServer := d.cfg.Email.SMTPServer
	smtpPort := d.cfg.Email.SMTPPort
	username := d.cfg.Email.Username
	password := d.cfg.Email.Password
	if smtpServer == "" || smtpPort == 0 || username == "" || password == "" {
		return fmt.Errorf("missing Email configuration: SMTPServer, SMTPPort, Username, or Password is empty")
	}

	message := fmt.Sprintf("Subject: %s\n\n%s", subject, body)
	auth := smtp.PlainAuth("", username, password, smtpServer)
	addr := fmt.Sprintf("%s:%d", smtpServer, smtpPort)

	if err := smtp.SendMail(addr, auth, username, []string{eCfg.Email}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", eCfg.Email, err)
	}
	return nil
}
