// Package mailer dispatches a retrieved bill to the account's registered
// recipient over SSL SMTP.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"gopkg.in/yaml.v3"
)

var tracer = otel.Tracer("aguabot/mailer")

// Config mirrors config/smtp.yaml. The senha value is encrypted at rest,
// decrypt it with lib/secretbox before constructing a Mailer.
type Config struct {
	Host    string `yaml:"host"`
	Porta   int    `yaml:"porta"`
	Usuario string `yaml:"usuario"`
	Senha   string `yaml:"senha"`
}

const DefaultConfigPath = "config/smtp.yaml"

func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	err = yaml.Unmarshal(raw, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

func SaveConfig(path string, cfg Config) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return err
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

type Message struct {
	To           []string
	Subject      string
	HTMLBodyFile string
	Attachment   string
}

type Mailer struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// Send builds a message with an HTML body and the bill attached and submits
// it over implicit TLS. Every failure here is run-fatal for the caller, so
// errors carry enough context to diagnose without a retry.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	_, span := tracer.Start(ctx, "Send")
	defer span.End()

	body, err := os.ReadFile(msg.HTMLBodyFile)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read message body template")
		return fmt.Errorf("failed to read message body %s: %w", msg.HTMLBodyFile, err)
	}

	e := email.NewEmail()
	e.From = m.From
	e.To = msg.To
	e.Subject = msg.Subject
	e.HTML = body

	att, err := e.AttachFile(msg.Attachment)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to attach bill")
		return fmt.Errorf("failed to attach %s: %w", msg.Attachment, err)
	}
	// some webmail clients mangle spaces in attachment names
	att.Filename = strings.ReplaceAll(filepath.Base(msg.Attachment), " ", "_")

	addr := fmt.Sprintf("%s:%d", m.Host, m.Port)
	auth := smtp.PlainAuth("", m.User, m.Password, m.Host)
	err = e.SendWithTLS(addr, auth, &tls.Config{ServerName: m.Host})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "smtp submission failed")
		return fmt.Errorf("smtp submission to %s failed: %w", addr, err)
	}
	return nil
}
