package mailer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendFailsOnMissingBodyTemplate(t *testing.T) {
	m := &Mailer{Host: "smtp.example.com", Port: 465}
	err := m.Send(context.Background(), Message{
		To:           []string{"x@example.com"},
		HTMLBodyFile: filepath.Join(t.TempDir(), "nope.html"),
		Attachment:   "whatever.pdf",
	})
	require.ErrorContains(t, err, "message body")
}

func TestSendFailsOnMissingAttachment(t *testing.T) {
	dir := t.TempDir()
	body := filepath.Join(dir, "corpo.html")
	require.NoError(t, os.WriteFile(body, []byte("<p>segue anexo</p>"), 0o644))

	m := &Mailer{Host: "smtp.example.com", Port: 465}
	err := m.Send(context.Background(), Message{
		To:           []string{"x@example.com"},
		HTMLBodyFile: body,
		Attachment:   filepath.Join(dir, "missing.pdf"),
	})
	require.ErrorContains(t, err, "failed to attach")
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smtp.yaml")
	in := Config{Host: "smtp.gmail.com", Porta: 465, Usuario: "robo@example.com", Senha: "ciphertext"}
	require.NoError(t, SaveConfig(path, in))

	out, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, in, out)
}
