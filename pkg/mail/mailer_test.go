package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSMTPClient struct {
	from     string
	rcpts    []string
	data     bytes.Buffer
	quitted  bool
	authUsed bool
}

func (c *fakeSMTPClient) Mail(from string) error { c.from = from; return nil }
func (c *fakeSMTPClient) Rcpt(rcpt string) error { c.rcpts = append(c.rcpts, rcpt); return nil }

func (c *fakeSMTPClient) Data() (io.WriteCloser, error) {
	return nopWriteCloser{&c.data}, nil
}

func (c *fakeSMTPClient) Quit() error                     { c.quitted = true; return nil }
func (c *fakeSMTPClient) Close() error                    { return nil }
func (c *fakeSMTPClient) StartTLS(*tls.Config) error      { return nil }
func (c *fakeSMTPClient) Auth(smtp.Auth) error            { c.authUsed = true; return nil }
func (c *fakeSMTPClient) Extension(string) (bool, string) { return false, "" }

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func newTestMailer(t *testing.T, cfg SMTPSettings, client *fakeSMTPClient) Mailer {
	t.Helper()

	mailer, err := NewSMTPMailer(cfg)
	require.NoError(t, err)

	impl := mailer.(*smtpMailer)
	impl.dialFn = func(ctx context.Context, cfg SMTPSettings) (net.Conn, smtpClient, error) {
		server, conn := net.Pipe()
		_ = server.Close()
		return conn, client, nil
	}
	impl.authFn = defaultAuthFunc
	return mailer
}

func enabledSettings() SMTPSettings {
	return SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "noreply@example.com",
		Timeout: time.Second,
	}
}

func TestSendDisabled(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{To: []string{"alice@example.com"}, Body: "hi"})
	require.ErrorIs(t, err, ErrSMTPDisabled)
}

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true})
	require.Error(t, err)

	_, err = NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com"})
	require.Error(t, err)
}

func TestSendPlainText(t *testing.T) {
	client := &fakeSMTPClient{}
	mailer := newTestMailer(t, enabledSettings(), client)

	err := mailer.Send(context.Background(), Message{
		To:      []string{"alice@example.com", "alice@example.com", "bob@example.com"},
		Subject: "Your verification code",
		Body:    "Please use verification code 123456.",
	})
	require.NoError(t, err)

	require.Equal(t, "noreply@example.com", client.from)
	require.Equal(t, []string{"alice@example.com", "bob@example.com"}, client.rcpts)
	require.True(t, client.quitted)

	raw := client.data.String()
	require.Contains(t, raw, "Subject: Your verification code")
	require.Contains(t, raw, "Content-Type: text/plain; charset=UTF-8")
	require.Contains(t, raw, "Please use verification code 123456.")
}

func TestSendMultipartAlternative(t *testing.T) {
	client := &fakeSMTPClient{}
	mailer := newTestMailer(t, enabledSettings(), client)

	err := mailer.Send(context.Background(), Message{
		To:       []string{"alice@example.com"},
		Subject:  "Welcome",
		Body:     "plain body",
		HTMLBody: "<p>html body</p>",
	})
	require.NoError(t, err)

	raw := client.data.String()
	require.Contains(t, raw, "multipart/alternative")
	require.Contains(t, raw, "--"+altBoundary+"\r\n")
	require.Contains(t, raw, "plain body")
	require.Contains(t, raw, "<p>html body</p>")
	require.Contains(t, raw, "--"+altBoundary+"--")
}

func TestSendValidatesAddresses(t *testing.T) {
	client := &fakeSMTPClient{}
	mailer := newTestMailer(t, enabledSettings(), client)

	err := mailer.Send(context.Background(), Message{To: []string{"not-an-address"}, Body: "hi"})
	require.Error(t, err)

	err = mailer.Send(context.Background(), Message{Body: "hi"})
	require.Error(t, err)
}

func TestSendHeaderInjectionEscaped(t *testing.T) {
	client := &fakeSMTPClient{}
	mailer := newTestMailer(t, enabledSettings(), client)

	err := mailer.Send(context.Background(), Message{
		To:      []string{"alice@example.com"},
		Subject: "hello\r\nBcc: evil@example.com",
		Body:    "hi",
	})
	require.NoError(t, err)
	require.NotContains(t, client.data.String(), "\r\nBcc: evil@example.com")
	require.Contains(t, client.data.String(), "Subject: hello  Bcc: evil@example.com")
}
