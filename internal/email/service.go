// Package email sends account mails over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	AppName  string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	if config.AppName == "" {
		config.AppName = "Todo Starter"
	}
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart message with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	msg := s.buildMessage(to, subject, textBody, htmlBody)
	if err := s.send(s.server, s.auth, s.config.From, to, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (s *Service) buildMessage(to []string, subject, textBody, htmlBody string) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	const boundary = "boundary-todostarter"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", textBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

type linkData struct {
	AppName string
	Email   string
	URL     string
}

func (s *Service) SendVerificationEmail(to, verificationURL string) error {
	data := linkData{AppName: s.config.AppName, Email: to, URL: verificationURL}
	html, err := render(verificationTemplate, data)
	if err != nil {
		return fmt.Errorf("render verification template: %w", err)
	}
	text := fmt.Sprintf("Confirm your %s account by opening this link within 24 hours:\n%s", data.AppName, verificationURL)
	return s.SendHTMLEmail([]string{to}, "Confirm your "+data.AppName+" account", text, html)
}

func (s *Service) SendPasswordResetEmail(to, resetURL string) error {
	data := linkData{AppName: s.config.AppName, Email: to, URL: resetURL}
	html, err := render(passwordResetTemplate, data)
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}
	text := fmt.Sprintf("Reset your %s password by opening this link within 1 hour:\n%s", data.AppName, resetURL)
	return s.SendHTMLEmail([]string{to}, "Reset your "+data.AppName+" password", text, html)
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var verificationTemplate = template.Must(template.New("verification").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Confirm your {{.AppName}} account</title></head>
<body style="font-family: sans-serif; max-width: 560px; margin: 0 auto; padding: 20px;">
    <h1>{{.AppName}}</h1>
    <p>Confirm {{.Email}} to start adding todos.</p>
    <p><a href="{{.URL}}">Confirm email address</a></p>
    <p style="word-break: break-all;">{{.URL}}</p>
    <p>The link expires in 24 hours. If you did not sign up, ignore this email.</p>
</body>
</html>`))

var passwordResetTemplate = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Reset your {{.AppName}} password</title></head>
<body style="font-family: sans-serif; max-width: 560px; margin: 0 auto; padding: 20px;">
    <h1>{{.AppName}}</h1>
    <p>Someone asked to reset the password for {{.Email}}.</p>
    <p><a href="{{.URL}}">Choose a new password</a></p>
    <p style="word-break: break-all;">{{.URL}}</p>
    <p><strong>The link expires in 1 hour.</strong> If you did not ask for this, your password stays unchanged.</p>
</body>
</html>`))
