// Package email sends the account mails (verification, password reset) over SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

const appName = "Taskaza"

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service renders account mails and hands them to the SMTP server
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
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
	return s != nil && s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart mail with a plain text fallback
func (s *Service) SendHTMLEmail(to, subject, htmlBody, textBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	msg := buildMessage(s.sender(), to, subject, htmlBody, textBody)
	if err := s.send(s.server, s.auth, s.config.From, []string{to}, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (s *Service) sender() string {
	if s.config.FromName == "" {
		return s.config.From
	}
	return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
}

type linkData struct {
	AppName  string
	UserName string
	URL      string
}

// SendVerificationEmail mails the email verification link
func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	html, err := renderTemplate(verificationEmailTemplate, linkData{AppName: appName, UserName: userName, URL: verificationURL})
	if err != nil {
		return fmt.Errorf("render verification template: %w", err)
	}
	text := fmt.Sprintf("Verify your %s email: %s\r\nThe link expires in 24 hours.", appName, verificationURL)
	return s.SendHTMLEmail(to, "Verify your "+appName+" email", html, text)
}

// SendPasswordResetEmail mails the password reset link
func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	html, err := renderTemplate(passwordResetEmailTemplate, linkData{AppName: appName, UserName: userName, URL: resetURL})
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}
	text := fmt.Sprintf("Reset your %s password: %s\r\nThe link is valid for 1 hour.", appName, resetURL)
	return s.SendHTMLEmail(to, "Reset your "+appName+" password", html, text)
}

func buildMessage(from, to, subject, htmlBody, textBody string) []byte {
	boundary := "boundary-taskaza"
	subject = strings.NewReplacer("\r", "", "\n", "").Replace(subject)

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", to)
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

func renderTemplate(tmpl string, data any) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const verificationEmailTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Verify your {{.AppName}} email</title></head>
<body style="font-family: sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h1>{{.AppName}}</h1>
    <p>Hi {{.UserName}},</p>
    <p>Verify your {{.AppName}} email by clicking <a href="{{.URL}}">this link</a>.</p>
    <p>Or copy and paste this link into your browser:</p>
    <p style="word-break: break-all;">{{.URL}}</p>
    <p>This link expires in 24 hours.</p>
</body>
</html>`

const passwordResetEmailTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Reset your {{.AppName}} password</title></head>
<body style="font-family: sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h1>{{.AppName}}</h1>
    <p>Hi {{.UserName}},</p>
    <p>Reset your {{.AppName}} password <a href="{{.URL}}">here</a>.</p>
    <p style="word-break: break-all;">{{.URL}}</p>
    <p><strong>Important:</strong> this link is valid for 1 hour. If you did not ask for a reset, ignore this email.</p>
</body>
</html>`
