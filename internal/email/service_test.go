package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "test@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "test@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{
			name:     "fully configured",
			config:   Config{Host: "smtp.example.com", Port: "587", From: "test@example.com"},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}

	var nilService *Service
	if nilService.IsConfigured() {
		t.Error("nil service should not be configured")
	}
}

func TestSendVerificationEmail(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com", FromName: "Taskaza"})

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	url := "https://app.example.com/auth/verify-email?token=abc123"
	if err := svc.SendVerificationEmail("ada@example.com", "ada", url); err != nil {
		t.Fatalf("SendVerificationEmail failed: %v", err)
	}

	if gotAddr != "smtp.example.com:587" || gotFrom != "noreply@example.com" {
		t.Errorf("unexpected envelope: addr=%s from=%s", gotAddr, gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "ada@example.com" {
		t.Errorf("unexpected recipients: %v", gotTo)
	}
	msg := string(gotMsg)
	for _, want := range []string{
		"From: Taskaza <noreply@example.com>\r\n",
		"Subject: Verify your Taskaza email\r\n",
		"Content-Type: text/plain",
		"Content-Type: text/html",
		url,
		"24 hours",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSendPasswordResetEmailPropagatesErrors(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com"})
	svc.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	err := svc.SendPasswordResetEmail("ada@example.com", "ada", "https://app.example.com/reset")
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected send error, got %v", err)
	}
}

func TestSendWithoutConfiguration(t *testing.T) {
	svc := NewService(Config{})
	svc.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send should not be called")
		return nil
	}
	if err := svc.SendVerificationEmail("ada@example.com", "ada", "https://x"); err == nil {
		t.Fatal("expected an error when SMTP is not configured")
	}
}

func TestRenderPasswordResetTemplate(t *testing.T) {
	html, err := renderTemplate(passwordResetEmailTemplate, linkData{
		AppName:  "Taskaza",
		UserName: "Test User",
		URL:      "https://example.com/reset?token=xyz789",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Test User") {
		t.Error("template should contain user name")
	}
	if !strings.Contains(html, "https://example.com/reset?token=xyz789") {
		t.Error("template should contain reset URL")
	}
	if !strings.Contains(html, "1 hour") {
		t.Error("template should mention expiration time")
	}
}

func TestRenderTemplateEscapesUserName(t *testing.T) {
	html, err := renderTemplate(verificationEmailTemplate, linkData{AppName: "Taskaza", UserName: "<script>", URL: "https://x"})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Error("user name should be escaped")
	}
}
