package alert

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AlcorQi/kango/internal/config"
	"github.com/AlcorQi/kango/internal/logger"
	"github.com/AlcorQi/kango/internal/storage"
)

// smtpTimeout bounds one SMTP dialogue end to end.
const smtpTimeout = 10 * time.Second

// Mailer sends alert mail over SMTP. Config fields win over the SMTP_*
// environment variables; either source may fill the gaps the other leaves.
type Mailer struct {
	log logger.Logger
}

func NewMailer(log logger.Logger) *Mailer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Mailer{log: log}
}

type smtpSettings struct {
	host string
	port int
	user string
	pass string
	from string
	tls  bool
}

func resolveSMTP(cfg *config.SMTPConfig) smtpSettings {
	s := smtpSettings{
		host: cfg.Host,
		port: cfg.Port,
		user: cfg.User,
		pass: cfg.Pass,
		from: cfg.From,
		tls:  cfg.TLS,
	}
	if s.host == "" {
		s.host = os.Getenv("SMTP_HOST")
	}
	if s.port == 0 {
		if p, err := strconv.Atoi(os.Getenv("SMTP_PORT")); err == nil {
			s.port = p
		}
	}
	if s.port == 0 {
		s.port = 25
	}
	if s.user == "" {
		s.user = os.Getenv("SMTP_USER")
	}
	if s.pass == "" {
		s.pass = os.Getenv("SMTP_PASS")
	}
	if s.from == "" {
		s.from = os.Getenv("SMTP_FROM")
	}
	if s.from == "" {
		s.from = s.user
	}
	if !s.tls {
		s.tls = os.Getenv("SMTP_TLS") == "1"
	}
	return s
}

// Send mails one event alert to the configured recipients.
func (m *Mailer) Send(cfg *config.Config, ev *storage.Event) error {
	s := resolveSMTP(&cfg.SMTP)
	if s.host == "" {
		return fmt.Errorf("smtp host not configured")
	}
	if s.from == "" {
		return fmt.Errorf("smtp sender not configured")
	}

	subject := fmt.Sprintf("[%s] %s on %s", strings.ToUpper(string(ev.Severity)), ev.Type, ev.HostID)
	body := buildBody(ev)
	msg := buildMessage(s.from, cfg.Alerts.Emails, subject, body)

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	conn, err := net.DialTimeout("tcp", addr, smtpTimeout)
	if err != nil {
		return fmt.Errorf("failed to reach smtp server: %w", err)
	}
	conn.SetDeadline(time.Now().Add(smtpTimeout))

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake failed: %w", err)
	}
	defer c.Close()

	if s.tls {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
				return fmt.Errorf("starttls failed: %w", err)
			}
		}
	}
	if s.user != "" && s.pass != "" {
		auth := smtp.PlainAuth("", s.user, s.pass, s.host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}
	if err := c.Mail(s.from); err != nil {
		return fmt.Errorf("smtp mail-from rejected: %w", err)
	}
	for _, rcpt := range cfg.Alerts.Emails {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp recipient rejected: %w", err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data failed: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		w.Close()
		return fmt.Errorf("smtp write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp delivery failed: %w", err)
	}
	if err := c.Quit(); err != nil {
		return err
	}
	m.log.WithFields(map[string]interface{}{
		"type":       string(ev.Type),
		"severity":   string(ev.Severity),
		"recipients": len(cfg.Alerts.Emails),
	}).Info("alert mail sent")
	return nil
}

func buildBody(ev *storage.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Anomaly detected on %s\r\n\r\n", ev.HostID)
	fmt.Fprintf(&b, "Type:      %s\r\n", ev.Type)
	fmt.Fprintf(&b, "Severity:  %s\r\n", ev.Severity)
	fmt.Fprintf(&b, "Detected:  %s\r\n", ev.DetectedAt)
	fmt.Fprintf(&b, "Source:    %s:%d\r\n\r\n", ev.SourceFile, ev.LineNumber)
	fmt.Fprintf(&b, "%s\r\n", ev.Message)
	return b.String()
}

func buildMessage(from string, to []string, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}
