// Package mail はSMTPによる通知メールの送信を提供する。
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/portfolio/internal/model"
)

// ErrNotConfigured はSMTPの設定が不足しているため送信しなかったことを表す。
var ErrNotConfigured = errors.New("mail: smtp is not configured")

// Config はSMTP接続設定。
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// ContactNotifyTo はお問い合わせ通知の宛先。空の場合はFromに送る。
	ContactNotifyTo string
}

// sendFunc はSMTPでの1通の送信。テストで差し替える。
type sendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer はパスワード再設定メールとお問い合わせ通知を送る。
type SMTPMailer struct {
	cfg  Config
	send sendFunc
	now  func() time.Time
}

// NewSMTPMailer はSMTPMailerを生成する。
func NewSMTPMailer(cfg Config) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: sendMail, now: time.Now}
}

// IsConfigured は送信に必要な設定が揃っているかを返す。
func (m *SMTPMailer) IsConfigured() bool {
	return m.cfg.Host != "" && m.cfg.From != ""
}

// SendPasswordReset はパスワード再設定リンクを送る。
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, to, link string) error {
	body := "管理画面のパスワード再設定がリクエストされました。\r\n" +
		"以下のリンクから1時間以内に新しいパスワードを設定してください。\r\n\r\n" +
		link + "\r\n\r\n" +
		"心当たりがない場合はこのメールを破棄してください。\r\n"
	return m.deliver(ctx, "password_reset", to, "", "パスワード再設定のご案内", body)
}

// NotifyContact はお問い合わせの到着をサイト管理者に通知する。返信先は送信者になる。
func (m *SMTPMailer) NotifyContact(ctx context.Context, msg *model.ContactMessage) error {
	to := m.cfg.ContactNotifyTo
	if to == "" {
		to = m.cfg.From
	}

	label := "お問い合わせ"
	if msg.Type == model.MessageTypeServiceInquiry {
		label = "サービスのお問い合わせ"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "種別: %s\r\n", label)
	fmt.Fprintf(&b, "名前: %s\r\n", headerValue(msg.Name))
	fmt.Fprintf(&b, "メール: %s\r\n", headerValue(msg.Email))
	fmt.Fprintf(&b, "件名: %s\r\n", headerValue(msg.Subject))
	fmt.Fprintf(&b, "受信日時: %s\r\n\r\n", msg.CreatedAt.Format(time.RFC3339))
	b.WriteString(strings.ReplaceAll(msg.Message, "\n", "\r\n"))
	b.WriteString("\r\n")

	return m.deliver(ctx, "contact", to, msg.Email, fmt.Sprintf("[%s] %s", label, msg.Subject), b.String())
}

func (m *SMTPMailer) deliver(ctx context.Context, kind, to, replyTo, subject, body string) error {
	if !m.IsConfigured() {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	msg := m.compose(to, replyTo, subject, body)
	if err := m.send(ctx, addr, auth, m.cfg.From, []string{headerValue(to)}, msg); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}

	slog.Info("mail sent", slog.String("kind", kind))
	return nil
}

func (m *SMTPMailer) compose(to, replyTo, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", headerValue(m.cfg.From))
	fmt.Fprintf(&b, "To: %s\r\n", headerValue(to))
	if replyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\r\n", headerValue(replyTo))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.BEncoding.Encode("UTF-8", headerValue(subject)))
	fmt.Fprintf(&b, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// headerValue はヘッダーインジェクションを防ぐため改行を除去する。
func headerValue(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

// sendMail はsmtp.SendMailと同じ手順で送信する。接続と以降のやり取りはctxの期限で打ち切る。
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) (err error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil && ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
	}()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("smtp: server doesn't support AUTH")
		}
		if err := c.Auth(a); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
