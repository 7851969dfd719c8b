// Package mailer はイベント操作のメール通知を提供する。
package mailer

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/hitoshi/eventman/internal/model"
)

// Config はSMTPメーラーの設定。
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// sendFunc はSMTP送信関数。テストで差し替える。
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer はSMTPによるイベント通知メーラー。
// 通知は補助機能であり、送信は非同期に行い、失敗しても呼び出し元に
// エラーを返さない。失敗はログに記録するのみ。
type Mailer struct {
	config Config
	send   sendFunc
}

// NewMailer はMailerの新しいインスタンスを生成する。
func NewMailer(config Config) *Mailer {
	return &Mailer{
		config: config,
		send:   smtp.SendMail,
	}
}

// NotifyEventCreated はイベント作成を所有者にメールで通知する。
// 送信は非同期で行われ、このメソッドはブロックしない。
func (m *Mailer) NotifyEventCreated(user *model.User, event *model.Event) {
	if !notifiable(user) {
		return
	}
	subject := fmt.Sprintf("イベント「%s」を作成しました", event.Name)
	go m.deliver(user.Email, subject, eventBody(event))
}

// NotifyEventUpdated はイベント更新を所有者にメールで通知する。
// 送信は非同期で行われ、このメソッドはブロックしない。
func (m *Mailer) NotifyEventUpdated(user *model.User, event *model.Event) {
	if !notifiable(user) {
		return
	}
	subject := fmt.Sprintf("イベント「%s」を更新しました", event.Name)
	go m.deliver(user.Email, subject, eventBody(event))
}

// deliver はメールを組み立てて送信し、失敗をログに記録する。
func (m *Mailer) deliver(to, subject, body string) {
	addr := fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)

	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	msg := composeMessage(m.config.From, to, subject, body)

	if err := m.send(addr, auth, m.config.From, []string{to}, msg); err != nil {
		slog.Warn("failed to send notification mail",
			slog.String("to", to),
			slog.String("error", err.Error()),
		)
		return
	}

	slog.Info("notification mail sent",
		slog.String("to", to),
	)
}

// notifiable は通知先として有効なメールアドレスを持つかを返す。
// 外部IdPがメールアドレスを提供しなかったユーザーには通知しない。
func notifiable(user *model.User) bool {
	return user != nil && user.Email != "" && user.Email != model.NoEmailSentinel
}

// composeMessage はRFC 822形式のメールメッセージを組み立てる。
func composeMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// eventBody はイベント情報から通知本文を組み立てる。
func eventBody(event *model.Event) string {
	var b strings.Builder
	b.WriteString("イベント名: " + event.Name + "\r\n")
	if event.Location != "" {
		b.WriteString("場所: " + event.Location + "\r\n")
	}
	b.WriteString("開催日: " + event.Date.Format("2006-01-02 15:04") + "\r\n")
	return b.String()
}
