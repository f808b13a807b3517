package notify

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Mailer 发送邮件：纯文本 + HTML 两个版本。
type Mailer interface {
	Send(ctx context.Context, to []string, subject, text, html string) error
}

// SMTPMailer 通过 SMTP（PLAIN 认证）发信。
type SMTPMailer struct {
	addr string
	host string
	from string
	auth smtp.Auth
}

func NewSMTPMailer(host string, port int, user, pass, from string) *SMTPMailer {
	m := &SMTPMailer{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		host: host,
		from: from,
	}
	if user != "" {
		m.auth = smtp.PlainAuth("", user, pass, host)
	}
	return m
}

func (m *SMTPMailer) Send(ctx context.Context, to []string, subject, text, html string) error {
	if len(to) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := buildMessage(m.from, to, subject, text, html)
	if err != nil {
		return err
	}
	return smtp.SendMail(m.addr, m.auth, m.from, to, msg)
}

// headerSafe 去掉换行，防止通过用户名、商品名注入额外头部。
var headerSafe = strings.NewReplacer("\r", " ", "\n", " ")

// buildMessage 组装 multipart/alternative 邮件；Subject 按 RFC 2047 编码。
func buildMessage(from string, to []string, subject, text, html string) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, part := range []struct{ ctype, content string }{
		{"text/plain", text},
		{"text/html", html},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.ctype + "; charset=\"UTF-8\""},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(part.content)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", headerSafe.Replace(from))
	fmt.Fprintf(&b, "To: %s\r\n", headerSafe.Replace(strings.Join(to, ", ")))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", headerSafe.Replace(subject)))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())
	b.Write(body.Bytes())
	return []byte(b.String()), nil
}

// LogMailer 未配置 SMTP 时使用，只记日志。
type LogMailer struct {
	log *logrus.Logger
}

func NewLogMailer(log *logrus.Logger) *LogMailer { return &LogMailer{log: log} }

func (m *LogMailer) Send(_ context.Context, to []string, subject, text, html string) error {
	m.log.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
		"text":    text,
		"bytes":   len(html),
	}).Info("email (log only)")
	return nil
}
