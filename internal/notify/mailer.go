package notify

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// MailConfig holds SMTP transport settings.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// BaseURL is linked from message bodies.
	BaseURL string
}

// Mailer renders messages with text/template and sends them over SMTP.
type Mailer struct {
	cfg       MailConfig
	send      SendFunc
	subjects  map[Kind]*template.Template
	bodies    map[Kind]*template.Template
	timestamp func() time.Time
}

// MailerOption customizes a Mailer.
type MailerOption func(*Mailer)

// WithSendFunc replaces smtp.SendMail, mainly for tests.
func WithSendFunc(fn SendFunc) MailerOption {
	return func(m *Mailer) {
		if fn != nil {
			m.send = fn
		}
	}
}

type mailTemplate struct {
	subject string
	body    string
}

var mailTemplates = map[Kind]mailTemplate{
	KindConfirmation: {
		subject: `Registration {{.Data.registration_id}} confirmed`,
		body: `Hello {{.Name}},

Your registration for "{{.Data.conference_title}}" is confirmed.
Registration id: {{.Data.registration_id}}

See you there!
{{.BaseURL}}
`,
	},
	KindPending: {
		subject: `Registration {{.Data.registration_id}} received`,
		body: `Hello {{.Name}},

We received your team registration for "{{.Data.conference_title}}".
It is waiting for approval by {{.Data.supervisor_name}}. You will get another message once it has been reviewed.
Registration id: {{.Data.registration_id}}
`,
	},
	KindSupervisorReview: {
		subject: `Approval requested: {{.Data.applicant_name}} for {{.Data.conference_title}}`,
		body: `Hello {{.Name}},

{{.Data.applicant_name}} ({{.Data.department}}) asked to attend "{{.Data.conference_title}}" and named you as supervisor.

Justification:
{{.Data.justification}}

Review it at {{.BaseURL}}/registrations/{{.Data.registration_id}}
`,
	},
	KindApproved: {
		subject: `Registration {{.Data.registration_id}} approved`,
		body: `Hello {{.Name}},

Your registration for "{{.Data.conference_title}}" was approved.
{{- if .Data.comments}}

Comments: {{.Data.comments}}
{{- end}}
`,
	},
	KindRejected: {
		subject: `Registration {{.Data.registration_id}} rejected`,
		body: `Hello {{.Name}},

Your registration for "{{.Data.conference_title}}" was not approved.

Comments: {{.Data.comments}}
`,
	},
	KindCancelled: {
		subject: `Registration {{.Data.registration_id}} cancelled`,
		body: `Hello {{.Name}},

Your registration for "{{.Data.conference_title}}" has been cancelled.
`,
	},
}

// NewMailer parses the built-in templates.
func NewMailer(cfg MailConfig, opts ...MailerOption) (*Mailer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("notify: mail host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 25
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("notify: mail sender is required")
	}
	m := &Mailer{
		cfg:       cfg,
		send:      smtp.SendMail,
		subjects:  make(map[Kind]*template.Template, len(mailTemplates)),
		bodies:    make(map[Kind]*template.Template, len(mailTemplates)),
		timestamp: time.Now,
	}
	for kind, tpl := range mailTemplates {
		subj, err := template.New(string(kind) + ".subject").Option("missingkey=zero").Parse(tpl.subject)
		if err != nil {
			return nil, fmt.Errorf("notify: parse %s subject: %w", kind, err)
		}
		body, err := template.New(string(kind) + ".body").Option("missingkey=zero").Parse(tpl.body)
		if err != nil {
			return nil, fmt.Errorf("notify: parse %s body: %w", kind, err)
		}
		m.subjects[kind] = subj
		m.bodies[kind] = body
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

type templateData struct {
	Message
	BaseURL string
}

// Render produces the subject and plain-text body for msg.
func (m *Mailer) Render(msg Message) (string, string, error) {
	subj, ok := m.subjects[msg.Kind]
	if !ok {
		return "", "", fmt.Errorf("notify: unknown kind %q", msg.Kind)
	}
	if msg.Name == "" {
		msg.Name = msg.To
	}
	data := templateData{Message: msg, BaseURL: strings.TrimRight(m.cfg.BaseURL, "/")}
	var sb, bb bytes.Buffer
	if err := subj.Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("notify: render subject: %w", err)
	}
	if err := m.bodies[msg.Kind].Execute(&bb, data); err != nil {
		return "", "", fmt.Errorf("notify: render body: %w", err)
	}
	return strings.TrimSpace(sb.String()), bb.String(), nil
}

// Dispatch renders and sends msg synchronously.
func (m *Mailer) Dispatch(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, body, err := m.Render(msg)
	if err != nil {
		return err
	}
	raw := m.compose(msg.To, subject, body)

	var a smtp.Auth
	if m.cfg.Username != "" {
		a = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, a, m.cfg.From, []string{msg.To}, raw); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (m *Mailer) compose(to, subject, body string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", sanitizeHeader(subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", m.timestamp().UTC().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	buf.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return buf.Bytes()
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
