package plugins

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/automaxhq/automax/pkg/plugin"
)

// SendEmail delivers a plain-text message over SMTP.
type SendEmail struct{}

// Metadata implements plugin.Plugin.
func (p *SendEmail) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:           "send_email",
		Description:    "Send an email over SMTP",
		Required:       []string{"host", "from", "to", "subject", "body"},
		Optional:       []string{"port", "username", "password"},
		DefaultTimeout: time.Minute,
	}
}

// ValidateConfig implements plugin.Plugin.
func (p *SendEmail) ValidateConfig(params map[string]any) error {
	if err := plugin.CheckRequired(p.Metadata(), params); err != nil {
		return err
	}
	if _, err := recipients(params); err != nil {
		return err
	}
	_, err := plugin.OptionalInt("send_email", params, "port", 25)
	return err
}

// Execute implements plugin.Plugin.
func (p *SendEmail) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	host, err := plugin.StringParam("send_email", params, "host")
	if err != nil {
		return nil, err
	}
	port, err := plugin.OptionalInt("send_email", params, "port", 25)
	if err != nil {
		return nil, err
	}
	from, err := plugin.StringParam("send_email", params, "from")
	if err != nil {
		return nil, err
	}
	subject, err := plugin.StringParam("send_email", params, "subject")
	if err != nil {
		return nil, err
	}
	body, err := plugin.StringParam("send_email", params, "body")
	if err != nil {
		return nil, err
	}
	username, err := plugin.OptionalString("send_email", params, "username", "")
	if err != nil {
		return nil, err
	}
	password, err := plugin.OptionalString("send_email", params, "password", "")
	if err != nil {
		return nil, err
	}
	to, err := recipients(params)
	if err != nil {
		return nil, err
	}

	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		from, strings.Join(to, ", "), subject, body)

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if err := smtp.SendMail(addr, auth, from, to, []byte(msg)); err != nil {
		return nil, plugin.NewTransientError(fmt.Sprintf("sending via %s", addr), err).WithPlugin("send_email")
	}

	return map[string]any{
		"from":       from,
		"recipients": len(to),
	}, nil
}

// recipients accepts a single address or a list of addresses.
func recipients(params map[string]any) ([]string, error) {
	switch v := params["to"].(type) {
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, plugin.NewConfigError("send_email", "to", "recipients must be strings")
			}
			out = append(out, s)
		}
		if len(out) == 0 {
			return nil, plugin.NewConfigError("send_email", "to", "at least one recipient is required")
		}
		return out, nil
	default:
		return nil, plugin.NewConfigError("send_email", "to", "must be a string or list of strings")
	}
}
