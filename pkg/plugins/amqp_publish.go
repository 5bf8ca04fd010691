package plugins

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/automaxhq/automax/pkg/plugin"
)

// AMQPPublish publishes a message to a RabbitMQ exchange.
type AMQPPublish struct{}

// Metadata implements plugin.Plugin.
func (p *AMQPPublish) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "amqp_publish",
		Description: "Publish a message to an AMQP exchange",
		Required:    []string{"url", "routing_key"},
		Optional: []string{
			"exchange", "body", "json_body", "content_type", "persistent", "headers",
		},
		DefaultTimeout: 30 * time.Second,
	}
}

// ValidateConfig implements plugin.Plugin.
func (p *AMQPPublish) ValidateConfig(params map[string]any) error {
	if err := plugin.CheckRequired(p.Metadata(), params); err != nil {
		return err
	}
	rawURL, err := plugin.StringParam("amqp_publish", params, "url")
	if err != nil {
		return err
	}
	if !strings.HasPrefix(rawURL, "amqp://") && !strings.HasPrefix(rawURL, "amqps://") {
		return plugin.NewConfigError("amqp_publish", "url", "must start with amqp:// or amqps://")
	}
	_, hasBody := params["body"]
	_, hasJSON := params["json_body"]
	if hasBody && hasJSON {
		return plugin.NewConfigError("amqp_publish", "body", "body and json_body are mutually exclusive")
	}
	if !hasBody && !hasJSON {
		return plugin.NewConfigError("amqp_publish", "body", "one of body or json_body is required")
	}
	return nil
}

// Execute implements plugin.Plugin.
func (p *AMQPPublish) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	rawURL, err := plugin.StringParam("amqp_publish", params, "url")
	if err != nil {
		return nil, err
	}
	exchange, err := plugin.OptionalString("amqp_publish", params, "exchange", "")
	if err != nil {
		return nil, err
	}
	routingKey, err := plugin.StringParam("amqp_publish", params, "routing_key")
	if err != nil {
		return nil, err
	}
	persistent, err := plugin.OptionalBool("amqp_publish", params, "persistent", true)
	if err != nil {
		return nil, err
	}

	var body []byte
	contentType, err := plugin.OptionalString("amqp_publish", params, "content_type", "text/plain")
	if err != nil {
		return nil, err
	}
	if raw, ok := params["json_body"]; ok {
		body, err = json.Marshal(raw)
		if err != nil {
			return nil, plugin.NewConfigError("amqp_publish", "json_body", err.Error())
		}
		contentType = "application/json"
	} else {
		s, serr := plugin.StringParam("amqp_publish", params, "body")
		if serr != nil {
			return nil, serr
		}
		body = []byte(s)
	}

	headers := amqp.Table{}
	if raw, ok := params["headers"]; ok {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, plugin.NewConfigError("amqp_publish", "headers", "must be a map")
		}
		for k, v := range m {
			headers[k] = v
		}
	}

	conn, err := amqp.Dial(rawURL)
	if err != nil {
		return nil, plugin.NewTransientError("connecting to broker", err).WithPlugin("amqp_publish")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return nil, plugin.NewTransientError("opening channel", err).WithPlugin("amqp_publish")
	}
	defer ch.Close()

	deliveryMode := amqp.Transient
	if persistent {
		deliveryMode = amqp.Persistent
	}

	err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: deliveryMode,
		Timestamp:    time.Now(),
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		return nil, plugin.NewTransientError("publishing message", err).WithPlugin("amqp_publish")
	}

	return map[string]any{
		"exchange":    exchange,
		"routing_key": routingKey,
		"bytes":       len(body),
	}, nil
}
