package plugins

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/automaxhq/automax/pkg/plugin"
)

// CheckTCPConnection probes whether a TCP endpoint accepts connections.
type CheckTCPConnection struct{}

// Metadata implements plugin.Plugin.
func (p *CheckTCPConnection) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:           "check_tcp_connection",
		Description:    "Check that a TCP endpoint accepts connections",
		Required:       []string{"host", "port"},
		Optional:       []string{"fail_on_unreachable"},
		DefaultTimeout: 10 * time.Second,
	}
}

// ValidateConfig implements plugin.Plugin.
func (p *CheckTCPConnection) ValidateConfig(params map[string]any) error {
	if err := plugin.CheckRequired(p.Metadata(), params); err != nil {
		return err
	}
	port, err := plugin.OptionalInt("check_tcp_connection", params, "port", 0)
	if err != nil {
		return err
	}
	if port <= 0 || port > 65535 {
		return plugin.NewConfigError("check_tcp_connection", "port", fmt.Sprintf("invalid port %d", port))
	}
	return nil
}

// Execute implements plugin.Plugin.
func (p *CheckTCPConnection) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	host, err := plugin.StringParam("check_tcp_connection", params, "host")
	if err != nil {
		return nil, err
	}
	port, err := plugin.OptionalInt("check_tcp_connection", params, "port", 0)
	if err != nil {
		return nil, err
	}
	failOnUnreachable, err := plugin.OptionalBool("check_tcp_connection", params, "fail_on_unreachable", true)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer

	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", addr)
	latency := time.Since(start)

	if err != nil {
		if !failOnUnreachable {
			return map[string]any{
				"host":      host,
				"port":      port,
				"reachable": false,
				"error":     err.Error(),
			}, nil
		}
		return nil, plugin.NewTransientError(fmt.Sprintf("dialing %s", addr), err).WithPlugin("check_tcp_connection")
	}
	conn.Close()

	return map[string]any{
		"host":       host,
		"port":       port,
		"reachable":  true,
		"latency_ms": latency.Milliseconds(),
	}, nil
}
