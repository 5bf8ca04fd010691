package plugins

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/automaxhq/automax/pkg/plugin"
)

// CheckNetworkConnection checks that a host answers on a port, resolving the
// hostname first so DNS failures are reported separately from connect
// failures.
type CheckNetworkConnection struct{}

// Metadata implements plugin.Plugin.
func (p *CheckNetworkConnection) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:           "check_network_connection",
		Description:    "Resolve a host and check that it accepts connections on a port",
		Required:       []string{"host"},
		Optional:       []string{"port", "protocol", "fail_on_unreachable"},
		DefaultTimeout: 10 * time.Second,
	}
}

// ValidateConfig implements plugin.Plugin.
func (p *CheckNetworkConnection) ValidateConfig(params map[string]any) error {
	if err := plugin.CheckRequired(p.Metadata(), params); err != nil {
		return err
	}
	if _, err := plugin.StringParam("check_network_connection", params, "host"); err != nil {
		return err
	}
	port, err := plugin.OptionalInt("check_network_connection", params, "port", 80)
	if err != nil {
		return err
	}
	if port <= 0 || port > 65535 {
		return plugin.NewConfigError("check_network_connection", "port", fmt.Sprintf("invalid port %d", port))
	}
	protocol, err := plugin.OptionalString("check_network_connection", params, "protocol", "tcp")
	if err != nil {
		return err
	}
	if protocol != "tcp" && protocol != "udp" {
		return plugin.NewConfigError("check_network_connection", "protocol", fmt.Sprintf("unsupported protocol %q", protocol))
	}
	return nil
}

// Execute implements plugin.Plugin.
func (p *CheckNetworkConnection) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	host, err := plugin.StringParam("check_network_connection", params, "host")
	if err != nil {
		return nil, err
	}
	port, err := plugin.OptionalInt("check_network_connection", params, "port", 80)
	if err != nil {
		return nil, err
	}
	protocol, err := plugin.OptionalString("check_network_connection", params, "protocol", "tcp")
	if err != nil {
		return nil, err
	}
	failOnUnreachable, err := plugin.OptionalBool("check_network_connection", params, "fail_on_unreachable", true)
	if err != nil {
		return nil, err
	}

	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		if !failOnUnreachable {
			return map[string]any{
				"host":      host,
				"port":      port,
				"reachable": false,
				"error":     err.Error(),
			}, nil
		}
		return nil, plugin.NewTransientError(fmt.Sprintf("resolving %s", host), err).WithPlugin("check_network_connection")
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer

	start := time.Now()
	conn, err := d.DialContext(ctx, protocol, addr)
	latency := time.Since(start)

	if err != nil {
		if !failOnUnreachable {
			return map[string]any{
				"host":      host,
				"port":      port,
				"address":   addrs[0],
				"reachable": false,
				"error":     err.Error(),
			}, nil
		}
		return nil, plugin.NewTransientError(fmt.Sprintf("connecting to %s", addr), err).WithPlugin("check_network_connection")
	}
	conn.Close()

	return map[string]any{
		"host":       host,
		"port":       port,
		"address":    addrs[0],
		"protocol":   protocol,
		"reachable":  true,
		"latency_ms": latency.Milliseconds(),
	}, nil
}
