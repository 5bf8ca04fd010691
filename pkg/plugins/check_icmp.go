package plugins

import (
	"context"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/automaxhq/automax/pkg/plugin"
)

// CheckICMPConnection probes a host with ICMP echo requests.
type CheckICMPConnection struct{}

// Metadata implements plugin.Plugin.
func (p *CheckICMPConnection) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:           "check_icmp_connection",
		Description:    "Ping a host and report reachability and round-trip times",
		Required:       []string{"host"},
		Optional:       []string{"count", "timeout", "interval", "privileged", "fail_on_unreachable"},
		DefaultTimeout: 30 * time.Second,
	}
}

// ValidateConfig implements plugin.Plugin.
func (p *CheckICMPConnection) ValidateConfig(params map[string]any) error {
	if err := plugin.CheckRequired(p.Metadata(), params); err != nil {
		return err
	}
	if _, err := plugin.StringParam("check_icmp_connection", params, "host"); err != nil {
		return err
	}
	count, err := plugin.OptionalInt("check_icmp_connection", params, "count", 4)
	if err != nil {
		return err
	}
	if count <= 0 {
		return plugin.NewConfigError("check_icmp_connection", "count", fmt.Sprintf("count must be positive, got %d", count))
	}
	if _, err := plugin.OptionalDuration("check_icmp_connection", params, "timeout", 2*time.Second); err != nil {
		return err
	}
	_, err = plugin.OptionalDuration("check_icmp_connection", params, "interval", 200*time.Millisecond)
	return err
}

// Execute implements plugin.Plugin.
func (p *CheckICMPConnection) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	host, err := plugin.StringParam("check_icmp_connection", params, "host")
	if err != nil {
		return nil, err
	}
	count, err := plugin.OptionalInt("check_icmp_connection", params, "count", 4)
	if err != nil {
		return nil, err
	}
	timeout, err := plugin.OptionalDuration("check_icmp_connection", params, "timeout", 2*time.Second)
	if err != nil {
		return nil, err
	}
	interval, err := plugin.OptionalDuration("check_icmp_connection", params, "interval", 200*time.Millisecond)
	if err != nil {
		return nil, err
	}
	privileged, err := plugin.OptionalBool("check_icmp_connection", params, "privileged", false)
	if err != nil {
		return nil, err
	}
	failOnUnreachable, err := plugin.OptionalBool("check_icmp_connection", params, "fail_on_unreachable", true)
	if err != nil {
		return nil, err
	}

	pinger, err := probing.NewPinger(host)
	if err != nil {
		return nil, plugin.NewFatalError(fmt.Sprintf("resolving %s", host), err).WithPlugin("check_icmp_connection")
	}
	pinger.Count = count
	pinger.Interval = interval
	// The per-probe timeout bounds the whole run, like the source tool.
	pinger.Timeout = timeout * time.Duration(count)
	pinger.SetPrivileged(privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, plugin.NewTimeoutError(fmt.Sprintf("pinging %s", host), err).WithPlugin("check_icmp_connection")
		}
		return nil, plugin.NewTransientError(fmt.Sprintf("pinging %s", host), err).WithPlugin("check_icmp_connection")
	}

	stats := pinger.Statistics()
	alive := stats.PacketsRecv > 0

	if !alive && failOnUnreachable {
		return nil, plugin.NewTransientError(fmt.Sprintf("host %s did not answer %d probes", host, count), nil).WithPlugin("check_icmp_connection")
	}

	return map[string]any{
		"host":             host,
		"address":          stats.IPAddr.String(),
		"is_alive":         alive,
		"packets_sent":     stats.PacketsSent,
		"packets_received": stats.PacketsRecv,
		"packet_loss":      stats.PacketLoss,
		"min_rtt_ms":       stats.MinRtt.Milliseconds(),
		"avg_rtt_ms":       stats.AvgRtt.Milliseconds(),
		"max_rtt_ms":       stats.MaxRtt.Milliseconds(),
	}, nil
}
