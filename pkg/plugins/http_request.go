package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/automaxhq/automax/pkg/plugin"
)

// HTTPRequest performs an HTTP call and exposes the response to later steps.
type HTTPRequest struct {
	client *http.Client
}

// NewHTTPRequest creates the plugin. A nil client uses http.DefaultClient;
// request deadlines come from the execution context.
func NewHTTPRequest(client *http.Client) *HTTPRequest {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRequest{client: client}
}

// Metadata implements plugin.Plugin.
func (p *HTTPRequest) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "http_request",
		Description: "Perform an HTTP request",
		Required:    []string{"url"},
		Optional: []string{
			"method", "headers", "body", "json_body", "fail_on_error_status",
		},
		DefaultTimeout: time.Minute,
	}
}

// ValidateConfig implements plugin.Plugin.
func (p *HTTPRequest) ValidateConfig(params map[string]any) error {
	if err := plugin.CheckRequired(p.Metadata(), params); err != nil {
		return err
	}
	rawURL, err := plugin.StringParam("http_request", params, "url")
	if err != nil {
		return err
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return plugin.NewConfigError("http_request", "url", "must start with http:// or https://")
	}
	method, err := plugin.OptionalString("http_request", params, "method", http.MethodGet)
	if err != nil {
		return err
	}
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodHead, http.MethodOptions:
	default:
		return plugin.NewConfigError("http_request", "method", fmt.Sprintf("unsupported method %q", method))
	}
	if _, hasBody := params["body"]; hasBody {
		if _, hasJSON := params["json_body"]; hasJSON {
			return plugin.NewConfigError("http_request", "body", "body and json_body are mutually exclusive")
		}
	}
	_, err = plugin.OptionalStringMap("http_request", params, "headers")
	return err
}

// Execute implements plugin.Plugin.
func (p *HTTPRequest) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	rawURL, err := plugin.StringParam("http_request", params, "url")
	if err != nil {
		return nil, err
	}
	method, err := plugin.OptionalString("http_request", params, "method", http.MethodGet)
	if err != nil {
		return nil, err
	}
	headers, err := plugin.OptionalStringMap("http_request", params, "headers")
	if err != nil {
		return nil, err
	}
	failOnError, err := plugin.OptionalBool("http_request", params, "fail_on_error_status", true)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	contentType := ""
	if raw, ok := params["json_body"]; ok {
		encoded, merr := json.Marshal(raw)
		if merr != nil {
			return nil, plugin.NewConfigError("http_request", "json_body", merr.Error())
		}
		reqBody = bytes.NewReader(encoded)
		contentType = "application/json"
	} else if _, ok := params["body"]; ok {
		s, serr := plugin.StringParam("http_request", params, "body")
		if serr != nil {
			return nil, serr
		}
		reqBody = strings.NewReader(s)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), rawURL, reqBody)
	if err != nil {
		return nil, plugin.NewConfigError("http_request", "url", err.Error())
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classifyHTTPError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, plugin.NewTransientError("reading response body", err).WithPlugin("http_request")
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(respBody),
		"headers":     respHeaders,
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var parsed any
		if json.Unmarshal(respBody, &parsed) == nil {
			result["json"] = parsed
		}
	}

	if failOnError && resp.StatusCode >= 400 {
		msg := fmt.Sprintf("%s %s returned %d", strings.ToUpper(method), rawURL, resp.StatusCode)
		if resp.StatusCode >= 500 {
			return nil, plugin.NewTransientError(msg, nil).WithPlugin("http_request")
		}
		return nil, plugin.NewFatalError(msg, nil).WithPlugin("http_request")
	}
	return result, nil
}

// classifyHTTPError maps transport-level failures onto execution error
// classes. Connection and timeout errors are worth retrying.
func classifyHTTPError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return plugin.NewTimeoutError("request timed out", err).WithPlugin("http_request")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return plugin.NewTimeoutError("request timed out", err).WithPlugin("http_request")
	}
	return plugin.NewTransientError(err.Error(), err).WithPlugin("http_request")
}
