package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/automaxhq/automax/pkg/plugin"
)

// ReadFile reads a local file into the run context.
type ReadFile struct{}

// Metadata implements plugin.Plugin.
func (p *ReadFile) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:           "read_file",
		Description:    "Read a local file",
		Required:       []string{"path"},
		DefaultTimeout: 30 * time.Second,
	}
}

// ValidateConfig implements plugin.Plugin.
func (p *ReadFile) ValidateConfig(params map[string]any) error {
	if err := plugin.CheckRequired(p.Metadata(), params); err != nil {
		return err
	}
	_, err := plugin.StringParam("read_file", params, "path")
	return err
}

// Execute implements plugin.Plugin.
func (p *ReadFile) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	path, err := plugin.StringParam("read_file", params, "path")
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, plugin.NewFatalError(fmt.Sprintf("reading %s", path), err).WithPlugin("read_file")
	}
	return map[string]any{
		"path":    path,
		"content": string(data),
		"size":    len(data),
	}, nil
}

// WriteFile writes content to a local file.
type WriteFile struct{}

// Metadata implements plugin.Plugin.
func (p *WriteFile) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:           "write_file",
		Description:    "Write content to a local file",
		Required:       []string{"path", "content"},
		Optional:       []string{"mode", "perm", "mkdirs"},
		DefaultTimeout: 30 * time.Second,
	}
}

// ValidateConfig implements plugin.Plugin.
func (p *WriteFile) ValidateConfig(params map[string]any) error {
	if err := plugin.CheckRequired(p.Metadata(), params); err != nil {
		return err
	}
	if _, err := plugin.StringParam("write_file", params, "path"); err != nil {
		return err
	}
	mode, err := plugin.OptionalString("write_file", params, "mode", "overwrite")
	if err != nil {
		return err
	}
	switch mode {
	case "overwrite", "append", "create_new":
		return nil
	default:
		return plugin.NewConfigError("write_file", "mode", "must be overwrite, append or create_new")
	}
}

// Execute implements plugin.Plugin.
func (p *WriteFile) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	path, err := plugin.StringParam("write_file", params, "path")
	if err != nil {
		return nil, err
	}
	content, err := plugin.StringParam("write_file", params, "content")
	if err != nil {
		return nil, err
	}
	mode, err := plugin.OptionalString("write_file", params, "mode", "overwrite")
	if err != nil {
		return nil, err
	}
	perm, err := plugin.OptionalInt("write_file", params, "perm", 0o644)
	if err != nil {
		return nil, err
	}
	mkdirs, err := plugin.OptionalBool("write_file", params, "mkdirs", false)
	if err != nil {
		return nil, err
	}

	if mkdirs {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, plugin.NewFatalError("creating parent directories", err).WithPlugin("write_file")
		}
	}

	flags := os.O_WRONLY | os.O_CREATE
	switch mode {
	case "overwrite":
		flags |= os.O_TRUNC
	case "append":
		flags |= os.O_APPEND
	case "create_new":
		flags |= os.O_EXCL
	}

	f, err := os.OpenFile(path, flags, os.FileMode(perm))
	if err != nil {
		return nil, plugin.NewFatalError(fmt.Sprintf("opening %s", path), err).WithPlugin("write_file")
	}
	n, werr := f.WriteString(content)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return nil, plugin.NewFatalError(fmt.Sprintf("writing %s", path), werr).WithPlugin("write_file")
	}

	return map[string]any{
		"path":  path,
		"bytes": n,
	}, nil
}
