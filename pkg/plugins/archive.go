package plugins

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/automaxhq/automax/pkg/plugin"
)

// CompressFile compresses a file or directory into an archive.
type CompressFile struct{}

// Metadata implements plugin.Plugin.
func (p *CompressFile) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:           "compress_file",
		Description:    "Compress a file or directory",
		Required:       []string{"path"},
		Optional:       []string{"output", "format"},
		DefaultTimeout: 5 * time.Minute,
	}
}

// ValidateConfig implements plugin.Plugin.
func (p *CompressFile) ValidateConfig(params map[string]any) error {
	if err := plugin.CheckRequired(p.Metadata(), params); err != nil {
		return err
	}
	format, err := plugin.OptionalString("compress_file", params, "format", "gzip")
	if err != nil {
		return err
	}
	switch format {
	case "gzip", "tar.gz", "zip":
		return nil
	default:
		return plugin.NewConfigError("compress_file", "format", "must be gzip, tar.gz or zip")
	}
}

// Execute implements plugin.Plugin.
func (p *CompressFile) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	path, err := plugin.StringParam("compress_file", params, "path")
	if err != nil {
		return nil, err
	}
	format, err := plugin.OptionalString("compress_file", params, "format", "gzip")
	if err != nil {
		return nil, err
	}
	output, err := plugin.OptionalString("compress_file", params, "output", "")
	if err != nil {
		return nil, err
	}
	if output == "" {
		switch format {
		case "gzip":
			output = path + ".gz"
		case "tar.gz":
			output = path + ".tar.gz"
		case "zip":
			output = path + ".zip"
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, plugin.NewFatalError(fmt.Sprintf("stat %s", path), err).WithPlugin("compress_file")
	}
	if info.IsDir() && format == "gzip" {
		return nil, plugin.NewConfigError("compress_file", "format", "gzip cannot compress a directory, use tar.gz or zip")
	}

	switch format {
	case "gzip":
		err = gzipFile(path, output)
	case "tar.gz":
		err = tarGzip(path, output)
	case "zip":
		err = zipPath(path, output)
	}
	if err != nil {
		return nil, plugin.NewFatalError(fmt.Sprintf("compressing %s", path), err).WithPlugin("compress_file")
	}

	outInfo, err := os.Stat(output)
	if err != nil {
		return nil, plugin.NewFatalError(fmt.Sprintf("stat %s", output), err).WithPlugin("compress_file")
	}
	return map[string]any{
		"path":   path,
		"output": output,
		"format": format,
		"size":   outInfo.Size(),
	}, nil
}

// UncompressFile extracts an archive produced by compress_file.
type UncompressFile struct{}

// Metadata implements plugin.Plugin.
func (p *UncompressFile) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:           "uncompress_file",
		Description:    "Extract a compressed file or archive",
		Required:       []string{"path"},
		Optional:       []string{"output", "format"},
		DefaultTimeout: 5 * time.Minute,
	}
}

// ValidateConfig implements plugin.Plugin.
func (p *UncompressFile) ValidateConfig(params map[string]any) error {
	if err := plugin.CheckRequired(p.Metadata(), params); err != nil {
		return err
	}
	format, err := plugin.OptionalString("uncompress_file", params, "format", "")
	if err != nil {
		return err
	}
	switch format {
	case "", "gzip", "tar.gz", "zip":
		return nil
	default:
		return plugin.NewConfigError("uncompress_file", "format", "must be gzip, tar.gz or zip")
	}
}

// Execute implements plugin.Plugin.
func (p *UncompressFile) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	path, err := plugin.StringParam("uncompress_file", params, "path")
	if err != nil {
		return nil, err
	}
	format, err := plugin.OptionalString("uncompress_file", params, "format", "")
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = detectFormat(path)
		if format == "" {
			return nil, plugin.NewConfigError("uncompress_file", "format", "cannot infer format from extension, set format explicitly")
		}
	}
	output, err := plugin.OptionalString("uncompress_file", params, "output", "")
	if err != nil {
		return nil, err
	}
	if output == "" {
		switch format {
		case "gzip":
			output = strings.TrimSuffix(path, ".gz")
		default:
			output = filepath.Dir(path)
		}
	}

	switch format {
	case "gzip":
		err = gunzipFile(path, output)
	case "tar.gz":
		err = untarGzip(path, output)
	case "zip":
		err = unzipPath(path, output)
	}
	if err != nil {
		return nil, plugin.NewFatalError(fmt.Sprintf("extracting %s", path), err).WithPlugin("uncompress_file")
	}
	return map[string]any{
		"path":   path,
		"output": output,
		"format": format,
	}, nil
}

func detectFormat(path string) string {
	switch {
	case strings.HasSuffix(path, ".tar.gz"), strings.HasSuffix(path, ".tgz"):
		return "tar.gz"
	case strings.HasSuffix(path, ".gz"):
		return "gzip"
	case strings.HasSuffix(path, ".zip"):
		return "zip"
	}
	return ""
}

func gzipFile(path, output string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(output)
	if err != nil {
		return err
	}
	defer dst.Close()

	gw := gzip.NewWriter(dst)
	gw.Name = filepath.Base(path)
	if _, err := io.Copy(gw, src); err != nil {
		return err
	}
	return gw.Close()
}

func gunzipFile(path, output string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	gr, err := gzip.NewReader(src)
	if err != nil {
		return err
	}
	defer gr.Close()

	dst, err := os.Create(output)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, gr)
	return err
}

func tarGzip(root, output string) error {
	dst, err := os.Create(output)
	if err != nil {
		return err
	}
	defer dst.Close()

	gw := gzip.NewWriter(dst)
	tw := tar.NewWriter(gw)

	base := filepath.Dir(root)
	err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gw.Close()
}

func untarGzip(path, output string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	gr, err := gzip.NewReader(src)
	if err != nil {
		return err
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target, err := safeJoin(output, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}

func zipPath(root, output string) error {
	dst, err := os.Create(output)
	if err != nil {
		return err
	}
	defer dst.Close()

	zw := zip.NewWriter(dst)
	base := filepath.Dir(root)

	err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return err
	}
	return zw.Close()
}

func unzipPath(path, output string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		target, err := safeJoin(output, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			rc.Close()
			return err
		}
		_, cerr := io.Copy(dst, rc)
		rc.Close()
		if err := dst.Close(); cerr == nil {
			cerr = err
		}
		if cerr != nil {
			return cerr
		}
	}
	return nil
}

// safeJoin rejects archive entries that would escape the extraction root.
func safeJoin(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(root)+string(os.PathSeparator)) && target != filepath.Clean(root) {
		return "", fmt.Errorf("archive entry %q escapes extraction root", name)
	}
	return target, nil
}
