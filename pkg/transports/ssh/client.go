package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// CommandResult is the outcome of one remote command.
type CommandResult struct {
	// Stdout is the captured standard output.
	Stdout string

	// Stderr is the captured standard error.
	Stderr string

	// ExitCode is the remote exit status.
	ExitCode int
}

// Client is a connected SSH transport. It is not safe for concurrent use;
// the engine executes sub-steps sequentially.
type Client struct {
	config *Config
	client *ssh.Client
}

// Dial establishes an SSH connection to the configured host. The context
// bounds connection establishment.
func Dial(ctx context.Context, config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	clientConfig, err := config.BuildClientConfig()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan dialResult, 1)
	go func() {
		client, err := ssh.Dial("tcp", config.Address(), clientConfig)
		ch <- dialResult{client, err}
	}()

	select {
	case <-ctx.Done():
		return nil, &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case res := <-ch:
		if res.err != nil {
			return nil, &TransportError{Op: "connect", Err: res.err, IsTemporary: true}
		}
		return &Client{config: config, client: res.client}, nil
	}
}

// Close tears down the connection.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// Run executes a command on the remote host. A non-zero exit status is not
// an error; it is reported through CommandResult.ExitCode. The context
// cancels the command by closing the session.
func (c *Client) Run(ctx context.Context, command string, stdin string) (*CommandResult, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "exec", Err: err, IsTemporary: true}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != "" {
		session.Stdin = bytes.NewBufferString(stdin)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		// Closing the session aborts the remote command.
		_ = session.Close()
		<-done
		return nil, &TransportError{Op: "exec", Err: ctx.Err(), IsTemporary: true}
	case err := <-done:
		result := &CommandResult{
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				result.ExitCode = exitErr.ExitStatus()
				return result, nil
			}
			return nil, &TransportError{Op: "exec", Err: err, IsTemporary: true}
		}
		return result, nil
	}
}

// Upload copies a local file to the remote host over SFTP, creating parent
// directories as needed.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) (int64, error) {
	sftpClient, err := sftp.NewClient(c.client)
	if err != nil {
		return 0, &TransportError{Op: "upload", Err: err, IsTemporary: true}
	}
	defer sftpClient.Close()

	local, err := os.Open(localPath)
	if err != nil {
		return 0, &TransportError{Op: "upload", Err: err}
	}
	defer local.Close()

	if dir := filepath.Dir(remotePath); dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return 0, &TransportError{Op: "upload", Err: fmt.Errorf("creating %s: %w", dir, err), IsTemporary: true}
		}
	}

	remote, err := sftpClient.Create(remotePath)
	if err != nil {
		return 0, &TransportError{Op: "upload", Err: err, IsTemporary: true}
	}
	defer remote.Close()

	n, err := copyCtx(ctx, remote, local)
	if err != nil {
		return n, &TransportError{Op: "upload", Err: err, IsTemporary: true}
	}
	return n, nil
}

// Download copies a remote file to the local filesystem over SFTP.
func (c *Client) Download(ctx context.Context, remotePath, localPath string) (int64, error) {
	sftpClient, err := sftp.NewClient(c.client)
	if err != nil {
		return 0, &TransportError{Op: "download", Err: err, IsTemporary: true}
	}
	defer sftpClient.Close()

	remote, err := sftpClient.Open(remotePath)
	if err != nil {
		return 0, &TransportError{Op: "download", Err: err, IsTemporary: true}
	}
	defer remote.Close()

	if dir := filepath.Dir(localPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, &TransportError{Op: "download", Err: err}
		}
	}

	local, err := os.Create(localPath)
	if err != nil {
		return 0, &TransportError{Op: "download", Err: err}
	}
	defer local.Close()

	n, err := copyCtx(ctx, local, remote)
	if err != nil {
		return n, &TransportError{Op: "download", Err: err, IsTemporary: true}
	}
	return n, nil
}

// copyCtx copies in chunks, checking for cancellation between chunks.
func copyCtx(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 128*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}
