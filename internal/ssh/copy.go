package ssh

// copy.go implements file transfer to the remote instance over SFTP.

import (
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/pkg/sftp"
)

var (
	ErrSFTPInit  = fmt.Errorf("failed to begin SFTP subsystem session")
	ErrSFTPWrite = fmt.Errorf("failed to write remote file")
)

// Upload copies the local file at 'local' to 'remote' on the connected host,
// applying 'mode' to the created remote file.
func (c *Client) Upload(local, remote string, mode fs.FileMode) error {
	client, err := sftp.NewClient(c.ssh)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSFTPInit, err)
	}
	defer client.Close()

	src, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("failed to open local file %q: %w", local, err)
	}
	defer src.Close()

	dst, err := client.Create(remote)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSFTPWrite, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("%w: %w", ErrSFTPWrite, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrSFTPWrite, err)
	}
	if err := client.Chmod(remote, mode); err != nil {
		return fmt.Errorf("%w: %w", ErrSFTPWrite, err)
	}
	return nil
}
