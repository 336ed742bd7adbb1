package pki

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Turgon37/OpenVPN-UAM/internal/models"
)

// FileTree materializes issued PKI artifacts on disk under
// root/<user-id>/<hostname-id>/<certificate-id>.{key,csr,crt}. Existing
// files are never overwritten.
type FileTree struct {
	logger *slog.Logger
	root   string
}

// NewFileTree creates the file store rooted at the given directory,
// creating it when missing.
func NewFileTree(root string, logger *slog.Logger) (*FileTree, error) {
	if root == "" {
		return nil, fmt.Errorf("pki: certificate directory is required")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("pki: certificate directory is invalid: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("pki: certificate directory is invalid: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("pki: %q is not a directory", root)
	}
	return &FileTree{
		logger: logger,
		root:   root,
	}, nil
}

// certPath builds the storage path of an artifact, creating missing
// directory segments.
func (ft *FileTree) certPath(user *models.User, host *models.Hostname, cert *models.Certificate, ext string) (string, error) {
	dir := filepath.Join(ft.root,
		strconv.FormatInt(user.ID, 10),
		strconv.FormatInt(host.ID, 10),
	)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("pki: failed to create directory %q: %w", dir, err)
	}
	return filepath.Join(dir, strconv.FormatInt(cert.ID, 10)+ext), nil
}

// store writes content to path, refusing to overwrite an existing file.
func (ft *FileTree) store(content []byte, path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("pki: refusing to overwrite existing file %q", path)
		}
		return fmt.Errorf("pki: failed to create file %q: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return fmt.Errorf("pki: failed to write file %q: %w", path, err)
	}
	ft.logger.Debug("artifact stored", slog.String("path", path))
	return nil
}

// StorePrivateKey writes the PEM-encoded private key of a certificate.
func (ft *FileTree) StorePrivateKey(user *models.User, host *models.Hostname, cert *models.Certificate, pemBytes []byte) error {
	path, err := ft.certPath(user, host, cert, ".key")
	if err != nil {
		return err
	}
	return ft.store(pemBytes, path)
}

// StoreCertificate writes the PEM-encoded signed certificate.
func (ft *FileTree) StoreCertificate(user *models.User, host *models.Hostname, cert *models.Certificate, pemBytes []byte) error {
	path, err := ft.certPath(user, host, cert, ".crt")
	if err != nil {
		return err
	}
	return ft.store(pemBytes, path)
}

// StoreRequest writes the PEM-encoded certificate signing request.
func (ft *FileTree) StoreRequest(user *models.User, host *models.Hostname, cert *models.Certificate, pemBytes []byte) error {
	path, err := ft.certPath(user, host, cert, ".csr")
	if err != nil {
		return err
	}
	return ft.store(pemBytes, path)
}
