package nats

import (
	"archive/zip"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// serverVersion is the nats-server release fetched when no binary is
// present.
const serverVersion = "2.10.24"

// EnsureBinary returns the path to a usable nats-server binary,
// downloading the pinned release when it is missing and auto-download
// is enabled.
func EnsureBinary(binPath string, autoDL bool) (string, error) {
	if _, err := os.Stat(binPath); err == nil {
		log.Printf("nats-server binary found at %s", binPath)
		return binPath, nil
	}

	if !autoDL {
		return "", fmt.Errorf("nats-server binary not found at %s and auto-download is disabled", binPath)
	}

	url, err := downloadURL()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(binPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", binPath, err)
	}

	tmpFile, err := os.CreateTemp("", "nats-server-*.zip")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	log.Printf("Downloading nats-server from %s", url)
	resp, err := http.Get(url)
	if err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("failed to download nats-server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		tmpFile.Close()
		return "", fmt.Errorf("failed to download nats-server: HTTP %d", resp.StatusCode)
	}
	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("failed to save nats-server archive: %w", err)
	}
	tmpFile.Close()

	if err := extractServerBinary(tmpFile.Name(), binPath); err != nil {
		return "", fmt.Errorf("failed to extract nats-server: %w", err)
	}
	if err := os.Chmod(binPath, 0755); err != nil {
		return "", fmt.Errorf("failed to make nats-server executable: %w", err)
	}

	log.Printf("nats-server installed at %s", binPath)
	return binPath, nil
}

// downloadURL builds the release URL for the current OS and
// architecture. All release assets ship as zip archives.
func downloadURL() (string, error) {
	switch runtime.GOOS {
	case "linux", "darwin", "windows":
	default:
		return "", fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
	switch runtime.GOARCH {
	case "amd64", "arm64":
	default:
		return "", fmt.Errorf("unsupported architecture: %s", runtime.GOARCH)
	}
	return fmt.Sprintf(
		"https://github.com/nats-io/nats-server/releases/download/v%s/nats-server-v%s-%s-%s.zip",
		serverVersion, serverVersion, runtime.GOOS, runtime.GOARCH,
	), nil
}

func extractServerBinary(zipPath, destPath string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	name := "nats-server"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	for _, f := range r.File {
		if strings.HasSuffix(f.Name, name) {
			return copyZipEntry(f, destPath)
		}
	}
	return fmt.Errorf("%s not found in archive", name)
}

func copyZipEntry(f *zip.File, destPath string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry: %w", err)
	}
	defer rc.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("failed to write %s: %w", destPath, err)
	}
	return nil
}
