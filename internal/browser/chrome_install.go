package browser

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"runtime"

	"github.com/go-rod/rod/lib/launcher"
)

// EnsureBrowser returns a usable Chromium binary path: the configured
// one when it exists, otherwise a downloaded build for this OS/arch.
func EnsureBrowser(ctx context.Context, binPath string, revision int) (string, error) {
	if binPath != "" {
		if _, err := os.Stat(binPath); err == nil {
			log.Printf("Using browser binary at %s", binPath)
			return binPath, nil
		}
		log.Printf("Configured browser binary %s not found, downloading instead", binPath)
	}

	if err := installBrowserDependencies(ctx); err != nil {
		log.Printf("Warning: could not install browser dependencies: %v", err)
	}

	downloader := launcher.NewBrowser()
	downloader.Context = ctx
	if revision > 0 {
		downloader.Revision = revision
	}

	path, err := downloader.Get()
	if err != nil {
		return "", fmt.Errorf("failed to download browser: %w", err)
	}

	log.Printf("Browser ready at %s", path)
	return path, nil
}

// installBrowserDependencies installs OS packages required by Chromium.
func installBrowserDependencies(ctx context.Context) error {
	if runtime.GOOS != "linux" {
		return nil
	}

	if path, _ := exec.LookPath("apt-get"); path != "" {
		if err := runCommand(ctx, path, "update"); err != nil {
			return err
		}
		args := append([]string{"install", "-y", "--no-install-recommends"}, browserDepsApt...)
		return runCommand(ctx, path, args...)
	}

	if path, _ := exec.LookPath("dnf"); path != "" {
		args := append([]string{"install", "-y"}, browserDepsDnf...)
		return runCommand(ctx, path, args...)
	}

	if path, _ := exec.LookPath("yum"); path != "" {
		args := append([]string{"install", "-y"}, browserDepsYum...)
		return runCommand(ctx, path, args...)
	}

	if path, _ := exec.LookPath("apk"); path != "" {
		args := append([]string{"add", "--no-cache"}, browserDepsApk...)
		return runCommand(ctx, path, args...)
	}

	return fmt.Errorf("no supported package manager found for browser dependencies")
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v failed: %w\n%s", name, args, err, out.String())
	}
	return nil
}

var browserDepsApt = []string{
	"ca-certificates",
	"fonts-liberation",
	"libasound2",
	"libatk-bridge2.0-0",
	"libatk1.0-0",
	"libcups2",
	"libdbus-1-3",
	"libdrm2",
	"libgbm1",
	"libgtk-3-0",
	"libnspr4",
	"libnss3",
	"libx11-xcb1",
	"libxcomposite1",
	"libxdamage1",
	"libxfixes3",
	"libxrandr2",
	"libxshmfence1",
	"libxss1",
	"libxtst6",
	"libpango-1.0-0",
	"libpangocairo-1.0-0",
	"libxkbcommon0",
}

var browserDepsDnf = []string{
	"alsa-lib",
	"atk",
	"cups-libs",
	"gtk3",
	"libX11",
	"libXcomposite",
	"libXdamage",
	"libXrandr",
	"libXfixes",
	"libX11-xcb",
	"libxcb",
	"libxkbcommon",
	"libxshmfence",
	"nss",
	"nspr",
	"pango",
	"mesa-libgbm",
	"libdrm",
}

var browserDepsYum = browserDepsDnf

var browserDepsApk = []string{
	"ca-certificates",
	"freetype",
	"harfbuzz",
	"nss",
	"ttf-freefont",
	"alsa-lib",
	"atk",
	"at-spi2-atk",
	"cups-libs",
	"libxcomposite",
	"libxdamage",
	"libxrandr",
	"libxfixes",
	"libxkbcommon",
	"libx11",
	"libxrender",
	"libxext",
	"libxcb",
	"libdrm",
	"mesa-gbm",
	"gtk+3.0",
	"pango",
	"cairo",
	"gdk-pixbuf",
	"fontconfig",
	"libstdc++",
	"libgcc",
}
