// Package installer fetches extensions into the user extensions
// directory and removes them. Sources can be local paths, git
// repositories, HTTP archives, or anything else go-getter understands.
package installer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-getter"
	"go.uber.org/zap"

	"github.com/lumen-ide/lumen/errors"
	"github.com/lumen-ide/lumen/extension"
	"github.com/lumen-ide/lumen/host"
	"github.com/lumen-ide/lumen/internal/httpclient"
	"github.com/lumen-ide/lumen/logger"
)

// Installer places extensions under the user extensions directory, one
// subdirectory per extension name.
type Installer struct {
	userDir     string
	hostVersion string
	log         *zap.SugaredLogger
}

// New creates an installer targeting userDir.
func New(userDir, hostVersion string) *Installer {
	return &Installer{
		userDir:     userDir,
		hostVersion: hostVersion,
		log:         logger.Named("installer"),
	}
}

// Install fetches src into a staging directory, validates its manifest,
// and moves it into place. An already-installed extension with the same
// name is replaced.
func (i *Installer) Install(ctx context.Context, src string) (extension.Manifest, error) {
	staging, err := os.MkdirTemp("", "lumen-install-*")
	if err != nil {
		return extension.Manifest{}, errors.Wrap(err, "creating staging directory")
	}
	defer os.RemoveAll(staging)

	// go-getter wants a nonexistent destination for directory fetches
	dst := filepath.Join(staging, "pkg")
	// copy local sources instead of symlinking so the install is a
	// real, independent tree
	getters := map[string]getter.Getter{}
	for scheme, g := range getter.Getters {
		getters[scheme] = g
	}
	getters["file"] = &getter.FileGetter{Copy: true}
	// remote fetches go through the SSRF-hardened client
	httpGetter := &getter.HttpGetter{
		Client:                httpclient.New(5 * time.Minute).Client,
		XTerraformGetDisabled: true,
	}
	getters["http"] = httpGetter
	getters["https"] = httpGetter

	client := &getter.Client{
		Ctx:     ctx,
		Src:     src,
		Dst:     dst,
		Mode:    getter.ClientModeAny,
		Getters: getters,
	}
	if err := client.Get(); err != nil {
		return extension.Manifest{}, errors.Wrapf(err, "fetching %s", src)
	}

	manifest, err := readManifest(dst, i.hostVersion)
	if err != nil {
		return extension.Manifest{}, err
	}

	target := filepath.Join(i.userDir, manifest.Name)
	if err := os.RemoveAll(target); err != nil {
		return extension.Manifest{}, errors.Wrapf(err, "clearing %s", target)
	}
	if err := os.MkdirAll(i.userDir, 0o755); err != nil {
		return extension.Manifest{}, errors.Wrap(err, "creating user extensions directory")
	}
	if err := os.Rename(dst, target); err != nil {
		// staging may sit on another filesystem, fall back to a copy
		if copyErr := copyTree(dst, target); copyErr != nil {
			return extension.Manifest{}, errors.Wrapf(copyErr, "installing %s", manifest.Name)
		}
	}

	i.log.Infow("Extension installed",
		logger.FieldExtension, manifest.Name,
		"version", manifest.Version,
		"source", src,
	)
	return manifest, nil
}

// Remove deletes an installed user extension by name.
func (i *Installer) Remove(name string) error {
	target := filepath.Join(i.userDir, name)
	if _, err := os.Stat(filepath.Join(target, host.ManifestFileName)); err != nil {
		return errors.NewNotFoundError("installed extension %s", name)
	}
	if err := os.RemoveAll(target); err != nil {
		return errors.Wrapf(err, "removing %s", name)
	}
	i.log.Infow("Extension removed", logger.FieldExtension, name)
	return nil
}

func readManifest(dir, hostVersion string) (extension.Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, host.ManifestFileName))
	if err != nil {
		return extension.Manifest{}, errors.Wrap(err, "fetched extension has no manifest")
	}
	manifest, err := extension.ParseManifest(json.RawMessage(raw), hostVersion)
	if err != nil {
		return extension.Manifest{}, err
	}
	if _, err := os.Stat(filepath.Join(dir, manifest.Entry)); err != nil {
		return extension.Manifest{}, errors.Newf("manifest entry %s is missing from the package", manifest.Entry)
	}
	return manifest, nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}
