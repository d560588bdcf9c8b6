// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package deploy

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lwerrors "github.com/tombee/loadwatch/pkg/errors"
)

// DefaultMaxArchiveSize bounds how much of an archive is read into memory.
const DefaultMaxArchiveSize int64 = 256 << 20

// ArchiveDeployer unpacks zip and jar archives into a directory of its own
// per archive, named after the archive file: <Dir>/<name>. Archives that
// differ only in extension get separate deployments.
type ArchiveDeployer struct {
	// Dir is the directory deployments are extracted into.
	Dir string

	// MaxSize limits the archive size. Zero selects DefaultMaxArchiveSize.
	MaxSize int64

	mu       sync.Mutex
	deployed map[string]Handle
	logger   *slog.Logger
}

// NewArchiveDeployer creates a deployer extracting into dir.
func NewArchiveDeployer(dir string) *ArchiveDeployer {
	return &ArchiveDeployer{
		Dir:      dir,
		deployed: make(map[string]Handle),
		logger:   slog.Default().With(slog.String("component", "deploy")),
	}
}

// Deploy implements Deployer.
func (d *ArchiveDeployer) Deploy(ctx context.Context, name string, r io.Reader) (Handle, error) {
	location, err := d.location(name)
	if err != nil {
		return Handle{}, err
	}

	limit := d.MaxSize
	if limit <= 0 {
		limit = DefaultMaxArchiveSize
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return Handle{}, deployErr(name, "deploy", "failed to read archive", err)
	}
	if int64(len(data)) > limit {
		return Handle{}, deployErr(name, "deploy", fmt.Sprintf("archive exceeds %d bytes", limit), nil)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return Handle{}, deployErr(name, "deploy", "not a valid archive", err)
	}

	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return Handle{}, deployErr(name, "deploy", "failed to create deploy directory", err)
	}
	staging, err := os.MkdirTemp(d.Dir, "."+filepath.Base(location)+"-")
	if err != nil {
		return Handle{}, deployErr(name, "deploy", "failed to create staging directory", err)
	}
	defer os.RemoveAll(staging)

	files, err := d.extract(ctx, name, zr, staging)
	if err != nil {
		return Handle{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.RemoveAll(location); err != nil {
		return Handle{}, deployErr(name, "deploy", "failed to remove previous deployment", err)
	}
	if err := os.Rename(staging, location); err != nil {
		return Handle{}, deployErr(name, "deploy", "failed to install deployment", err)
	}

	h := Handle{
		Name:       name,
		Location:   location,
		Files:      files,
		DeployedAt: time.Now(),
	}
	d.deployed[name] = h
	d.logger.Info("archive deployed",
		slog.String("name", name),
		slog.String("location", location),
		slog.Int("files", files))
	return h, nil
}

func (d *ArchiveDeployer) extract(ctx context.Context, name string, zr *zip.Reader, dest string) (int, error) {
	files := 0
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return 0, deployErr(name, "deploy", "cancelled", err)
		}

		entry := strings.TrimSuffix(f.Name, "/")
		if entry == "" {
			continue
		}
		if !filepath.IsLocal(entry) {
			return 0, deployErr(name, "deploy", fmt.Sprintf("entry %q escapes the deployment directory", f.Name), nil)
		}
		target := filepath.Join(dest, filepath.FromSlash(entry))

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return 0, deployErr(name, "deploy", "failed to create directory", err)
			}
		case mode&fs.ModeSymlink != 0:
			d.logger.Debug("skipping symlink entry", slog.String("name", name), slog.String("entry", f.Name))
		default:
			if err := writeEntry(f, target); err != nil {
				return 0, deployErr(name, "deploy", fmt.Sprintf("failed to extract %s", f.Name), err)
			}
			files++
		}
	}
	return files, nil
}

func writeEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Undeploy implements Deployer. It returns a NotFoundError when nothing is
// installed under name.
func (d *ArchiveDeployer) Undeploy(ctx context.Context, name string) error {
	location, err := d.location(name)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := os.Stat(location); os.IsNotExist(err) {
		delete(d.deployed, name)
		return &lwerrors.NotFoundError{Resource: "deployment", ID: name}
	}
	if err := os.RemoveAll(location); err != nil {
		return deployErr(name, "undeploy", "failed to remove deployment", err)
	}
	delete(d.deployed, name)
	d.logger.Info("archive undeployed", slog.String("name", name), slog.String("location", location))
	return nil
}

// Deployed returns the handle of a deployment made by this deployer.
func (d *ArchiveDeployer) Deployed(name string) (Handle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.deployed[name]
	return h, ok
}

func (d *ArchiveDeployer) location(name string) (string, error) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if name != filepath.Base(name) || base == "" || base == "." || base == ".." {
		return "", &lwerrors.ValidationError{Field: "name", Message: fmt.Sprintf("invalid archive name %q", name)}
	}
	return filepath.Join(d.Dir, name), nil
}

func deployErr(name, op, msg string, cause error) error {
	return &lwerrors.DeploymentError{Name: name, Op: op, Message: msg, Cause: cause}
}
