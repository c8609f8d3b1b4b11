// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bootvisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultFetchTimeout bounds a single artifact download.
	DefaultFetchTimeout = 5 * time.Minute

	// DefaultFetchParallel is the number of artifacts fetched at once.
	DefaultFetchParallel = 4
)

// Artifact is an externally sourced file that must exist on local disk
// before any service using it can be started.
type Artifact struct {
	Name       string `json:"name" yaml:"name" mapstructure:"name"`
	URL        string `json:"url" yaml:"url" mapstructure:"url"`
	Path       string `json:"path" yaml:"path" mapstructure:"path"`
	Executable bool   `json:"executable" yaml:"executable" mapstructure:"executable"`
	Digest     Digest `json:"digest,omitempty" yaml:"digest,omitempty" mapstructure:"digest"`
}

// NewArtifact returns an executable artifact called name, stored in dir
// and fetched from url.
func NewArtifact(dir, name, url string) Artifact {
	return Artifact{
		Name:       name,
		URL:        url,
		Path:       filepath.Join(dir, name),
		Executable: true,
	}
}

func (a Artifact) mode() fs.FileMode {
	if a.Executable {
		return 0755
	}
	return 0644
}

// Validate checks that the artifact is fetchable.
func (a Artifact) Validate() error {
	if a.Name == "" || a.URL == "" || a.Path == "" {
		return ErrBadArtifact
	}
	return a.Digest.Validate()
}

// Fetcher materializes artifacts on local disk.  A Fetcher is safe for
// concurrent use on distinct artifacts.
type Fetcher struct {
	client   *http.Client
	timeout  time.Duration
	parallel int
	logger   *log.Logger
}

// NewFetcher returns a Fetcher using client, or http.DefaultClient if
// client is nil.  Each download is bounded by timeout; zero selects
// DefaultFetchTimeout.
func NewFetcher(client *http.Client, timeout time.Duration) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Fetcher{
		client:   client,
		timeout:  timeout,
		parallel: DefaultFetchParallel,
		logger:   log.New(os.Stderr, "", log.LstdFlags),
	}
}

// SetLogger overrides the default logger.
func (f *Fetcher) SetLogger(l *log.Logger) {
	f.logger = l
}

// SetParallel sets how many artifacts EnsureAll fetches at once.  A
// value of 1 fetches strictly in order.
func (f *Fetcher) SetParallel(n int) {
	if n < 1 {
		n = 1
	}
	f.parallel = n
}

// Ensure guarantees that the artifact exists at its local path.  An
// existing file is trusted as is, unless the artifact carries a Digest
// that the file does not match, in which case it is fetched again.
// Downloads go to a temporary file that is only renamed into place once
// complete, so an interrupted download never looks present.
func (f *Fetcher) Ensure(ctx context.Context, a Artifact) error {
	if err := a.Validate(); err != nil {
		return &FetchError{Artifact: a.Name, URL: a.URL, Err: err}
	}
	present, err := f.present(a)
	if err != nil {
		return &FetchError{Artifact: a.Name, URL: a.URL, Err: err}
	}
	if present {
		f.logger.Printf("%s already present, skipping download", a.Name)
		return nil
	}
	start := time.Now()
	if err := f.download(ctx, a); err != nil {
		return &FetchError{Artifact: a.Name, URL: a.URL, Err: err}
	}
	f.logger.Printf("%s downloaded in %v", a.Name, time.Since(start).Round(time.Millisecond))
	return nil
}

// EnsureAll ensures every artifact, several at a time.  The first failure
// cancels the downloads still in flight and is returned.
func (f *Fetcher) EnsureAll(ctx context.Context, arts []Artifact) error {
	if len(arts) == 0 {
		return ErrNoArtifacts
	}
	paths := make(map[string]string, len(arts))
	for _, a := range arts {
		if other, ok := paths[a.Path]; ok {
			return &FetchError{
				Artifact: a.Name,
				URL:      a.URL,
				Err:      fmt.Errorf("%w: path %s shared with %s", ErrBadArtifact, a.Path, other),
			}
		}
		paths[a.Path] = a.Name
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.parallel)
	for _, a := range arts {
		a := a
		g.Go(func() error {
			return f.Ensure(ctx, a)
		})
	}
	return g.Wait()
}

func (f *Fetcher) present(a Artifact) (bool, error) {
	info, err := os.Stat(a.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if info.IsDir() {
		return false, fmt.Errorf("%s is a directory", a.Path)
	}
	if err := a.Digest.VerifyFile(a.Path); err != nil {
		f.logger.Printf("%s present but failed verification, fetching again: %v", a.Name, err)
		return false, nil
	}
	return true, nil
}

func (f *Fetcher) download(ctx context.Context, a Artifact) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	dir, base := filepath.Split(a.Path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".part-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	done := false
	defer func() {
		if !done {
			tmp.Close()
			os.Remove(name)
		}
	}()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := a.Digest.VerifyFile(name); err != nil {
		return err
	}
	if err := os.Chmod(name, a.mode()); err != nil {
		return err
	}
	if err := os.Rename(name, a.Path); err != nil {
		return err
	}
	done = true
	return nil
}
