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
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// Digest is an expected content hash for an artifact, written as
// "algorithm:hex", for example "sha256:9f86d08...".  Supported algorithms
// are sha256 and blake3.  The empty Digest means no verification.
type Digest string

func (d Digest) parse() (func() hash.Hash, []byte, error) {
	algo, sum, found := strings.Cut(string(d), ":")
	if !found {
		return nil, nil, ErrBadDigest
	}
	want, err := hex.DecodeString(sum)
	if err != nil || len(want) != 32 {
		return nil, nil, ErrBadDigest
	}
	switch strings.ToLower(algo) {
	case "sha256":
		return sha256.New, want, nil
	case "blake3":
		return func() hash.Hash { return blake3.New() }, want, nil
	}
	return nil, nil, ErrBadDigest
}

// Validate reports whether the digest is well formed.
func (d Digest) Validate() error {
	if d == "" {
		return nil
	}
	_, _, err := d.parse()
	return err
}

// Verify checks the contents of the reader against the digest.  An empty
// digest always verifies.
func (d Digest) Verify(r io.Reader) error {
	if d == "" {
		return nil
	}
	newHash, want, err := d.parse()
	if err != nil {
		return err
	}
	h := newHash()
	if _, err := io.Copy(h, r); err != nil {
		return err
	}
	if got := h.Sum(nil); !bytes.Equal(got, want) {
		return fmt.Errorf("%w: got %x", ErrDigestMismatch, got)
	}
	return nil
}

// VerifyFile checks the file at path against the digest.
func (d Digest) VerifyFile(path string) error {
	if d == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return d.Verify(f)
}
