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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/zeebo/blake3"
)

// artifactServer serves fixed content per path and counts requests.
type artifactServer struct {
	*httptest.Server
	files map[string][]byte
	hits  map[string]int
	sync.Mutex
}

func newArtifactServer(files map[string][]byte) *artifactServer {
	as := &artifactServer{files: files, hits: make(map[string]int)}
	as.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		as.Lock()
		as.hits[r.URL.Path]++
		b, ok := as.files[r.URL.Path]
		as.Unlock()
		switch {
		case r.URL.Path == "/truncated":
			w.Header().Set("Content-Length", "1000")
			w.Write([]byte("only a little"))
			w.(http.Flusher).Flush()
			panic(http.ErrAbortHandler)
		case !ok:
			http.NotFound(w, r)
		default:
			w.Write(b)
		}
	}))
	return as
}

func (as *artifactServer) count(path string) int {
	as.Lock()
	defer as.Unlock()
	return as.hits[path]
}

func leftovers(dir string) []string {
	m, _ := filepath.Glob(filepath.Join(dir, ".*"))
	return m
}

func TestFetcherEnsure(t *testing.T) {
	Convey("Given an artifact server", t, func() {
		as := newArtifactServer(map[string][]byte{
			"/cc":  []byte("cc binary"),
			"/app": []byte("app binary"),
		})
		defer as.Close()

		dir := t.TempDir()
		f := NewFetcher(as.Client(), time.Second*5)
		f.SetLogger(testLogger(t))
		ctx := context.Background()

		Convey("A missing artifact is fetched once and made executable", func() {
			a := NewArtifact(dir, "app", as.URL+"/app")
			So(f.Ensure(ctx, a), ShouldBeNil)
			So(as.count("/app"), ShouldEqual, 1)

			b, e := os.ReadFile(a.Path)
			So(e, ShouldBeNil)
			So(string(b), ShouldEqual, "app binary")
			info, e := os.Stat(a.Path)
			So(e, ShouldBeNil)
			So(info.Mode().Perm(), ShouldEqual, os.FileMode(0755))

			Convey("A second Ensure does nothing", func() {
				So(f.Ensure(ctx, a), ShouldBeNil)
				So(as.count("/app"), ShouldEqual, 1)
				b2, _ := os.ReadFile(a.Path)
				So(b2, ShouldResemble, b)
				info2, _ := os.Stat(a.Path)
				So(info2.Mode(), ShouldEqual, info.Mode())
			})
		})

		Convey("An existing artifact is not fetched", func() {
			cc := NewArtifact(dir, "cc", as.URL+"/cc")
			So(os.WriteFile(cc.Path, []byte("local cc"), 0755), ShouldBeNil)
			app := NewArtifact(dir, "app", as.URL+"/app")

			So(f.EnsureAll(ctx, []Artifact{cc, app}), ShouldBeNil)
			So(as.count("/cc"), ShouldEqual, 0)
			So(as.count("/app"), ShouldEqual, 1)

			b, _ := os.ReadFile(cc.Path)
			So(string(b), ShouldEqual, "local cc")
			info, e := os.Stat(app.Path)
			So(e, ShouldBeNil)
			So(info.Mode().Perm(), ShouldEqual, os.FileMode(0755))
		})

		Convey("A non-executable artifact is readable but not executable", func() {
			a := NewArtifact(dir, "cc.txt", as.URL+"/cc")
			a.Executable = false
			So(f.Ensure(ctx, a), ShouldBeNil)
			info, e := os.Stat(a.Path)
			So(e, ShouldBeNil)
			So(info.Mode().Perm(), ShouldEqual, os.FileMode(0644))
		})

		Convey("An HTTP error is a FetchError and leaves nothing behind", func() {
			a := NewArtifact(dir, "agent", as.URL+"/agent")
			e := f.Ensure(ctx, a)
			So(e, ShouldNotBeNil)
			var fe *FetchError
			So(errors.As(e, &fe), ShouldBeTrue)
			So(fe.Artifact, ShouldEqual, "agent")
			So(errors.Is(e, ErrBadStatus), ShouldBeTrue)
			_, e = os.Stat(a.Path)
			So(os.IsNotExist(e), ShouldBeTrue)
			So(leftovers(dir), ShouldBeEmpty)
		})

		Convey("An interrupted download leaves nothing behind", func() {
			a := NewArtifact(dir, "partial", as.URL+"/truncated")
			So(f.Ensure(ctx, a), ShouldNotBeNil)
			_, e := os.Stat(a.Path)
			So(os.IsNotExist(e), ShouldBeTrue)
			So(leftovers(dir), ShouldBeEmpty)

			Convey("And the next attempt fetches again", func() {
				So(f.Ensure(ctx, a), ShouldNotBeNil)
				So(as.count("/truncated"), ShouldEqual, 2)
			})
		})

		Convey("A stalled download is bounded by the fetch timeout", func() {
			stall := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Length", "1000")
				w.Write([]byte("a start"))
				w.(http.Flusher).Flush()
				select {
				case <-r.Context().Done():
				case <-time.After(5 * time.Second):
				}
			}))
			defer stall.Close()

			f := NewFetcher(stall.Client(), 200*time.Millisecond)
			f.SetLogger(testLogger(t))
			a := NewArtifact(dir, "slow", stall.URL+"/slow")
			begin := time.Now()
			e := f.Ensure(ctx, a)
			So(time.Since(begin) < 3*time.Second, ShouldBeTrue)
			var fe *FetchError
			So(errors.As(e, &fe), ShouldBeTrue)
			So(fe.Artifact, ShouldEqual, "slow")
			So(errors.Is(e, context.DeadlineExceeded), ShouldBeTrue)
			_, e = os.Stat(a.Path)
			So(os.IsNotExist(e), ShouldBeTrue)
			So(leftovers(dir), ShouldBeEmpty)
		})

		Convey("A bad artifact is rejected without a request", func() {
			e := f.Ensure(ctx, Artifact{Name: "x", Path: filepath.Join(dir, "x")})
			So(errors.Is(e, ErrBadArtifact), ShouldBeTrue)
		})

		Convey("EnsureAll rejects an empty list", func() {
			So(f.EnsureAll(ctx, nil), ShouldEqual, ErrNoArtifacts)
		})

		Convey("EnsureAll rejects two artifacts sharing a path", func() {
			a := NewArtifact(dir, "cc", as.URL+"/cc")
			b := NewArtifact(dir, "cc", as.URL+"/app")
			e := f.EnsureAll(ctx, []Artifact{a, b})
			So(errors.Is(e, ErrBadArtifact), ShouldBeTrue)
			So(as.count("/cc")+as.count("/app"), ShouldEqual, 0)
		})

		Convey("EnsureAll fails when any artifact fails", func() {
			f.SetParallel(1)
			arts := []Artifact{
				NewArtifact(dir, "cc", as.URL+"/cc"),
				NewArtifact(dir, "agent", as.URL+"/agent"),
			}
			e := f.EnsureAll(ctx, arts)
			var fe *FetchError
			So(errors.As(e, &fe), ShouldBeTrue)
			So(fe.Artifact, ShouldEqual, "agent")
		})
	})
}

func TestFetcherDigest(t *testing.T) {
	Convey("Given artifacts with digests", t, func() {
		content := []byte("agent binary")
		as := newArtifactServer(map[string][]byte{"/agent": content})
		defer as.Close()

		dir := t.TempDir()
		f := NewFetcher(as.Client(), 0)
		f.SetLogger(testLogger(t))
		ctx := context.Background()

		sum := sha256.Sum256(content)
		a := NewArtifact(dir, "agent", as.URL+"/agent")
		a.Digest = Digest("sha256:" + hex.EncodeToString(sum[:]))

		Convey("A matching download succeeds", func() {
			So(f.Ensure(ctx, a), ShouldBeNil)
			So(a.Digest.VerifyFile(a.Path), ShouldBeNil)
		})

		Convey("A blake3 digest is accepted", func() {
			b3 := blake3.Sum256(content)
			a.Digest = Digest("blake3:" + hex.EncodeToString(b3[:]))
			So(f.Ensure(ctx, a), ShouldBeNil)
			So(as.count("/agent"), ShouldEqual, 1)
		})

		Convey("A corrupt existing file is fetched again", func() {
			So(os.WriteFile(a.Path, []byte("agent bin"), 0755), ShouldBeNil)
			So(f.Ensure(ctx, a), ShouldBeNil)
			So(as.count("/agent"), ShouldEqual, 1)
			b, _ := os.ReadFile(a.Path)
			So(b, ShouldResemble, content)
		})

		Convey("A good existing file is kept", func() {
			So(os.WriteFile(a.Path, content, 0755), ShouldBeNil)
			So(f.Ensure(ctx, a), ShouldBeNil)
			So(as.count("/agent"), ShouldEqual, 0)
		})

		Convey("A download not matching the digest is discarded", func() {
			other := sha256.Sum256([]byte("something else"))
			a.Digest = Digest("sha256:" + hex.EncodeToString(other[:]))
			e := f.Ensure(ctx, a)
			So(errors.Is(e, ErrDigestMismatch), ShouldBeTrue)
			_, e = os.Stat(a.Path)
			So(os.IsNotExist(e), ShouldBeTrue)
			So(leftovers(dir), ShouldBeEmpty)
		})

		Convey("A malformed digest is rejected", func() {
			for _, d := range []Digest{"sha256", "md5:00", "sha256:zz", "sha256:abcd"} {
				So(d.Validate(), ShouldEqual, ErrBadDigest)
			}
			a.Digest = "md5:00"
			So(errors.Is(f.Ensure(ctx, a), ErrBadDigest), ShouldBeTrue)
			So(as.count("/agent"), ShouldEqual, 0)
		})
	})
}
