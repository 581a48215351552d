// Package remotetest serves canned smart HTTP upload-pack responses for
// tests of the transport client and clone.
package remotetest

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/odvcencio/grit/pkg/object"
	"github.com/odvcencio/grit/pkg/pktline"
	"github.com/odvcencio/grit/pkg/remote"
)

// DefaultCapabilities is what a typical git server advertises to a v0
// client, minus ofs-delta which grit never requests.
const DefaultCapabilities = "multi_ack side-band-64k no-progress agent=git/2.43.0 symref=HEAD:refs/heads/main"

// Repo describes what the fake server advertises and sends.
type Repo struct {
	Refs         []remote.Ref
	Capabilities string
	Pack         []byte
	Progress     []string
	Error        string // sent on side-band channel 3 after the pack
	Gzip         bool   // gzip every response body
}

// Request is one request the server received.
type Request struct {
	Method      string
	Path        string
	Query       string
	ContentType string
	UserAgent   string
	Header      http.Header
	Body        []byte
}

// Server is an httptest server speaking upload-pack.
type Server struct {
	*httptest.Server
	Repo Repo

	mu       sync.Mutex
	requests []Request
}

// NewServer starts a server for repo and closes it when the test ends.
func NewServer(tb testing.TB, repo Repo) *Server {
	tb.Helper()
	s := &Server{Repo: repo}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	tb.Cleanup(s.Close)
	return s
}

// RepoURL returns the repository URL clients should use.
func (s *Server) RepoURL() string {
	return s.URL + "/repo.git"
}

// Requests returns a copy of every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method:      r.Method,
		Path:        r.URL.Path,
		Query:       r.URL.RawQuery,
		ContentType: r.Header.Get("Content-Type"),
		UserAgent:   r.Header.Get("User-Agent"),
		Header:      r.Header.Clone(),
		Body:        body,
	})
	s.mu.Unlock()

	var out bytes.Buffer
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/info/refs"):
		if r.URL.Query().Get("service") != "git-upload-pack" {
			http.Error(w, "dumb protocol not supported", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/x-git-upload-pack-advertisement")
		WriteAdvertisement(&out, s.Repo.Refs, s.capabilities())
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/git-upload-pack"):
		if r.Header.Get("Content-Type") != "application/x-git-upload-pack-request" {
			http.Error(w, "bad content type", http.StatusUnsupportedMediaType)
			return
		}
		w.Header().Set("Content-Type", "application/x-git-upload-pack-result")
		s.writePackResponse(&out)
	default:
		http.NotFound(w, r)
		return
	}

	if s.Repo.Gzip {
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		zw.Write(out.Bytes())
		zw.Close()
		return
	}
	w.Write(out.Bytes())
}

func (s *Server) capabilities() string {
	if s.Repo.Capabilities == "" {
		return DefaultCapabilities
	}
	return s.Repo.Capabilities
}

func (s *Server) writePackResponse(out io.Writer) {
	sw := remote.NewSidebandWriter(out)
	sw.WriteNAK()
	for _, msg := range s.Repo.Progress {
		sw.WriteProgress(msg)
	}
	sw.Write(s.Repo.Pack)
	if s.Repo.Error != "" {
		sw.WriteError(s.Repo.Error)
	}
	sw.Flush()
}

// WriteAdvertisement writes a smart HTTP ref advertisement. With no refs it
// advertises the capabilities^{} pseudo ref the way git does for an empty
// repository.
func WriteAdvertisement(w io.Writer, refs []remote.Ref, caps string) {
	pw := pktline.NewWriter(w)
	pw.WriteString("# service=git-upload-pack\n")
	pw.Flush()
	if len(refs) == 0 {
		pw.WriteStringf("%s capabilities^{}\x00%s\n", object.ZeroHash, caps)
	}
	for i, ref := range refs {
		if i == 0 {
			pw.WriteStringf("%s %s\x00%s\n", ref.Hash, ref.Name, caps)
			continue
		}
		pw.WriteStringf("%s %s\n", ref.Hash, ref.Name)
	}
	pw.Flush()
}
