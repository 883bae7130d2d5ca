// Package credentials supplies bearer tokens for the evaluation service.
// Sources consume already-obtained tokens; acquiring them (OAuth flows,
// device login) is outside this package.
package credentials

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/wudi/speclint/config"
)

// TokenSource yields a bearer token. ok is false when the source has
// nothing to offer, which callers treat as a configuration problem.
type TokenSource interface {
	Token() (token string, ok bool)
}

// Static returns a fixed token value.
type Static struct {
	Value string
}

func (s Static) Token() (string, bool) {
	return s.Value, s.Value != ""
}

// Env reads the token from an environment variable on every call.
type Env struct {
	Var string
}

func (e Env) Token() (string, bool) {
	if e.Var == "" {
		return "", false
	}
	v, ok := os.LookupEnv(e.Var)
	return v, ok && v != ""
}

// File reads the token from a file, re-reading only when the file's
// mtime or size changes so rotated tokens are picked up without a
// read per request.
type File struct {
	Path string

	mu      sync.Mutex
	modTime time.Time
	size    int64
	token   string
	loaded  bool
}

// NewFile creates a file-backed token source. A leading ~/ in path is
// expanded against the user's home directory.
func NewFile(path string) *File {
	return &File{Path: path}
}

func (f *File) Token() (string, bool) {
	if f.Path == "" {
		return "", false
	}
	path := expandHome(f.Path)

	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	if f.loaded && info.ModTime().Equal(f.modTime) && info.Size() == f.size {
		return f.token, f.token != ""
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	// Token files routinely end with a newline.
	f.token = strings.TrimRight(string(data), " \t\r\n")
	f.modTime = info.ModTime()
	f.size = info.Size()
	f.loaded = true
	return f.token, f.token != ""
}

// Chain tries each source in order and returns the first token found.
type Chain []TokenSource

func (c Chain) Token() (string, bool) {
	for _, s := range c {
		if tok, ok := s.Token(); ok {
			return tok, true
		}
	}
	return "", false
}

// FromConfig builds the token chain from auth configuration, in
// precedence order: inline token, environment variable, token file.
func FromConfig(auth config.AuthConfig) TokenSource {
	var chain Chain
	if auth.Token != "" {
		chain = append(chain, Static{Value: auth.Token})
	}
	if auth.TokenEnv != "" {
		chain = append(chain, Env{Var: auth.TokenEnv})
	}
	if auth.TokenFile != "" {
		chain = append(chain, NewFile(auth.TokenFile))
	}
	return chain
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
