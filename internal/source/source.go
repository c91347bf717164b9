package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"autodoc.dev/deployer/internal/errs"
)

var (
	ErrUnsupportedProvider = errors.New("source: unsupported provider")
	ErrNotFound            = errors.New("source: descriptor not found")
)

type TokenProvider func(ctx context.Context) (string, error)

// StaticToken returns a TokenProvider for a fixed token. An empty token means
// anonymous access.
func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// Source makes a descriptor available on the local filesystem. Fetch returns
// the path of the descriptor file.
type Source interface {
	Fetch(ctx context.Context, dest string) (string, error)
}

// New picks a source for location. An empty location means file is a local
// path; otherwise file is relative to the repository root.
func New(location, ref, file string, tp TokenProvider) (Source, error) {
	switch {
	case location == "":
		return NewLocalSource(file), nil
	case strings.Contains(location, "github.com"):
		return NewGitHubSource(location, ref, file, tp)
	default:
		return nil, errs.WrapMsg(ErrUnsupportedProvider, location)
	}
}

type LocalSource struct {
	path string
}

func NewLocalSource(path string) *LocalSource {
	return &LocalSource{path: path}
}

// Fetch checks the descriptor exists. dest is unused.
func (s *LocalSource) Fetch(_ context.Context, _ string) (string, error) {
	abs, err := filepath.Abs(s.path)
	if err != nil {
		return "", errs.WrapMsgErr(ErrNotFound, s.path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", errs.WrapMsgErr(ErrNotFound, abs, err)
	}
	if info.IsDir() {
		return "", errs.WrapMsg(ErrNotFound, abs+" is a directory")
	}
	return abs, nil
}
