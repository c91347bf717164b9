package source

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v69/github"
	"golang.org/x/oauth2"

	"autodoc.dev/deployer/internal/errs"
)

var (
	ErrAuthFailed  = errors.New("github: auth token retrieval failed")
	ErrRepoInvalid = errors.New("github: invalid repository url")
	ErrSyncFailed  = errors.New("github: sync operation failed")
)

// GitHubSource downloads the directory holding the descriptor through the
// contents API. Sibling files (.env, env_file targets) come along; nested
// directories do not.
type GitHubSource struct {
	owner            string
	repo             string
	ref              string
	file             string
	baseURL          *url.URL
	fetchGitHubToken TokenProvider
}

type GitHubOption func(*GitHubSource)

// WithBaseURL points the client at another API root, e.g. GitHub Enterprise.
func WithBaseURL(u *url.URL) GitHubOption {
	return func(s *GitHubSource) {
		s.baseURL = u
	}
}

func NewGitHubSource(repoURL, ref, file string, tp TokenProvider, opts ...GitHubOption) (*GitHubSource, error) {
	owner, repo, err := parseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}
	if ref == "" {
		ref = "main"
	}
	if file == "" {
		file = "docker-compose.yml"
	}
	if tp == nil {
		tp = StaticToken("")
	}
	s := &GitHubSource{
		owner:            owner,
		repo:             repo,
		ref:              ref,
		file:             strings.TrimPrefix(path.Clean("/"+file), "/"),
		fetchGitHubToken: tp,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *GitHubSource) Fetch(ctx context.Context, dest string) (string, error) {
	token, err := s.fetchGitHubToken(ctx)
	if err != nil {
		return "", errs.Wrap(ErrAuthFailed, err)
	}
	client := s.client(ctx, token)
	opts := &github.RepositoryContentGetOptions{Ref: s.ref}

	dir := path.Dir(s.file)
	if dir == "." {
		dir = ""
	}
	localDir := filepath.Join(dest, s.owner, s.repo, filepath.FromSlash(dir))
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return "", errs.Wrap(ErrSyncFailed, err)
	}

	slog.InfoContext(ctx, "fetching descriptor", "repo", s.owner+"/"+s.repo, "ref", s.ref, "path", s.file, "into", localDir)
	_, entries, _, err := client.Repositories.GetContents(ctx, s.owner, s.repo, dir, opts)
	if err != nil {
		return "", errs.WrapMsgErr(ErrSyncFailed, "list "+dir, err)
	}

	found := false
	for _, entry := range entries {
		if entry.GetType() != "file" {
			continue
		}
		file, _, _, err := client.Repositories.GetContents(ctx, s.owner, s.repo, entry.GetPath(), opts)
		if err != nil {
			return "", errs.WrapMsgErr(ErrSyncFailed, "get "+entry.GetPath(), err)
		}
		content, err := file.GetContent()
		if err != nil {
			return "", errs.WrapMsgErr(ErrSyncFailed, "decode "+entry.GetPath(), err)
		}
		if err := os.WriteFile(filepath.Join(localDir, entry.GetName()), []byte(content), 0o644); err != nil {
			return "", errs.Wrap(ErrSyncFailed, err)
		}
		slog.DebugContext(ctx, "fetched file", "path", entry.GetPath(), "size", len(content))
		if entry.GetPath() == s.file {
			found = true
		}
	}
	if !found {
		return "", errs.WrapMsg(ErrNotFound, s.owner+"/"+s.repo+"/"+s.file+"@"+s.ref)
	}
	return filepath.Join(localDir, path.Base(s.file)), nil
}

func (s *GitHubSource) client(ctx context.Context, token string) *github.Client {
	var c *github.Client
	if token == "" {
		c = github.NewClient(nil)
	} else {
		c = github.NewClient(oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})))
	}
	if s.baseURL != nil {
		c.BaseURL = s.baseURL
	}
	return c
}

// parseRepoURL accepts https://github.com/owner/repo[.git] and
// git@github.com:owner/repo[.git].
func parseRepoURL(repoURL string) (string, string, error) {
	raw := repoURL
	if rest, ok := strings.CutPrefix(raw, "git@github.com:"); ok {
		raw = "https://github.com/" + rest
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", errs.WrapMsgErr(ErrRepoInvalid, repoURL, err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errs.WrapMsg(ErrRepoInvalid, repoURL)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
