package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type contentEntry struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Encoding string `json:"encoding,omitempty"`
	Content  string `json:"content,omitempty"`
}

// fakeGitHub serves a tiny repository through the contents API.
func fakeGitHub(t *testing.T, files map[string]string, dirs map[string][]contentEntry) (*url.URL, *[]string) {
	t.Helper()
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.Path+"?"+r.URL.RawQuery+" "+r.Header.Get("Authorization"))
		const prefix = "/repos/acme/autodoc/contents/"
		if len(r.URL.Path) < len(prefix) || r.URL.Path[:len(prefix)] != prefix {
			http.NotFound(w, r)
			return
		}
		p := r.URL.Path[len(prefix):]
		w.Header().Set("Content-Type", "application/json")
		if entries, ok := dirs[p]; ok {
			_ = json.NewEncoder(w).Encode(entries)
			return
		}
		if body, ok := files[p]; ok {
			_ = json.NewEncoder(w).Encode(contentEntry{
				Type:     "file",
				Name:     filepath.Base(p),
				Path:     p,
				Encoding: "base64",
				Content:  base64.StdEncoding.EncodeToString([]byte(body)),
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	}))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	return u, &seen
}

func TestGitHubSourceFetch(t *testing.T) {
	files := map[string]string{
		"docker-compose.yml": "services:\n  autodoc:\n    build: .\n",
		".env":               "PORT=8001\n",
	}
	dirs := map[string][]contentEntry{
		"": {
			{Type: "file", Name: "docker-compose.yml", Path: "docker-compose.yml"},
			{Type: "file", Name: ".env", Path: ".env"},
			{Type: "dir", Name: "api", Path: "api"},
		},
	}
	base, seen := fakeGitHub(t, files, dirs)

	src, err := NewGitHubSource("https://github.com/acme/autodoc.git", "release", "", StaticToken("tok"), WithBaseURL(base))
	require.NoError(t, err)

	dest := t.TempDir()
	path, err := src.Fetch(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "acme", "autodoc", "docker-compose.yml"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, files["docker-compose.yml"], string(data))
	data, err = os.ReadFile(filepath.Join(dest, "acme", "autodoc", ".env"))
	require.NoError(t, err)
	assert.Equal(t, "PORT=8001\n", string(data))

	require.Len(t, *seen, 3)
	for _, s := range *seen {
		assert.Contains(t, s, "ref=release")
		assert.Contains(t, s, "Bearer tok")
	}
}

func TestGitHubSourceNestedDescriptor(t *testing.T) {
	files := map[string]string{"deploy/docker-compose.yml": "services: {}\n"}
	dirs := map[string][]contentEntry{
		"deploy": {{Type: "file", Name: "docker-compose.yml", Path: "deploy/docker-compose.yml"}},
	}
	base, _ := fakeGitHub(t, files, dirs)

	src, err := NewGitHubSource("git@github.com:acme/autodoc.git", "", "deploy/docker-compose.yml", nil, WithBaseURL(base))
	require.NoError(t, err)

	dest := t.TempDir()
	path, err := src.Fetch(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "acme", "autodoc", "deploy", "docker-compose.yml"), path)
}

func TestGitHubSourceErrors(t *testing.T) {
	dirs := map[string][]contentEntry{
		"": {{Type: "file", Name: "README.md", Path: "README.md"}},
	}
	base, _ := fakeGitHub(t, map[string]string{"README.md": "# autodoc"}, dirs)

	src, err := NewGitHubSource("https://github.com/acme/autodoc", "main", "", nil, WithBaseURL(base))
	require.NoError(t, err)
	_, err = src.Fetch(context.Background(), t.TempDir())
	require.ErrorIs(t, err, ErrNotFound)

	src, err = NewGitHubSource("https://github.com/acme/autodoc", "main", "missing/docker-compose.yml", nil, WithBaseURL(base))
	require.NoError(t, err)
	_, err = src.Fetch(context.Background(), t.TempDir())
	require.ErrorIs(t, err, ErrSyncFailed)

	failing := func(context.Context) (string, error) { return "", errors.New("vault sealed") }
	src, err = NewGitHubSource("https://github.com/acme/autodoc", "main", "", failing, WithBaseURL(base))
	require.NoError(t, err)
	_, err = src.Fetch(context.Background(), t.TempDir())
	require.ErrorIs(t, err, ErrAuthFailed)

	_, err = NewGitHubSource("https://github.com/acme", "", "", nil)
	require.ErrorIs(t, err, ErrRepoInvalid)
}

func TestNew(t *testing.T) {
	src, err := New("", "", "docker-compose.yml", nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalSource{}, src)

	src, err = New("https://github.com/acme/autodoc", "main", "docker-compose.yml", nil)
	require.NoError(t, err)
	assert.IsType(t, &GitHubSource{}, src)

	_, err = New("https://gitlab.com/acme/autodoc", "", "", nil)
	require.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestLocalSource(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "docker-compose.yml")
	require.NoError(t, os.WriteFile(file, []byte("services: {}\n"), 0o644))

	path, err := NewLocalSource(file).Fetch(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, file, path)

	_, err = NewLocalSource(dir).Fetch(context.Background(), "")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = NewLocalSource(filepath.Join(dir, "nope.yml")).Fetch(context.Background(), "")
	require.ErrorIs(t, err, ErrNotFound)
}
