package descriptor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	v1 "autodoc.dev/deployer/defs/v1"
	"autodoc.dev/deployer/internal/interpolate"
)

// DotEnvFile is read from the descriptor directory, when present, as a
// lower-precedence source of interpolation variables.
const DotEnvFile = ".env"

// Environment is the variable set used for interpolation.
type Environment map[string]string

// OSEnvironment snapshots the process environment.
func OSEnvironment() Environment {
	env := make(Environment)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

type Option func(*loader)

// WithSecretFetcher enables resolution of environment values that reference
// an AWS secret (see AwsSecretPrefix).
func WithSecretFetcher(f SecretFetcher) Option {
	return func(l *loader) {
		l.fetchSecret = f
	}
}

// WithoutDotEnv disables reading the project .env file.
func WithoutDotEnv() Option {
	return func(l *loader) {
		l.skipDotEnv = true
	}
}

type loader struct {
	fetchSecret SecretFetcher
	skipDotEnv  bool
}

// Load reads the descriptor at path and resolves it against env.
func Load(path string, env Environment, opts ...Option) (*Descriptor, error) {
	return LoadContext(context.Background(), path, env, opts...)
}

func LoadContext(ctx context.Context, path string, env Environment, opts ...Option) (*Descriptor, error) {
	l := &loader{}
	for _, opt := range opts {
		opt(l)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, configErr(ErrMissingDependency, path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, configErr(ErrMissingDependency, abs, err)
	}
	dir := filepath.Dir(abs)

	dotenv, err := l.readDotEnv(dir, env)
	if err != nil {
		return nil, err
	}
	lookup := interpolate.MapLookup(env, dotenv)

	doc, err := decode(data, lookup)
	if err != nil {
		return nil, err
	}
	if len(doc.Services) == 0 {
		return nil, configErr(ErrParseFailure, abs, errors.New("no services defined"))
	}

	m := &mapper{dir: dir, lookup: lookup}
	names := make([]string, 0, len(doc.Services))
	for name := range doc.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	d := &Descriptor{Name: doc.Name, Path: abs}
	if d.Name == "" {
		d.Name = projectName(dir)
	}
	for _, name := range names {
		svc, err := m.mapService(name, doc.Services[name])
		if err != nil {
			return nil, err
		}
		if l.fetchSecret != nil {
			if err := l.resolveServiceSecrets(ctx, svc); err != nil {
				return nil, err
			}
		}
		if err := svc.Validate(); err != nil {
			return nil, err
		}
		d.services = append(d.services, svc)
	}

	encoded, err := Encode(d)
	if err != nil {
		return nil, configErr(ErrInvalidValue, abs, err)
	}
	d.Digest = digest(encoded)

	slog.Debug("loaded descriptor", "name", d.Name, "path", abs, "services", len(d.services), "digest", d.Digest)
	return d, nil
}

// LoadService loads the descriptor and returns one service. An empty name is
// accepted when the document defines exactly one service.
func LoadService(path string, env Environment, name string, opts ...Option) (*ServiceSpec, error) {
	d, err := Load(path, env, opts...)
	if err != nil {
		return nil, err
	}
	return d.Lookup(name)
}

// Lookup is Service with the single-service shorthand and a ConfigError on miss.
func (d *Descriptor) Lookup(name string) (*ServiceSpec, error) {
	if name == "" {
		if len(d.services) != 1 {
			return nil, configErr(ErrUnknownService, "", fmt.Errorf("descriptor defines %d services, name one of %v", len(d.services), d.ServiceNames()))
		}
		return d.services[0].Clone(), nil
	}
	svc, ok := d.Service(name)
	if !ok {
		return nil, configErr(ErrUnknownService, name, nil)
	}
	return svc, nil
}

// readDotEnv reads the project .env. Its values may reference the supplied
// environment and each other.
func (l *loader) readDotEnv(dir string, env Environment) (map[string]string, error) {
	if l.skipDotEnv {
		return nil, nil
	}
	path := filepath.Join(dir, DotEnvFile)
	raw, err := readDotEnvFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, configErr(ErrParseFailure, path, err)
	}
	return resolveEnvValues(path, raw, interpolate.MapLookup(env))
}

// decode parses YAML into a generic tree, interpolates every string and then
// decodes the result into the v1 schema.
func decode(data []byte, lookup interpolate.LookupFunc) (*v1.Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, configErr(ErrParseFailure, "", errors.New(yaml.FormatError(err, false, true)))
	}
	if raw == nil {
		return nil, configErr(ErrParseFailure, "", errors.New("empty document"))
	}
	if _, ok := raw.(map[string]any); !ok {
		if _, ok := raw.(map[any]any); !ok {
			return nil, configErr(ErrParseFailure, "", fmt.Errorf("document must be a mapping, got %T", raw))
		}
	}

	resolved, err := interpolate.Tree(raw, lookup)
	if err != nil {
		var verr *interpolate.VariableError
		if errors.As(err, &verr) && !errors.Is(err, interpolate.ErrSyntax) {
			return nil, configErr(ErrUnresolvedVariable, verr.Name, err)
		}
		return nil, configErr(ErrParseFailure, "", err)
	}

	jsonData, err := json.Marshal(resolved)
	if err != nil {
		return nil, configErr(ErrParseFailure, "", err)
	}
	var doc v1.Document
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, configErr(ErrParseFailure, "", err)
	}
	return &doc, nil
}

func projectName(dir string) string {
	name := strings.ToLower(filepath.Base(dir))
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}
