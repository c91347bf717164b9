package environment

import (
	"context"
	"errors"
	"log/slog"

	"autodoc.dev/deployer/internal/aws"
	"autodoc.dev/deployer/internal/config"
	"autodoc.dev/deployer/internal/descriptor"
	"autodoc.dev/deployer/internal/errs"
	"autodoc.dev/deployer/internal/logger"
	"autodoc.dev/deployer/internal/source"
)

var (
	ErrFetch   = errors.New("environment: failed to fetch descriptor")
	ErrSecrets = errors.New("environment: failed to set up secret resolution")
)

// Manager turns configuration into a loaded descriptor: it picks the source,
// fetches into the workspace and loads with the configured options.
type Manager struct {
	cfg              *config.Config
	env              descriptor.Environment
	fetchGitHubToken source.TokenProvider
	fetchSecret      descriptor.SecretFetcher
	githubOpts       []source.GitHubOption
}

type Option func(*Manager)

// WithEnvironment replaces the process environment used for interpolation.
func WithEnvironment(env descriptor.Environment) Option {
	return func(m *Manager) {
		m.env = env
	}
}

func WithTokenProvider(tp source.TokenProvider) Option {
	return func(m *Manager) {
		m.fetchGitHubToken = tp
	}
}

// WithSecretFetcher overrides the AWS Secrets Manager client that is otherwise
// built when secret resolution is enabled.
func WithSecretFetcher(f descriptor.SecretFetcher) Option {
	return func(m *Manager) {
		m.fetchSecret = f
	}
}

func WithGitHubOptions(opts ...source.GitHubOption) Option {
	return func(m *Manager) {
		m.githubOpts = append(m.githubOpts, opts...)
	}
}

func NewManager(cfg *config.Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:              cfg,
		fetchGitHubToken: source.StaticToken(cfg.GitHubToken),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.env == nil {
		m.env = descriptor.OSEnvironment()
	}
	return m
}

func (m *Manager) Boot(ctx context.Context) (*descriptor.Descriptor, error) {
	src, err := m.source()
	if err != nil {
		return nil, errs.Wrap(ErrFetch, err)
	}
	path, err := src.Fetch(ctx, m.cfg.WorkspaceDir)
	if err != nil {
		return nil, errs.Wrap(ErrFetch, err)
	}

	var opts []descriptor.Option
	if m.cfg.ResolveSecrets {
		fetch, err := m.secretFetcher(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, descriptor.WithSecretFetcher(fetch))
	}

	slog.InfoContext(ctx, "loading descriptor", "path", path, "secrets", m.cfg.ResolveSecrets)
	d, err := descriptor.LoadContext(ctx, path, m.env, opts...)
	if err != nil {
		return nil, err
	}
	logger.Info(logger.WithDescriptor(ctx, d.Name), "descriptor ready", "services", d.ServiceNames(), "digest", d.Digest)
	return d, nil
}

func (m *Manager) source() (source.Source, error) {
	if m.cfg.DescriptorGitURL == "" {
		return source.NewLocalSource(m.cfg.DescriptorPath), nil
	}
	if len(m.githubOpts) > 0 {
		return source.NewGitHubSource(m.cfg.DescriptorGitURL, m.cfg.DescriptorGitRef, m.cfg.DescriptorPath, m.fetchGitHubToken, m.githubOpts...)
	}
	return source.New(m.cfg.DescriptorGitURL, m.cfg.DescriptorGitRef, m.cfg.DescriptorPath, m.fetchGitHubToken)
}

func (m *Manager) secretFetcher(ctx context.Context) (descriptor.SecretFetcher, error) {
	if m.fetchSecret != nil {
		return m.fetchSecret, nil
	}
	awsCfg, err := aws.LoadServiceConfig(ctx, m.cfg.Mode, "SECRETS")
	if err != nil {
		return nil, errs.Wrap(ErrSecrets, err)
	}
	return aws.NewSecretsManagerClient(awsCfg).GetSecret, nil
}
