package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Mode             string
	WorkspaceDir     string
	DescriptorPath   string
	DescriptorGitURL string
	DescriptorGitRef string
	GitHubToken      string
	ListenAddr       string
	ResolveSecrets   bool
	Debug            bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Mode:             getEnv("MODE", "local"),
		WorkspaceDir:     getEnv("WORKSPACE_DIR", "/tmp"),
		DescriptorPath:   getEnv("DESCRIPTOR_PATH", "docker-compose.yml"),
		DescriptorGitURL: os.Getenv("DESCRIPTOR_GIT_URL"),
		DescriptorGitRef: os.Getenv("DESCRIPTOR_GIT_REF"),
		GitHubToken:      os.Getenv("GITHUB_TOKEN"),
		ListenAddr:       getEnv("LISTEN_ADDR", "0.0.0.0:8080"),
	}

	var err error
	if cfg.ResolveSecrets, err = getBool("RESOLVE_SECRETS", false); err != nil {
		return nil, err
	}
	if cfg.Debug, err = getBool("DEBUG", false); err != nil {
		return nil, err
	}

	if err := cfg.applyDefaultsAndValidate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaultsAndValidate() error {
	if c.Mode != "local" && c.Mode != "server" {
		return fmt.Errorf("MODE must be 'local' or 'server', got %q", c.Mode)
	}

	if c.DescriptorPath == "" {
		return fmt.Errorf("DESCRIPTOR_PATH must not be empty")
	}

	if c.DescriptorGitURL != "" && c.DescriptorGitRef == "" {
		c.DescriptorGitRef = "main"
	}

	if c.Mode == "server" {
		if c.ListenAddr == "" {
			return fmt.Errorf("LISTEN_ADDR must be set in server mode")
		}
		if c.DescriptorGitURL != "" && c.GitHubToken == "" {
			return fmt.Errorf("GITHUB_TOKEN must be set in server mode when DESCRIPTOR_GIT_URL is set")
		}
	}

	if c.WorkspaceDir == "" {
		c.WorkspaceDir = os.TempDir()
	}

	return nil
}

func (c *Config) String() string {
	token := ""
	if c.GitHubToken != "" {
		token = "<redacted>"
	}
	return fmt.Sprintf(
		"Mode=%s WorkspaceDir=%s DescriptorPath=%s DescriptorGitURL=%s DescriptorGitRef=%s GitHubToken=%s ListenAddr=%s ResolveSecrets=%t Debug=%t",
		c.Mode, c.WorkspaceDir, c.DescriptorPath, c.DescriptorGitURL, c.DescriptorGitRef, token, c.ListenAddr, c.ResolveSecrets, c.Debug,
	)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, value)
	}
	return b, nil
}
