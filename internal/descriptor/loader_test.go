package descriptor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autodoc.dev/deployer/internal/descriptor"
)

const fixture = "testdata/autodoc/docker-compose.yml"

func writeCompose(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docker-compose.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func loadAutodoc(t *testing.T, env descriptor.Environment) *descriptor.ServiceSpec {
	t.Helper()
	svc, err := descriptor.LoadService(fixture, env, "autodoc")
	require.NoError(t, err)
	return svc
}

func TestLoadDefaults(t *testing.T) {
	svc := loadAutodoc(t, descriptor.Environment{})

	abs, err := filepath.Abs("testdata/autodoc")
	require.NoError(t, err)
	home, err := homedir.Dir()
	require.NoError(t, err)

	require.NotNil(t, svc.Build)
	assert.Equal(t, abs, svc.Build.Context)
	assert.Equal(t, "Dockerfile", svc.Build.Dockerfile)

	assert.Equal(t, []descriptor.PortMapping{
		{HostPort: "8001", ContainerPort: 8001, Protocol: "tcp"},
		{HostPort: "3000", ContainerPort: 3000, Protocol: "tcp"},
	}, svc.Ports)

	assert.Equal(t, []descriptor.EnvFile{{Path: filepath.Join(abs, ".env"), Required: true}}, svc.EnvFiles)
	assert.Equal(t, []descriptor.Variable{
		{Name: "GOOGLE_API_KEY", Value: "test-google-key"},
		{Name: "NODE_ENV", Value: "production"},
		{Name: "OPENAI_API_KEY", Value: "test-openai-key"},
		{Name: "PORT", Value: "8001"},
		{Name: "SERVER_BASE_URL", Value: "http://localhost:8001"},
		{Name: "LOG_LEVEL", Value: "INFO"},
		{Name: "LOG_FILE_PATH", Value: "api/logs/application.log"},
	}, svc.Environment)

	assert.Equal(t, []descriptor.VolumeMount{
		{Type: descriptor.VolumeBind, Source: filepath.Join(home, ".adalflow"), Target: "/root/.adalflow"},
		{Type: descriptor.VolumeBind, Source: filepath.Join(abs, "api", "logs"), Target: "/app/api/logs"},
	}, svc.Volumes)

	assert.Equal(t, descriptor.MemorySpec{Limit: 6 << 30, Reservation: 2 << 30}, svc.Memory)
	assert.Equal(t, descriptor.RestartPolicy{Mode: descriptor.RestartUnlessStopped}, svc.Restart)
	assert.Equal(t, &descriptor.HealthCheck{
		Test:        []string{"CMD", "curl", "-f", "http://localhost:8001/health"},
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		Retries:     3,
		StartPeriod: 30 * time.Second,
	}, svc.HealthCheck)
	assert.Equal(t, 20*time.Second, svc.StopGracePeriod)
}

func TestLoadWithEnvironment(t *testing.T) {
	svc := loadAutodoc(t, descriptor.Environment{
		"PORT":      "9000",
		"NEXT_PORT": "3100",
		"LOG_LEVEL": "DEBUG",
	})

	assert.Equal(t, []descriptor.PortMapping{
		{HostPort: "9000", ContainerPort: 9000, Protocol: "tcp"},
		{HostPort: "3100", ContainerPort: 3100, Protocol: "tcp"},
	}, svc.Ports)

	env := svc.EnvMap()
	assert.Equal(t, "9000", env["PORT"])
	assert.Equal(t, "http://localhost:9000", env["SERVER_BASE_URL"])
	assert.Equal(t, "DEBUG", env["LOG_LEVEL"])
	assert.Equal(t, "api/logs/application.log", env["LOG_FILE_PATH"])
	assert.Equal(t, "http://localhost:9000/health", svc.HealthCheck.Test[3])
}

func TestLoadEmptyValueUsesDefault(t *testing.T) {
	svc := loadAutodoc(t, descriptor.Environment{"LOG_LEVEL": ""})
	v, ok := svc.Env("LOG_LEVEL")
	require.True(t, ok)
	assert.Equal(t, "INFO", v)
}

func TestLoadDescriptor(t *testing.T) {
	d, err := descriptor.Load(fixture, nil)
	require.NoError(t, err)

	assert.Equal(t, "autodoc", d.Name)
	assert.Equal(t, []string{"autodoc"}, d.ServiceNames())
	assert.Len(t, d.Digest, 64)

	svc, err := d.Lookup("")
	require.NoError(t, err)
	assert.Equal(t, "autodoc", svc.Name)

	_, err = d.Lookup("worker")
	require.ErrorIs(t, err, descriptor.ErrUnknownService)
}

func TestLoadReturnsCopies(t *testing.T) {
	d, err := descriptor.Load(fixture, nil)
	require.NoError(t, err)

	svc, ok := d.Service("autodoc")
	require.True(t, ok)
	svc.Environment[0].Value = "changed"
	svc.Ports = nil

	again, _ := d.Service("autodoc")
	assert.Equal(t, "test-google-key", again.Environment[0].Value)
	assert.Len(t, again.Ports, 2)
}

func TestLoadDotEnvPrecedence(t *testing.T) {
	path := writeCompose(t, `
services:
  app:
    image: "nginx:${TAG:-latest}"
    environment:
      - "MODE=${MODE:-dev}"
`)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), ".env"), []byte("TAG=1.27\nMODE=staging\n"), 0o644))

	svc, err := descriptor.LoadService(path, descriptor.Environment{"MODE": "prod"}, "")
	require.NoError(t, err)
	assert.Equal(t, "nginx:1.27", svc.Image)
	v, _ := svc.Env("MODE")
	assert.Equal(t, "prod", v)

	svc, err = descriptor.LoadService(path, nil, "", descriptor.WithoutDotEnv())
	require.NoError(t, err)
	assert.Equal(t, "nginx:latest", svc.Image)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		kind    error
		subject string
	}{
		{
			name: "misspelt service key",
			body: `
services:
  app:
    image: nginx
    prots:
      - "80:80"
`,
			kind: descriptor.ErrParseFailure,
		},
		{
			name: "variable without default",
			body: `
services:
  app:
    image: nginx
    environment:
      - "TOKEN=${API_TOKEN}"
`,
			kind:    descriptor.ErrUnresolvedVariable,
			subject: "API_TOKEN",
		},
		{
			name: "bare variable",
			body: `
services:
  app:
    image: nginx
    environment:
      - API_TOKEN
`,
			kind:    descriptor.ErrUnresolvedVariable,
			subject: "API_TOKEN",
		},
		{
			name: "required variable",
			body: `
services:
  app:
    image: nginx
    ports:
      - "${PORT:?port must be set}:80"
`,
			kind:    descriptor.ErrUnresolvedVariable,
			subject: "PORT",
		},
		{
			name: "unterminated reference",
			body: `
services:
  app:
    image: "nginx:${TAG"
`,
			kind: descriptor.ErrParseFailure,
		},
		{
			name: "not a mapping",
			body: "- app\n- worker\n",
			kind: descriptor.ErrParseFailure,
		},
		{
			name: "empty",
			body: "",
			kind: descriptor.ErrParseFailure,
		},
		{
			name: "no services",
			body: "name: demo\n",
			kind: descriptor.ErrParseFailure,
		},
		{
			name: "wrong type",
			body: `
services:
  app:
    image: nginx
    mem_limit: [1, 2]
`,
			kind: descriptor.ErrParseFailure,
		},
		{
			name: "missing required env file",
			body: `
services:
  app:
    image: nginx
    env_file: missing.env
`,
			kind: descriptor.ErrMissingDependency,
		},
		{
			name: "bad memory",
			body: `
services:
  app:
    image: nginx
    mem_limit: lots
`,
			kind:    descriptor.ErrInvalidValue,
			subject: "services.app.mem_limit",
		},
		{
			name: "bad port",
			body: `
services:
  app:
    image: nginx
    ports:
      - "80:http"
`,
			kind:    descriptor.ErrInvalidValue,
			subject: "services.app.ports[0]",
		},
		{
			name: "bad restart",
			body: `
services:
  app:
    image: nginx
    restart: sometimes
`,
			kind:    descriptor.ErrInvalidValue,
			subject: "services.app.restart",
		},
		{
			name: "bad duration",
			body: `
services:
  app:
    image: nginx
    stop_grace_period: soon
`,
			kind:    descriptor.ErrInvalidValue,
			subject: "services.app.stop_grace_period",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := descriptor.Load(writeCompose(t, tt.body), descriptor.Environment{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			var cerr *descriptor.ConfigError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.kind, cerr.Kind)
			if tt.subject != "" {
				assert.Equal(t, tt.subject, cerr.Subject)
			}
		})
	}
}

func TestLoadMalformedFixture(t *testing.T) {
	_, err := descriptor.Load("testdata/invalid/docker-compose.yml", nil)
	require.ErrorIs(t, err, descriptor.ErrParseFailure)
}

func TestLoadMissingDescriptor(t *testing.T) {
	_, err := descriptor.Load(filepath.Join(t.TempDir(), "docker-compose.yml"), nil)
	require.ErrorIs(t, err, descriptor.ErrMissingDependency)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadOptionalEnvFile(t *testing.T) {
	path := writeCompose(t, `
services:
  app:
    image: nginx
    env_file:
      - path: ./missing.env
        required: false
      - path: ./present.env
    environment:
      FROM_FILE:
      LEVEL: debug
`)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "present.env"), []byte("FROM_FILE=yes\nLEVEL=info\n"), 0o644))

	svc, err := descriptor.LoadService(path, nil, "app")
	require.NoError(t, err)
	require.Len(t, svc.EnvFiles, 2)
	assert.False(t, svc.EnvFiles[0].Required)
	assert.True(t, svc.EnvFiles[1].Required)
	assert.Equal(t, []descriptor.Variable{
		{Name: "FROM_FILE", Value: "yes"},
		{Name: "LEVEL", Value: "debug"},
	}, svc.Environment)
}

func TestLoadEnvFileInterpolation(t *testing.T) {
	path := writeCompose(t, `
services:
  app:
    image: nginx
    env_file: ./app.env
`)
	dir := filepath.Dir(path)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.env"), []byte(
		"URL=http://localhost:${PORT:-8001}\n"+
			"API=${URL}/api\n"+
			"PRICE=$$5\n"+
			"GREETING=\"${SALUTATION:-hello} world\"\n"), 0o644))

	svc, err := descriptor.LoadService(path, nil, "app")
	require.NoError(t, err)
	assert.Equal(t, []descriptor.Variable{
		{Name: "API", Value: "http://localhost:8001/api"},
		{Name: "GREETING", Value: "hello world"},
		{Name: "PRICE", Value: "$5"},
		{Name: "URL", Value: "http://localhost:8001"},
	}, svc.Environment)

	svc, err = descriptor.LoadService(path, descriptor.Environment{"PORT": "9000"}, "app")
	require.NoError(t, err)
	v, _ := svc.Env("URL")
	assert.Equal(t, "http://localhost:9000", v)
	v, _ = svc.Env("API")
	assert.Equal(t, "http://localhost:9000/api", v)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=7000\n"), 0o644))
	svc, err = descriptor.LoadService(path, nil, "app")
	require.NoError(t, err)
	v, _ = svc.Env("URL")
	assert.Equal(t, "http://localhost:7000", v)
}

func TestLoadEnvFileUnresolved(t *testing.T) {
	path := writeCompose(t, `
services:
  app:
    image: nginx
    env_file: ./app.env
`)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "app.env"), []byte("TOKEN=${API_TOKEN}\n"), 0o644))

	_, err := descriptor.Load(path, nil)
	require.ErrorIs(t, err, descriptor.ErrUnresolvedVariable)
	var cerr *descriptor.ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "API_TOKEN", cerr.Subject)
}

func TestLoadDotEnvInterpolation(t *testing.T) {
	path := writeCompose(t, `
services:
  app:
    image: "nginx:${TAG}"
`)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), ".env"), []byte(
		"CHANNEL=${CHANNEL_OVERRIDE:-stable}\nTAG=1.27-${CHANNEL}\n"), 0o644))

	svc, err := descriptor.LoadService(path, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "nginx:1.27-stable", svc.Image)

	svc, err = descriptor.LoadService(path, descriptor.Environment{"CHANNEL_OVERRIDE": "edge"}, "")
	require.NoError(t, err)
	assert.Equal(t, "nginx:1.27-edge", svc.Image)
}

func TestLoadEnvironmentScalars(t *testing.T) {
	path := writeCompose(t, `
services:
  app:
    image: nginx
    environment:
      FLOAT: 1.0
      KEEP: "1.0"
`)
	svc, err := descriptor.LoadService(path, nil, "")
	require.NoError(t, err)
	assert.Equal(t, []descriptor.Variable{
		{Name: "FLOAT", Value: "1"},
		{Name: "KEEP", Value: "1.0"},
	}, svc.Environment)
}

func TestLoadLongSyntax(t *testing.T) {
	path := writeCompose(t, `
name: demo
services:
  web:
    image: nginx
    command: nginx -g "daemon off;"
    ports:
      - target: 80
        published: 8080
        host_ip: 127.0.0.1
        protocol: tcp
      - 9090
    volumes:
      - type: volume
        source: cache
        target: /var/cache/nginx
      - ./conf:/etc/nginx/conf.d:ro
    deploy:
      resources:
        limits:
          memory: 512M
        reservations:
          memory: 128M
      restart_policy:
        condition: on-failure
        max_attempts: 5
    healthcheck:
      test: curl -f http://localhost/
      retries: 2
`)

	d, err := descriptor.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "demo", d.Name)

	svc, err := d.Lookup("web")
	require.NoError(t, err)
	assert.Equal(t, []string{"nginx", "-g", "daemon off;"}, svc.Command)
	assert.Equal(t, []descriptor.PortMapping{
		{HostIP: "127.0.0.1", HostPort: "8080", ContainerPort: 80, Protocol: "tcp"},
		{ContainerPort: 9090, Protocol: "tcp"},
	}, svc.Ports)
	assert.Equal(t, []descriptor.VolumeMount{
		{Type: descriptor.VolumeNamed, Source: "cache", Target: "/var/cache/nginx"},
		{Type: descriptor.VolumeBind, Source: filepath.Join(filepath.Dir(path), "conf"), Target: "/etc/nginx/conf.d", ReadOnly: true},
	}, svc.Volumes)
	assert.Equal(t, descriptor.MemorySpec{Limit: 512 << 20, Reservation: 128 << 20}, svc.Memory)
	assert.Equal(t, descriptor.RestartPolicy{Mode: descriptor.RestartOnFailure, MaxRetries: 5}, svc.Restart)
	assert.Equal(t, []string{"CMD-SHELL", "curl -f http://localhost/"}, svc.HealthCheck.Test)
	assert.Equal(t, 2, svc.HealthCheck.Retries)
}

func TestLoadDisabledHealthCheck(t *testing.T) {
	path := writeCompose(t, `
services:
  app:
    image: nginx
    healthcheck:
      test: ["NONE"]
`)
	svc, err := descriptor.LoadService(path, nil, "app")
	require.NoError(t, err)
	require.NotNil(t, svc.HealthCheck)
	assert.True(t, svc.HealthCheck.Disabled)
	assert.Nil(t, svc.HealthCheck.Test)
}

func TestLoadSecrets(t *testing.T) {
	path := writeCompose(t, `
services:
  app:
    image: nginx
    environment:
      - DB=aws/secrets/prod/db
      - API_KEY=aws/secrets/prod/api-key
      - PLAIN=value
`)
	secrets := map[string]string{
		"prod/db":      `{"user":"admin","password":"hunter2"}`,
		"prod/api-key": "abc123",
	}
	var requested []string
	fetch := func(_ context.Context, id string) (string, error) {
		requested = append(requested, id)
		v, ok := secrets[id]
		if !ok {
			return "", errors.New("not found")
		}
		return v, nil
	}

	svc, err := descriptor.LoadService(path, nil, "app", descriptor.WithSecretFetcher(fetch))
	require.NoError(t, err)
	assert.Equal(t, []string{"prod/db", "prod/api-key"}, requested)
	assert.Equal(t, []descriptor.Variable{
		{Name: "DB_PASSWORD", Value: "hunter2"},
		{Name: "DB_USER", Value: "admin"},
		{Name: "API_KEY", Value: "abc123"},
		{Name: "PLAIN", Value: "value"},
	}, svc.Environment)

	svc, err = descriptor.LoadService(path, nil, "app")
	require.NoError(t, err)
	v, _ := svc.Env("DB")
	assert.Equal(t, "aws/secrets/prod/db", v)

	delete(secrets, "prod/api-key")
	_, err = descriptor.LoadService(path, nil, "app", descriptor.WithSecretFetcher(fetch))
	require.ErrorIs(t, err, descriptor.ErrMissingDependency)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		subject string
	}{
		{
			name:    "no image or build",
			body:    "services:\n  app:\n    restart: always\n",
			subject: "services.app.image",
		},
		{
			name:    "reservation above limit",
			body:    "services:\n  app:\n    image: nginx\n    mem_limit: 1g\n    mem_reservation: 2g\n",
			subject: "services.app.mem_reservation",
		},
		{
			name:    "relative volume target",
			body:    "services:\n  app:\n    image: nginx\n    volumes:\n      - ./data:data\n",
			subject: "services.app.volumes[0]",
		},
		{
			name:    "bad health test",
			body:    "services:\n  app:\n    image: nginx\n    healthcheck:\n      test: [\"curl\", \"localhost\"]\n",
			subject: "services.app.healthcheck",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := descriptor.Load(writeCompose(t, tt.body), nil)
			require.ErrorIs(t, err, descriptor.ErrInvalidValue)
			var cerr *descriptor.ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.subject, cerr.Subject)
		})
	}
}

func TestParseRestartPolicy(t *testing.T) {
	tests := []struct {
		in   string
		want descriptor.RestartPolicy
		str  string
	}{
		{"", descriptor.RestartPolicy{Mode: descriptor.RestartNever}, "no"},
		{"no", descriptor.RestartPolicy{Mode: descriptor.RestartNever}, "no"},
		{"always", descriptor.RestartPolicy{Mode: descriptor.RestartAlways}, "always"},
		{"unless-stopped", descriptor.RestartPolicy{Mode: descriptor.RestartUnlessStopped}, "unless-stopped"},
		{"on-failure", descriptor.RestartPolicy{Mode: descriptor.RestartOnFailure}, "on-failure"},
		{"on-failure:3", descriptor.RestartPolicy{Mode: descriptor.RestartOnFailure, MaxRetries: 3}, "on-failure:3"},
	}
	for _, tt := range tests {
		got, err := descriptor.ParseRestartPolicy(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.str, got.String())
	}

	for _, in := range []string{"sometimes", "always:2", "on-failure:x", "on-failure:-1"} {
		_, err := descriptor.ParseRestartPolicy(in)
		assert.Error(t, err, in)
	}
}
