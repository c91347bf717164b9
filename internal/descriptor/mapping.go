package descriptor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
	"github.com/mitchellh/go-homedir"

	v1 "autodoc.dev/deployer/defs/v1"
	"autodoc.dev/deployer/internal/interpolate"
)

// mapper turns decoded v1 services into ServiceSpecs. Relative paths resolve
// against dir.
type mapper struct {
	dir    string
	lookup interpolate.LookupFunc
}

func (m *mapper) mapService(name string, svc v1.Service) (*ServiceSpec, error) {
	out := &ServiceSpec{
		Name:          name,
		Image:         svc.Image,
		ContainerName: svc.ContainerName,
		Command:       []string(svc.Command),
	}
	var err error

	if svc.Build != nil {
		if out.Build, err = m.mapBuild(name, svc.Build); err != nil {
			return nil, err
		}
	}
	if out.Ports, err = mapPorts(name, svc.Ports); err != nil {
		return nil, err
	}
	if out.EnvFiles, err = m.mapEnvFiles(name, svc.EnvFile); err != nil {
		return nil, err
	}
	if out.Environment, err = m.mapEnvironment(name, out.EnvFiles, svc.Environment); err != nil {
		return nil, err
	}
	if out.Volumes, err = m.mapVolumes(name, svc.Volumes); err != nil {
		return nil, err
	}
	if out.Memory, err = mapMemory(name, svc); err != nil {
		return nil, err
	}
	if out.Restart, err = mapRestart(name, svc); err != nil {
		return nil, err
	}
	if svc.HealthCheck != nil {
		if out.HealthCheck, err = mapHealthCheck(name, svc.HealthCheck); err != nil {
			return nil, err
		}
	}
	if out.StopGracePeriod, err = parseDuration(svc.StopGracePeriod); err != nil {
		return nil, configErr(ErrInvalidValue, field(name, "stop_grace_period"), err)
	}
	return out, nil
}

func (m *mapper) mapBuild(name string, b *v1.Build) (*BuildSpec, error) {
	ctx := b.Context
	if ctx == "" {
		ctx = "."
	}
	if !isRemoteContext(ctx) {
		p, err := m.resolvePath(ctx)
		if err != nil {
			return nil, configErr(ErrInvalidValue, field(name, "build.context"), err)
		}
		ctx = p
	}
	dockerfile := b.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	var args []Variable
	for _, a := range b.Args {
		if a.Value != nil {
			args = append(args, Variable{Name: a.Name, Value: *a.Value})
			continue
		}
		if v, ok := m.lookup(a.Name); ok {
			args = append(args, Variable{Name: a.Name, Value: v})
		}
	}
	return &BuildSpec{Context: ctx, Dockerfile: dockerfile, Args: args}, nil
}

func mapPorts(name string, ports []v1.Port) ([]PortMapping, error) {
	var out []PortMapping
	for i, p := range ports {
		subject := fmt.Sprintf("%s[%d]", field(name, "ports"), i)
		mappings, err := nat.ParsePortSpec(p.Spec)
		if err != nil {
			return nil, configErr(ErrInvalidValue, subject, err)
		}
		for _, pm := range mappings {
			out = append(out, PortMapping{
				HostIP:        pm.Binding.HostIP,
				HostPort:      pm.Binding.HostPort,
				ContainerPort: pm.Port.Int(),
				Protocol:      pm.Port.Proto(),
			})
		}
	}
	return out, nil
}

func (m *mapper) mapEnvFiles(name string, files v1.EnvFiles) ([]EnvFile, error) {
	var out []EnvFile
	for i, f := range files {
		p, err := m.resolvePath(f.Path)
		if err != nil {
			return nil, configErr(ErrInvalidValue, fmt.Sprintf("%s[%d]", field(name, "env_file"), i), err)
		}
		out = append(out, EnvFile{Path: p, Required: f.Required})
	}
	return out, nil
}

// mapEnvironment merges env-file values with the declared environment. Later
// declarations override earlier ones in place.
func (m *mapper) mapEnvironment(name string, files []EnvFile, env v1.Environment) ([]Variable, error) {
	var out []Variable
	for _, f := range files {
		values, err := m.readEnvFile(f)
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = updateOrAppendVariable(out, Variable{Name: k, Value: values[k]})
		}
	}
	for _, v := range env {
		if v.Name == "" {
			return nil, configErr(ErrInvalidValue, field(name, "environment"), errors.New("empty variable name"))
		}
		if v.Value != nil {
			out = updateOrAppendVariable(out, Variable{Name: v.Name, Value: *v.Value})
			continue
		}
		if val, ok := m.lookup(v.Name); ok {
			out = updateOrAppendVariable(out, Variable{Name: v.Name, Value: val})
			continue
		}
		if hasVariable(out, v.Name) {
			continue
		}
		return nil, configErr(ErrUnresolvedVariable, v.Name, fmt.Errorf("no value for %s", field(name, "environment")))
	}
	return out, nil
}

// readEnvFile reads and interpolates one env_file. References resolve like
// the descriptor's own, with the file's other entries as a last resort.
func (m *mapper) readEnvFile(f EnvFile) (map[string]string, error) {
	if _, err := os.Stat(f.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !f.Required {
			return nil, nil
		}
		return nil, configErr(ErrMissingDependency, "env_file "+f.Path, err)
	}
	raw, err := readDotEnvFile(f.Path)
	if err != nil {
		return nil, configErr(ErrParseFailure, "env_file "+f.Path, err)
	}
	return resolveEnvValues("env_file "+f.Path, raw, m.lookup)
}

func (m *mapper) mapVolumes(name string, vols []v1.Volume) ([]VolumeMount, error) {
	var out []VolumeMount
	for i, v := range vols {
		subject := fmt.Sprintf("%s[%d]", field(name, "volumes"), i)
		mount := VolumeMount{
			Type:     VolumeType(v.Type),
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		}
		switch mount.Type {
		case VolumeBind:
			p, err := m.resolvePath(v.Source)
			if err != nil {
				return nil, configErr(ErrInvalidValue, subject, err)
			}
			mount.Source = p
		case VolumeNamed:
		default:
			return nil, configErr(ErrInvalidValue, subject, fmt.Errorf("unsupported volume type %q", v.Type))
		}
		out = append(out, mount)
	}
	return out, nil
}

func mapMemory(name string, svc v1.Service) (MemorySpec, error) {
	limit, reservation := svc.MemLimit, svc.MemReservation
	if svc.Deploy != nil && svc.Deploy.Resources != nil {
		if r := svc.Deploy.Resources.Limits; limit == "" && r != nil {
			limit = r.Memory
		}
		if r := svc.Deploy.Resources.Reservations; reservation == "" && r != nil {
			reservation = r.Memory
		}
	}
	var spec MemorySpec
	var err error
	if spec.Limit, err = parseBytes(limit); err != nil {
		return spec, configErr(ErrInvalidValue, field(name, "mem_limit"), err)
	}
	if spec.Reservation, err = parseBytes(reservation); err != nil {
		return spec, configErr(ErrInvalidValue, field(name, "mem_reservation"), err)
	}
	return spec, nil
}

func mapRestart(name string, svc v1.Service) (RestartPolicy, error) {
	if svc.Restart == "" && svc.Deploy != nil && svc.Deploy.RestartPolicy != nil {
		rp := svc.Deploy.RestartPolicy
		switch rp.Condition {
		case "none":
			return RestartPolicy{Mode: RestartNever}, nil
		case "", "any":
			return RestartPolicy{Mode: RestartAlways}, nil
		case "on-failure":
			n, err := parseInt(rp.MaxAttempts)
			if err != nil {
				return RestartPolicy{}, configErr(ErrInvalidValue, field(name, "deploy.restart_policy.max_attempts"), err)
			}
			return RestartPolicy{Mode: RestartOnFailure, MaxRetries: n}, nil
		default:
			return RestartPolicy{}, configErr(ErrInvalidValue, field(name, "deploy.restart_policy.condition"), fmt.Errorf("unknown condition %q", rp.Condition))
		}
	}
	p, err := ParseRestartPolicy(string(svc.Restart))
	if err != nil {
		return RestartPolicy{}, configErr(ErrInvalidValue, field(name, "restart"), err)
	}
	return p, nil
}

// ParseRestartPolicy accepts the compose restart values: "no", "always",
// "unless-stopped" and "on-failure[:max-retries]". Empty means "no", as does
// "false", which is what an unquoted no becomes in YAML 1.1 tooling.
func ParseRestartPolicy(s string) (RestartPolicy, error) {
	mode, retries, hasRetries := strings.Cut(s, ":")
	switch mode {
	case "", "no", "false", string(RestartNever):
		if hasRetries {
			break
		}
		return RestartPolicy{Mode: RestartNever}, nil
	case string(RestartAlways), string(RestartUnlessStopped):
		if hasRetries {
			break
		}
		return RestartPolicy{Mode: RestartMode(mode)}, nil
	case string(RestartOnFailure):
		p := RestartPolicy{Mode: RestartOnFailure}
		if hasRetries {
			n, err := strconv.Atoi(retries)
			if err != nil || n < 0 {
				return RestartPolicy{}, fmt.Errorf("invalid max retries %q", retries)
			}
			p.MaxRetries = n
		}
		return p, nil
	}
	return RestartPolicy{}, fmt.Errorf("unknown restart policy %q", s)
}

func (p RestartPolicy) String() string {
	switch p.Mode {
	case RestartNever, "":
		return "no"
	case RestartOnFailure:
		if p.MaxRetries > 0 {
			return fmt.Sprintf("%s:%d", p.Mode, p.MaxRetries)
		}
	}
	return string(p.Mode)
}

func mapHealthCheck(name string, h *v1.HealthCheck) (*HealthCheck, error) {
	out := &HealthCheck{Test: []string(h.Test), Disabled: h.Disable}
	if len(out.Test) == 1 && out.Test[0] == "NONE" {
		out.Test, out.Disabled = nil, true
	}
	if out.Disabled {
		out.Test = nil
	}
	durations := []struct {
		key string
		raw v1.Scalar
		dst *time.Duration
	}{
		{"interval", h.Interval, &out.Interval},
		{"timeout", h.Timeout, &out.Timeout},
		{"start_period", h.StartPeriod, &out.StartPeriod},
		{"start_interval", h.StartInterval, &out.StartInterval},
	}
	for _, d := range durations {
		v, err := parseDuration(d.raw)
		if err != nil {
			return nil, configErr(ErrInvalidValue, field(name, "healthcheck."+d.key), err)
		}
		*d.dst = v
	}
	retries, err := parseInt(h.Retries)
	if err != nil {
		return nil, configErr(ErrInvalidValue, field(name, "healthcheck.retries"), err)
	}
	out.Retries = retries
	return out, nil
}

func (m *mapper) resolvePath(p string) (string, error) {
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(expanded) {
		expanded = filepath.Join(m.dir, expanded)
	}
	return filepath.Clean(expanded), nil
}

func parseBytes(s v1.Scalar) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return units.RAMInBytes(string(s))
}

func parseDuration(s v1.Scalar) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(string(s))
}

func parseInt(s v1.Scalar) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(string(s))
}

func isRemoteContext(ctx string) bool {
	return strings.Contains(ctx, "://") || strings.HasPrefix(ctx, "git@")
}

func hasVariable(vars []Variable, name string) bool {
	for _, v := range vars {
		if v.Name == name {
			return true
		}
	}
	return false
}

func field(service, key string) string {
	return "services." + service + "." + key
}
