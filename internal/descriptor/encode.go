package descriptor

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/goccy/go-yaml"
	"golang.org/x/crypto/blake2b"

	v1 "autodoc.dev/deployer/defs/v1"
)

// Encode renders the descriptor back into a compose document holding only
// resolved values. Loading the output yields an equivalent Descriptor.
func Encode(d *Descriptor) ([]byte, error) {
	doc := v1.Document{
		Name:     d.Name,
		Services: make(map[string]v1.Service, len(d.services)),
	}
	for _, s := range d.services {
		doc.Services[s.Name] = encodeService(s)
	}
	out, err := yaml.MarshalWithOptions(doc, yaml.Indent(2), yaml.IndentSequence(true))
	if err != nil {
		return nil, fmt.Errorf("encode descriptor %s: %w", d.Name, err)
	}
	return out, nil
}

func encodeService(s *ServiceSpec) v1.Service {
	out := v1.Service{
		Image:           esc(s.Image),
		ContainerName:   esc(s.ContainerName),
		Command:         escAll(s.Command),
		MemLimit:        v1.Scalar(formatBytes(s.Memory.Limit)),
		MemReservation:  v1.Scalar(formatBytes(s.Memory.Reservation)),
		Restart:         v1.Scalar(s.Restart.String()),
		StopGracePeriod: formatDuration(s.StopGracePeriod),
	}
	if s.Build != nil {
		out.Build = &v1.Build{
			Context:    esc(s.Build.Context),
			Dockerfile: esc(s.Build.Dockerfile),
			Args:       encodeVariables(s.Build.Args),
		}
	}
	for _, p := range s.Ports {
		out.Ports = append(out.Ports, v1.Port{Spec: formatPort(p)})
	}
	for _, f := range s.EnvFiles {
		out.EnvFile = append(out.EnvFile, v1.EnvFile{Path: esc(f.Path), Required: f.Required})
	}
	out.Environment = encodeVariables(s.Environment)
	for _, v := range s.Volumes {
		out.Volumes = append(out.Volumes, v1.Volume{
			Type:     string(v.Type),
			Source:   esc(v.Source),
			Target:   esc(v.Target),
			ReadOnly: v.ReadOnly,
		})
	}
	if h := s.HealthCheck; h != nil {
		hc := &v1.HealthCheck{
			Test:          v1.HealthTest(escAll(h.Test)),
			Interval:      formatDuration(h.Interval),
			Timeout:       formatDuration(h.Timeout),
			StartPeriod:   formatDuration(h.StartPeriod),
			StartInterval: formatDuration(h.StartInterval),
			Disable:       h.Disabled,
		}
		if h.Retries > 0 {
			hc.Retries = v1.Scalar(strconv.Itoa(h.Retries))
		}
		out.HealthCheck = hc
	}
	return out
}

func encodeVariables(vars []Variable) v1.Environment {
	if len(vars) == 0 {
		return nil
	}
	out := make(v1.Environment, 0, len(vars))
	for _, v := range vars {
		value := esc(v.Value)
		out = append(out, v1.Variable{Name: v.Name, Value: &value})
	}
	return out
}

func formatPort(p PortMapping) string {
	spec := strconv.Itoa(p.ContainerPort)
	switch {
	case p.HostIP != "":
		spec = p.HostIP + ":" + p.HostPort + ":" + spec
	case p.HostPort != "":
		spec = p.HostPort + ":" + spec
	}
	return spec + "/" + p.Protocol
}

// formatBytes renders n with the largest exact binary suffix understood by
// go-units.
func formatBytes(n int64) string {
	if n == 0 {
		return ""
	}
	for _, u := range []struct {
		suffix string
		size   int64
	}{
		{"t", units.TiB},
		{"g", units.GiB},
		{"m", units.MiB},
		{"k", units.KiB},
	} {
		if n%u.size == 0 {
			return fmt.Sprintf("%d%s", n/u.size, u.suffix)
		}
	}
	return strconv.FormatInt(n, 10)
}

func formatDuration(d time.Duration) v1.Scalar {
	if d == 0 {
		return ""
	}
	return v1.Scalar(d.String())
}

func esc(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}

func escAll(ss []string) []string {
	if ss == nil {
		return nil
	}
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = esc(s)
	}
	return out
}

func digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
