// Package engine translates a loaded ServiceSpec into Docker Engine API create
// options. Nothing here talks to a daemon; the orchestration engine owns that.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-connections/nat"

	"autodoc.dev/deployer/internal/descriptor"
	"autodoc.dev/deployer/internal/errs"
)

const (
	LabelProject = "com.docker.compose.project"
	LabelService = "com.docker.compose.service"
	LabelDigest  = "dev.autodoc.descriptor.digest"
)

var (
	ErrUnsupported = errors.New("engine: unsupported setting")
	ErrInvalidPort = errors.New("engine: invalid port")
)

// CreateOptions is everything needed to build (optionally) and create the
// container for one service.
type CreateOptions struct {
	Name       string                `json:"name"`
	Config     *container.Config     `json:"config"`
	HostConfig *container.HostConfig `json:"hostConfig"`
	Build      *BuildOptions         `json:"build,omitempty"`
}

// BuildOptions pairs the local build context with the image build request.
type BuildOptions struct {
	ContextDir string                  `json:"contextDir"`
	Options    build.ImageBuildOptions `json:"options"`
}

var restartModes = map[descriptor.RestartMode]container.RestartPolicyMode{
	descriptor.RestartNever:         container.RestartPolicyDisabled,
	descriptor.RestartOnFailure:     container.RestartPolicyOnFailure,
	descriptor.RestartUnlessStopped: container.RestartPolicyUnlessStopped,
	descriptor.RestartAlways:        container.RestartPolicyAlways,
}

// ContainerOptions maps svc onto create options for the given project.
func ContainerOptions(project string, svc *descriptor.ServiceSpec) (*CreateOptions, error) {
	image := svc.Image
	if image == "" {
		image = project + "-" + svc.Name
	}
	name := svc.ContainerName
	if name == "" {
		name = project + "-" + svc.Name + "-1"
	}

	exposed, bindings, err := portBindings(svc.Ports)
	if err != nil {
		return nil, errs.WrapMsgErr(ErrInvalidPort, svc.Name, err)
	}

	restart, ok := restartModes[svc.Restart.Mode]
	if !ok {
		return nil, errs.WrapMsg(ErrUnsupported, fmt.Sprintf("%s: restart mode %q", svc.Name, svc.Restart.Mode))
	}

	cfg := &container.Config{
		Image:        image,
		Cmd:          svc.Command,
		Env:          envList(svc.Environment),
		ExposedPorts: exposed,
		Labels: map[string]string{
			LabelProject: project,
			LabelService: svc.Name,
		},
		Healthcheck: healthConfig(svc.HealthCheck),
	}
	if svc.StopGracePeriod > 0 {
		seconds := int(svc.StopGracePeriod.Seconds())
		cfg.StopTimeout = &seconds
	}

	host := &container.HostConfig{
		PortBindings: bindings,
		RestartPolicy: container.RestartPolicy{
			Name:              restart,
			MaximumRetryCount: svc.Restart.MaxRetries,
		},
		Mounts: mounts(svc.Volumes),
		Resources: container.Resources{
			Memory:            svc.Memory.Limit,
			MemoryReservation: svc.Memory.Reservation,
		},
	}

	opts := &CreateOptions{Name: name, Config: cfg, HostConfig: host}
	if svc.Build != nil {
		opts.Build = &BuildOptions{
			ContextDir: svc.Build.Context,
			Options: build.ImageBuildOptions{
				Tags:       []string{image},
				Dockerfile: svc.Build.Dockerfile,
				BuildArgs:  buildArgs(svc.Build.Args),
				Labels:     map[string]string{LabelProject: project, LabelService: svc.Name},
			},
		}
	}
	return opts, nil
}

// ProjectOptions maps every service of d, labelling each with the descriptor
// digest.
func ProjectOptions(d *descriptor.Descriptor) ([]*CreateOptions, error) {
	services := d.Services()
	out := make([]*CreateOptions, 0, len(services))
	for _, svc := range services {
		opts, err := ContainerOptions(d.Name, svc)
		if err != nil {
			return nil, err
		}
		opts.Config.Labels[LabelDigest] = d.Digest
		out = append(out, opts)
	}
	return out, nil
}

func portBindings(ports []descriptor.PortMapping) (nat.PortSet, nat.PortMap, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range ports {
		port, err := nat.NewPort(p.Protocol, strconv.Itoa(p.ContainerPort))
		if err != nil {
			return nil, nil, err
		}
		exposed[port] = struct{}{}
		if p.HostPort == "" && p.HostIP == "" {
			continue
		}
		bindings[port] = append(bindings[port], nat.PortBinding{
			HostIP:   p.HostIP,
			HostPort: p.HostPort,
		})
	}
	return exposed, bindings, nil
}

func envList(vars []descriptor.Variable) []string {
	env := make([]string, 0, len(vars))
	for _, v := range vars {
		env = append(env, v.Name+"="+v.Value)
	}
	return env
}

func mounts(vols []descriptor.VolumeMount) []mount.Mount {
	var out []mount.Mount
	for _, v := range vols {
		m := mount.Mount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		}
		switch v.Type {
		case descriptor.VolumeBind:
			m.Type = mount.TypeBind
		default:
			m.Type = mount.TypeVolume
		}
		out = append(out, m)
	}
	return out
}

func healthConfig(h *descriptor.HealthCheck) *container.HealthConfig {
	if h == nil {
		return nil
	}
	if h.Disabled {
		return &container.HealthConfig{Test: []string{"NONE"}}
	}
	return &container.HealthConfig{
		Test:          h.Test,
		Interval:      h.Interval,
		Timeout:       h.Timeout,
		StartPeriod:   h.StartPeriod,
		StartInterval: h.StartInterval,
		Retries:       h.Retries,
	}
}

func buildArgs(args []descriptor.Variable) map[string]*string {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]*string, len(args))
	for _, a := range args {
		value := a.Value
		out[a.Name] = &value
	}
	return out
}

// Summary renders the options as a short human readable listing.
func (o *CreateOptions) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "container %s\n", o.Name)
	fmt.Fprintf(&b, "  image   %s\n", o.Config.Image)
	if o.Build != nil {
		fmt.Fprintf(&b, "  build   %s (%s)\n", o.Build.ContextDir, o.Build.Options.Dockerfile)
	}
	ports := make([]string, 0, len(o.HostConfig.PortBindings))
	for port, bs := range o.HostConfig.PortBindings {
		for _, pb := range bs {
			host := pb.HostPort
			if pb.HostIP != "" {
				host = pb.HostIP + ":" + host
			}
			ports = append(ports, host+"->"+string(port))
		}
	}
	sort.Strings(ports)
	for _, p := range ports {
		fmt.Fprintf(&b, "  port    %s\n", p)
	}
	for _, m := range o.HostConfig.Mounts {
		mode := "rw"
		if m.ReadOnly {
			mode = "ro"
		}
		fmt.Fprintf(&b, "  mount   %s %s:%s (%s)\n", m.Type, m.Source, m.Target, mode)
	}
	fmt.Fprintf(&b, "  restart %s\n", o.HostConfig.RestartPolicy.Name)
	if r := o.HostConfig.Resources; r.Memory > 0 || r.MemoryReservation > 0 {
		fmt.Fprintf(&b, "  memory  limit=%d reservation=%d\n", r.Memory, r.MemoryReservation)
	}
	return b.String()
}
