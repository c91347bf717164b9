package descriptor

import (
	"slices"
	"time"
)

// Descriptor is the loaded, validated form of a deployment document. It is
// never modified after Load returns.
type Descriptor struct {
	Name     string
	Path     string
	Digest   string
	services []*ServiceSpec
}

type ServiceSpec struct {
	Name            string        `json:"name"`
	Image           string        `json:"image,omitempty"`
	ContainerName   string        `json:"containerName,omitempty"`
	Build           *BuildSpec    `json:"build,omitempty"`
	Command         []string      `json:"command,omitempty"`
	Ports           []PortMapping `json:"ports,omitempty"`
	Environment     []Variable    `json:"environment,omitempty"`
	EnvFiles        []EnvFile     `json:"envFiles,omitempty"`
	Volumes         []VolumeMount `json:"volumes,omitempty"`
	Memory          MemorySpec    `json:"memory"`
	Restart         RestartPolicy `json:"restart"`
	HealthCheck     *HealthCheck  `json:"healthCheck,omitempty"`
	StopGracePeriod time.Duration `json:"stopGracePeriod,omitempty"`
}

type BuildSpec struct {
	Context    string     `json:"context"`
	Dockerfile string     `json:"dockerfile,omitempty"`
	Args       []Variable `json:"args,omitempty"`
}

type PortMapping struct {
	HostIP        string `json:"hostIP,omitempty"`
	HostPort      string `json:"hostPort,omitempty"`
	ContainerPort int    `json:"containerPort"`
	Protocol      string `json:"protocol"`
}

type Variable struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type EnvFile struct {
	Path     string `json:"path"`
	Required bool   `json:"required"`
}

type VolumeType string

const (
	VolumeBind  VolumeType = "bind"
	VolumeNamed VolumeType = "volume"
)

type VolumeMount struct {
	Type     VolumeType `json:"type"`
	Source   string     `json:"source,omitempty"`
	Target   string     `json:"target"`
	ReadOnly bool       `json:"readOnly,omitempty"`
}

// MemorySpec holds byte counts; zero means unset.
type MemorySpec struct {
	Limit       int64 `json:"limit,omitempty"`
	Reservation int64 `json:"reservation,omitempty"`
}

type RestartMode string

const (
	RestartNever         RestartMode = "never"
	RestartOnFailure     RestartMode = "on-failure"
	RestartUnlessStopped RestartMode = "unless-stopped"
	RestartAlways        RestartMode = "always"
)

type RestartPolicy struct {
	Mode       RestartMode `json:"mode"`
	MaxRetries int         `json:"maxRetries,omitempty"`
}

type HealthCheck struct {
	Test          []string      `json:"test,omitempty"`
	Interval      time.Duration `json:"interval,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	Retries       int           `json:"retries,omitempty"`
	StartPeriod   time.Duration `json:"startPeriod,omitempty"`
	StartInterval time.Duration `json:"startInterval,omitempty"`
	Disabled      bool          `json:"disabled,omitempty"`
}

// Services returns copies of all services ordered by name.
func (d *Descriptor) Services() []*ServiceSpec {
	out := make([]*ServiceSpec, len(d.services))
	for i, s := range d.services {
		out[i] = s.Clone()
	}
	return out
}

func (d *Descriptor) ServiceNames() []string {
	names := make([]string, len(d.services))
	for i, s := range d.services {
		names[i] = s.Name
	}
	return names
}

// Service returns a copy of the named service.
func (d *Descriptor) Service(name string) (*ServiceSpec, bool) {
	for _, s := range d.services {
		if s.Name == name {
			return s.Clone(), true
		}
	}
	return nil, false
}

// Env returns the resolved value of an environment variable.
func (s *ServiceSpec) Env(name string) (string, bool) {
	for _, v := range s.Environment {
		if v.Name == name {
			return v.Value, true
		}
	}
	return "", false
}

func (s *ServiceSpec) EnvMap() map[string]string {
	m := make(map[string]string, len(s.Environment))
	for _, v := range s.Environment {
		m[v.Name] = v.Value
	}
	return m
}

func (s *ServiceSpec) Clone() *ServiceSpec {
	c := *s
	if s.Build != nil {
		b := *s.Build
		b.Args = slices.Clone(s.Build.Args)
		c.Build = &b
	}
	if s.HealthCheck != nil {
		h := *s.HealthCheck
		h.Test = slices.Clone(s.HealthCheck.Test)
		c.HealthCheck = &h
	}
	c.Command = slices.Clone(s.Command)
	c.Ports = slices.Clone(s.Ports)
	c.Environment = slices.Clone(s.Environment)
	c.EnvFiles = slices.Clone(s.EnvFiles)
	c.Volumes = slices.Clone(s.Volumes)
	return &c
}

func updateOrAppendVariable(vars []Variable, v Variable) []Variable {
	for i, existing := range vars {
		if existing.Name == v.Name {
			vars[i] = v
			return vars
		}
	}
	return append(vars, v)
}
