// Package v1 holds the on-disk schema of a deployment descriptor, a subset of
// the compose file format. Values are decoded after interpolation, so every
// scalar may arrive either as its native type or as a string.
package v1

type Document struct {
	Name     string             `json:"name,omitempty" yaml:"name,omitempty"`
	Services map[string]Service `json:"services" yaml:"services"`
}

type Service struct {
	Image           string       `json:"image,omitempty" yaml:"image,omitempty"`
	ContainerName   string       `json:"container_name,omitempty" yaml:"container_name,omitempty"`
	Build           *Build       `json:"build,omitempty" yaml:"build,omitempty"`
	Command         Command      `json:"command,omitempty" yaml:"command,omitempty"`
	Ports           []Port       `json:"ports,omitempty" yaml:"ports,omitempty"`
	EnvFile         EnvFiles     `json:"env_file,omitempty" yaml:"env_file,omitempty"`
	Environment     Environment  `json:"environment,omitempty" yaml:"environment,omitempty"`
	Volumes         []Volume     `json:"volumes,omitempty" yaml:"volumes,omitempty"`
	MemLimit        Scalar       `json:"mem_limit,omitempty" yaml:"mem_limit,omitempty"`
	MemReservation  Scalar       `json:"mem_reservation,omitempty" yaml:"mem_reservation,omitempty"`
	Deploy          *Deploy      `json:"deploy,omitempty" yaml:"deploy,omitempty"`
	Restart         Scalar       `json:"restart,omitempty" yaml:"restart,omitempty"`
	HealthCheck     *HealthCheck `json:"healthcheck,omitempty" yaml:"healthcheck,omitempty"`
	StopGracePeriod Scalar       `json:"stop_grace_period,omitempty" yaml:"stop_grace_period,omitempty"`
}

type Build struct {
	Context    string      `json:"context,omitempty" yaml:"context,omitempty"`
	Dockerfile string      `json:"dockerfile,omitempty" yaml:"dockerfile,omitempty"`
	Args       Environment `json:"args,omitempty" yaml:"args,omitempty"`
}

// Port is a published port in short syntax, e.g. "127.0.0.1:8001:8001/tcp".
// The long syntax is folded into the same form when decoded.
type Port struct {
	Spec string
}

type EnvFiles []EnvFile

type EnvFile struct {
	Path     string `json:"path" yaml:"path"`
	Required bool   `json:"required" yaml:"required"`
}

// Environment keeps declaration order. A nil Value means the variable is taken
// from the loading environment.
//
// Unquoted map values are YAML scalars and reach the schema as numbers or
// booleans, so FOO: 1.0 becomes "1" and BAR: 010 becomes "8". Quote a value
// to keep its text. List entries (- FOO=1.0) are always kept verbatim.
type Environment []Variable

type Variable struct {
	Name  string
	Value *string
}

type Volume struct {
	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
	Source   string `json:"source,omitempty" yaml:"source,omitempty"`
	Target   string `json:"target" yaml:"target"`
	ReadOnly bool   `json:"read_only,omitempty" yaml:"read_only,omitempty"`
}

type Deploy struct {
	Resources     *Resources     `json:"resources,omitempty" yaml:"resources,omitempty"`
	RestartPolicy *RestartPolicy `json:"restart_policy,omitempty" yaml:"restart_policy,omitempty"`
}

type Resources struct {
	Limits       *ResourceSet `json:"limits,omitempty" yaml:"limits,omitempty"`
	Reservations *ResourceSet `json:"reservations,omitempty" yaml:"reservations,omitempty"`
}

type ResourceSet struct {
	Memory Scalar `json:"memory,omitempty" yaml:"memory,omitempty"`
}

type RestartPolicy struct {
	Condition   string `json:"condition,omitempty" yaml:"condition,omitempty"`
	MaxAttempts Scalar `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
}

type HealthCheck struct {
	Test          HealthTest `json:"test,omitempty" yaml:"test,omitempty"`
	Interval      Scalar     `json:"interval,omitempty" yaml:"interval,omitempty"`
	Timeout       Scalar     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retries       Scalar     `json:"retries,omitempty" yaml:"retries,omitempty"`
	StartPeriod   Scalar     `json:"start_period,omitempty" yaml:"start_period,omitempty"`
	StartInterval Scalar     `json:"start_interval,omitempty" yaml:"start_interval,omitempty"`
	Disable       bool       `json:"disable,omitempty" yaml:"disable,omitempty"`
}

// Scalar is a string, number or boolean kept in its textual form.
type Scalar string

// Command is an exec-form argument list. A plain string is split with shell
// quoting rules.
type Command []string

// HealthTest is a health check command. A plain string means CMD-SHELL.
type HealthTest []string
