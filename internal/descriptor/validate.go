package descriptor

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

var healthTestKinds = map[string]bool{"CMD": true, "CMD-SHELL": true}

// Validate checks the rules a ServiceSpec must satisfy before it is handed
// to an orchestration engine.
func (s *ServiceSpec) Validate() error {
	if s.Image == "" && s.Build == nil {
		return configErr(ErrInvalidValue, field(s.Name, "image"), errors.New("either image or build is required"))
	}
	for i, p := range s.Ports {
		if p.ContainerPort < 1 || p.ContainerPort > 65535 {
			return configErr(ErrInvalidValue, fmt.Sprintf("%s[%d]", field(s.Name, "ports"), i), fmt.Errorf("container port %d out of range", p.ContainerPort))
		}
		if p.Protocol != "tcp" && p.Protocol != "udp" && p.Protocol != "sctp" {
			return configErr(ErrInvalidValue, fmt.Sprintf("%s[%d]", field(s.Name, "ports"), i), fmt.Errorf("unknown protocol %q", p.Protocol))
		}
	}
	for _, v := range s.Environment {
		if v.Name == "" || strings.ContainsAny(v.Name, "= \t\n") {
			return configErr(ErrInvalidValue, field(s.Name, "environment"), fmt.Errorf("invalid variable name %q", v.Name))
		}
	}
	for i, v := range s.Volumes {
		if !path.IsAbs(v.Target) {
			return configErr(ErrInvalidValue, fmt.Sprintf("%s[%d]", field(s.Name, "volumes"), i), fmt.Errorf("target %q must be an absolute container path", v.Target))
		}
	}
	if s.Memory.Limit < 0 || s.Memory.Reservation < 0 {
		return configErr(ErrInvalidValue, field(s.Name, "mem_limit"), errors.New("memory must not be negative"))
	}
	if s.Memory.Limit > 0 && s.Memory.Reservation > s.Memory.Limit {
		return configErr(ErrInvalidValue, field(s.Name, "mem_reservation"), fmt.Errorf("reservation %d exceeds limit %d", s.Memory.Reservation, s.Memory.Limit))
	}
	if s.Restart.MaxRetries < 0 || (s.Restart.MaxRetries > 0 && s.Restart.Mode != RestartOnFailure) {
		return configErr(ErrInvalidValue, field(s.Name, "restart"), errors.New("max retries only apply to on-failure"))
	}
	if s.StopGracePeriod < 0 {
		return configErr(ErrInvalidValue, field(s.Name, "stop_grace_period"), errors.New("must not be negative"))
	}
	if h := s.HealthCheck; h != nil {
		if err := h.validate(); err != nil {
			return configErr(ErrInvalidValue, field(s.Name, "healthcheck"), err)
		}
	}
	return nil
}

func (h *HealthCheck) validate() error {
	if h.Disabled {
		return nil
	}
	if len(h.Test) == 0 {
		return errors.New("test is required")
	}
	if !healthTestKinds[h.Test[0]] {
		return fmt.Errorf("test must start with CMD or CMD-SHELL, got %q", h.Test[0])
	}
	if len(h.Test) < 2 {
		return errors.New("test has no command")
	}
	if h.Interval < 0 || h.Timeout < 0 || h.StartPeriod < 0 || h.StartInterval < 0 {
		return errors.New("durations must not be negative")
	}
	if h.Retries < 0 {
		return errors.New("retries must not be negative")
	}
	return nil
}
