package v1

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"
)

func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || string(data) == "null":
		*s = ""
	case data[0] == '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = Scalar(str)
	case data[0] == '{' || data[0] == '[':
		return fmt.Errorf("expected a scalar value, got %s", data)
	default:
		*s = Scalar(data)
	}
	return nil
}

// UnmarshalJSON rejects keys the schema does not know, so a misspelt setting
// fails the load instead of being dropped. Extension keys (x-*) are skipped.
func (s *Service) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for k := range fields {
		if strings.HasPrefix(k, "x-") {
			delete(fields, k)
		}
	}
	known, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	type service Service
	var r service
	dec := json.NewDecoder(bytes.NewReader(known))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return fmt.Errorf("invalid service: %w", err)
	}
	*s = Service(r)
	return nil
}

func (c *Command) UnmarshalJSON(data []byte) error {
	var w any
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch t := w.(type) {
	case nil:
		*c = nil
	case string:
		args, err := shellquote.Split(t)
		if err != nil {
			return fmt.Errorf("invalid command %q: %w", t, err)
		}
		*c = args
	case []any:
		args, err := stringList(t)
		if err != nil {
			return fmt.Errorf("invalid command: %w", err)
		}
		*c = args
	default:
		return fmt.Errorf("unknown type for command: %T", t)
	}
	return nil
}

func (h *HealthTest) UnmarshalJSON(data []byte) error {
	var w any
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch t := w.(type) {
	case nil:
		*h = nil
	case string:
		*h = HealthTest{"CMD-SHELL", t}
	case []any:
		args, err := stringList(t)
		if err != nil {
			return fmt.Errorf("invalid healthcheck test: %w", err)
		}
		*h = args
	default:
		return fmt.Errorf("unknown type for healthcheck test: %T", t)
	}
	return nil
}

func (b *Build) UnmarshalJSON(data []byte) error {
	var ctx string
	if err := json.Unmarshal(data, &ctx); err == nil {
		*b = Build{Context: ctx}
		return nil
	}
	type build Build
	var r build
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("invalid build: %w", err)
	}
	*b = Build(r)
	return nil
}

func (p *Port) UnmarshalJSON(data []byte) error {
	var w any
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch t := w.(type) {
	case string:
		p.Spec = t
	case float64:
		p.Spec = string(bytes.TrimSpace(data))
	case map[string]any:
		var long struct {
			Target    Scalar `json:"target"`
			Published Scalar `json:"published"`
			HostIP    string `json:"host_ip"`
			Protocol  string `json:"protocol"`
		}
		if err := json.Unmarshal(data, &long); err != nil {
			return fmt.Errorf("invalid port: %w", err)
		}
		if long.Target == "" {
			return fmt.Errorf("port target is required")
		}
		spec := string(long.Target)
		switch {
		case long.Published != "" && long.HostIP != "":
			spec = long.HostIP + ":" + string(long.Published) + ":" + spec
		case long.Published != "":
			spec = string(long.Published) + ":" + spec
		case long.HostIP != "":
			spec = long.HostIP + "::" + spec
		}
		if long.Protocol != "" {
			spec += "/" + long.Protocol
		}
		p.Spec = spec
	default:
		return fmt.Errorf("unknown type for port: %T", t)
	}
	return nil
}

func (p Port) MarshalYAML() (any, error) {
	return p.Spec, nil
}

func (e *EnvFiles) UnmarshalJSON(data []byte) error {
	var w any
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch t := w.(type) {
	case nil:
		*e = nil
	case string:
		*e = EnvFiles{{Path: t, Required: true}}
	case []any:
		out := make(EnvFiles, 0, len(t))
		for _, item := range t {
			switch it := item.(type) {
			case string:
				out = append(out, EnvFile{Path: it, Required: true})
			case map[string]any:
				f := EnvFile{Required: true}
				path, ok := it["path"].(string)
				if !ok || path == "" {
					return fmt.Errorf("env_file entry requires a path")
				}
				f.Path = path
				if r, ok := it["required"]; ok {
					req, ok := r.(bool)
					if !ok {
						return fmt.Errorf("env_file %s: required must be a boolean", path)
					}
					f.Required = req
				}
				out = append(out, f)
			default:
				return fmt.Errorf("unknown type for env_file entry: %T", it)
			}
		}
		*e = out
	default:
		return fmt.Errorf("unknown type for env_file: %T", t)
	}
	return nil
}

func (e *Environment) UnmarshalJSON(data []byte) error {
	var w any
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch t := w.(type) {
	case nil:
		*e = nil
	case []any:
		out := make(Environment, 0, len(t))
		for _, item := range t {
			s, err := scalarString(item)
			if err != nil {
				return fmt.Errorf("invalid environment entry: %w", err)
			}
			name, value, found := strings.Cut(s, "=")
			v := Variable{Name: name}
			if found {
				v.Value = &value
			}
			out = append(out, v)
		}
		*e = out
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(Environment, 0, len(t))
		for _, k := range keys {
			v := Variable{Name: k}
			if t[k] != nil {
				s, err := scalarString(t[k])
				if err != nil {
					return fmt.Errorf("invalid environment value for %s: %w", k, err)
				}
				v.Value = &s
			}
			out = append(out, v)
		}
		*e = out
	default:
		return fmt.Errorf("unknown type for environment: %T", t)
	}
	return nil
}

func (e Environment) MarshalYAML() (any, error) {
	out := make([]string, 0, len(e))
	for _, v := range e {
		if v.Value == nil {
			out = append(out, v.Name)
			continue
		}
		out = append(out, v.Name+"="+*v.Value)
	}
	return out, nil
}

func (v *Volume) UnmarshalJSON(data []byte) error {
	var short string
	if err := json.Unmarshal(data, &short); err == nil {
		parsed, err := ParseVolume(short)
		if err != nil {
			return err
		}
		*v = parsed
		return nil
	}
	type volume Volume
	var r volume
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("invalid volume: %w", err)
	}
	if r.Type == "" {
		r.Type = volumeType(r.Source)
	}
	*v = Volume(r)
	return nil
}

func (v Volume) MarshalYAML() (any, error) {
	switch {
	case v.Type != "bind" && v.Type != "volume":
		type volume Volume
		return volume(v), nil
	case v.Source == "" && v.ReadOnly:
		type volume Volume
		return volume(v), nil
	case v.Source == "":
		return v.Target, nil
	case v.ReadOnly:
		return v.Source + ":" + v.Target + ":ro", nil
	default:
		return v.Source + ":" + v.Target, nil
	}
}

// ParseVolume parses the short volume syntax SOURCE:TARGET[:MODE].
func ParseVolume(s string) (Volume, error) {
	parts := strings.Split(s, ":")
	var v Volume
	switch len(parts) {
	case 1:
		v = Volume{Type: "volume", Target: parts[0]}
		return v, nil
	case 2:
		v = Volume{Source: parts[0], Target: parts[1]}
	case 3:
		v = Volume{Source: parts[0], Target: parts[1]}
		for _, opt := range strings.Split(parts[2], ",") {
			if opt == "ro" {
				v.ReadOnly = true
			}
		}
	default:
		return Volume{}, fmt.Errorf("invalid volume: %s", s)
	}
	if v.Source == "" || v.Target == "" {
		return Volume{}, fmt.Errorf("invalid volume: %s", s)
	}
	v.Type = volumeType(v.Source)
	return v, nil
}

func volumeType(source string) string {
	if strings.HasPrefix(source, "/") || strings.HasPrefix(source, ".") || strings.HasPrefix(source, "~") {
		return "bind"
	}
	return "volume"
}

func stringList(items []any) ([]string, error) {
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, err := scalarString(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func scalarString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64, bool:
		b, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("expected a scalar, got %T", v)
	}
}
