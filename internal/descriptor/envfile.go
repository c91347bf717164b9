package descriptor

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"autodoc.dev/deployer/internal/interpolate"
)

// readDotEnvFile parses a dotenv file without godotenv's own $VAR expansion,
// which knows neither defaults nor $$. Every $ is masked with a control byte
// absent from the file and restored after parsing.
func readDotEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mark, ok := dollarMark(data)
	if !ok {
		return nil, errors.New("file holds every control byte usable as a $ mask")
	}
	values, err := godotenv.UnmarshalBytes(bytes.ReplaceAll(data, []byte("$"), []byte{mark}))
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[strings.ReplaceAll(k, string(mark), "$")] = strings.ReplaceAll(v, string(mark), "$")
	}
	return out, nil
}

func dollarMark(data []byte) (byte, bool) {
	for c := byte(0x01); c < 0x09; c++ {
		if bytes.IndexByte(data, c) < 0 {
			return c, true
		}
	}
	return 0, false
}

// resolveEnvValues interpolates the values of one dotenv file. A reference
// resolves against outer first and then against the file's other entries.
func resolveEnvValues(subject string, raw map[string]string, outer interpolate.LookupFunc) (map[string]string, error) {
	r := &envResolver{
		raw:    raw,
		outer:  outer,
		done:   make(map[string]string, len(raw)),
		active: make(map[string]bool),
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]string, len(raw))
	for _, k := range keys {
		v, err := r.resolve(k)
		if err != nil {
			var verr *interpolate.VariableError
			if errors.As(err, &verr) && !errors.Is(err, interpolate.ErrSyntax) {
				return nil, configErr(ErrUnresolvedVariable, verr.Name, fmt.Errorf("%s: %s: %w", subject, k, err))
			}
			return nil, configErr(ErrParseFailure, subject, fmt.Errorf("%s: %w", k, err))
		}
		out[k] = v
	}
	return out, nil
}

type envResolver struct {
	raw    map[string]string
	outer  interpolate.LookupFunc
	done   map[string]string
	active map[string]bool
}

func (r *envResolver) lookup(name string) (string, bool) {
	if v, ok := r.outer(name); ok {
		return v, true
	}
	if _, ok := r.raw[name]; !ok || r.active[name] {
		return "", false
	}
	v, err := r.resolve(name)
	if err != nil {
		return "", false
	}
	return v, true
}

func (r *envResolver) resolve(name string) (string, error) {
	if v, ok := r.done[name]; ok {
		return v, nil
	}
	r.active[name] = true
	defer delete(r.active, name)
	v, err := interpolate.Substitute(r.raw[name], r.lookup)
	if err != nil {
		return "", err
	}
	r.done[name] = v
	return v, nil
}
