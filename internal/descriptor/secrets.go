package descriptor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// AwsSecretPrefix marks an environment value that names an AWS secret,
// optionally pinned to a version stage with a #STAGE suffix.
const AwsSecretPrefix = "aws/secrets/"

type SecretFetcher func(ctx context.Context, secretID string) (string, error)

func (l *loader) resolveServiceSecrets(ctx context.Context, svc *ServiceSpec) error {
	var final []Variable
	for _, v := range svc.Environment {
		expanded, err := l.resolveSecret(ctx, v)
		if err != nil {
			return err
		}
		for _, ev := range expanded {
			final = updateOrAppendVariable(final, ev)
		}
	}
	svc.Environment = final
	return nil
}

// resolveSecret replaces a secret reference with its value. A secret holding
// a JSON object expands into one NAME_KEY variable per entry.
func (l *loader) resolveSecret(ctx context.Context, v Variable) ([]Variable, error) {
	if !strings.HasPrefix(v.Value, AwsSecretPrefix) {
		return []Variable{v}, nil
	}
	secretID := strings.TrimPrefix(v.Value, AwsSecretPrefix)
	value, err := l.fetchSecret(ctx, secretID)
	if err != nil {
		return nil, configErr(ErrMissingDependency, "secret "+secretID+" for "+v.Name, err)
	}
	var entries map[string]any
	if err := json.Unmarshal([]byte(value), &entries); err == nil {
		keys := make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		prefix := strings.ToUpper(v.Name)
		expanded := make([]Variable, 0, len(keys))
		for _, k := range keys {
			expanded = append(expanded, Variable{
				Name:  fmt.Sprintf("%s_%s", prefix, strings.ToUpper(k)),
				Value: fmt.Sprintf("%v", entries[k]),
			})
		}
		return expanded, nil
	}
	return []Variable{{Name: v.Name, Value: value}}, nil
}
