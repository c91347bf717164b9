package aws

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"autodoc.dev/deployer/internal/errs"
)

var (
	ErrSMGetSecret  = errors.New("aws/secretsmanager: failed to get secret")
	ErrSMEmptyValue = errors.New("aws/secretsmanager: secret has no value")
	ErrSMBadRef     = errors.New("aws/secretsmanager: invalid secret reference")
)

type secretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerClient resolves the secret references found in descriptor
// environment values. A descriptor often points several variables at the
// same secret, so values are kept for the lifetime of the client.
type SecretsManagerClient struct {
	client secretsAPI

	mu     sync.Mutex
	values map[string]string
}

func NewSecretsManagerClient(cfg aws.Config) *SecretsManagerClient {
	return newSecretsManagerClient(secretsmanager.NewFromConfig(cfg))
}

func newSecretsManagerClient(api secretsAPI) *SecretsManagerClient {
	return &SecretsManagerClient{client: api, values: make(map[string]string)}
}

// SecretRef is a secret id (name or ARN) with an optional version stage,
// written as id#STAGE, e.g. prod/autodoc/openai#AWSPREVIOUS.
type SecretRef struct {
	ID           string
	VersionStage string
}

func ParseSecretRef(ref string) (SecretRef, error) {
	id, stage, found := strings.Cut(ref, "#")
	if id == "" || (found && stage == "") {
		return SecretRef{}, errs.WrapMsg(ErrSMBadRef, ref)
	}
	return SecretRef{ID: id, VersionStage: stage}, nil
}

// GetSecret returns the value behind ref. Binary secrets come back base64
// encoded. It satisfies descriptor.SecretFetcher.
func (s *SecretsManagerClient) GetSecret(ctx context.Context, ref string) (string, error) {
	s.mu.Lock()
	v, ok := s.values[ref]
	s.mu.Unlock()
	if ok {
		return v, nil
	}

	r, err := ParseSecretRef(ref)
	if err != nil {
		return "", err
	}
	in := &secretsmanager.GetSecretValueInput{SecretId: aws.String(r.ID)}
	if r.VersionStage != "" {
		in.VersionStage = aws.String(r.VersionStage)
	}
	out, err := s.client.GetSecretValue(ctx, in)
	if err != nil {
		return "", errs.WrapMsgErr(ErrSMGetSecret, ref, err)
	}
	switch {
	case out.SecretString != nil:
		v = *out.SecretString
	case out.SecretBinary != nil:
		v = base64.StdEncoding.EncodeToString(out.SecretBinary)
	default:
		return "", errs.WrapMsg(ErrSMEmptyValue, ref)
	}

	s.mu.Lock()
	s.values[ref] = v
	s.mu.Unlock()
	return v, nil
}
