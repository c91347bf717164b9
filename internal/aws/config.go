// Package aws backs descriptor secret references (aws/secrets/<id>) with AWS
// Secrets Manager.
package aws

import (
	"context"
	"errors"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"

	"autodoc.dev/deployer/internal/errs"
)

var (
	ErrInvalidMode = errors.New("aws/config: mode must be 'local' or 'server'")
)

// LoadServiceConfig builds the SDK config used to resolve descriptor secrets.
// Local mode targets an emulator (AWS_ENDPOINT_URL) with static test
// credentials, so a descriptor can be rendered on a laptop against seeded
// secrets. Server mode uses the default credential chain, optionally pinned
// to a shared profile with AWS_PROFILE. Every variable may be scoped with a
// PREFIX_ form, e.g. SECRETS_AWS_REGION, so the secrets account can differ
// from the one the deployer itself runs in.
func LoadServiceConfig(ctx context.Context, mode, prefix string) (aws.Config, error) {
	switch mode {
	case "local", "":
		return loadServiceLocal(ctx, prefix)
	case "server":
		return loadServiceRemote(ctx, prefix)
	default:
		return aws.Config{}, errs.WrapMsg(ErrInvalidMode, "got "+mode)
	}
}

func loadServiceLocal(ctx context.Context, prefix string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(getServiceEnv(prefix, "AWS_REGION", "us-east-1")),
		config.WithCredentialsProvider(
			aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     getServiceEnv(prefix, "AWS_ACCESS_KEY_ID", "test"),
					SecretAccessKey: getServiceEnv(prefix, "AWS_SECRET_ACCESS_KEY", "test"),
					Source:          "deployer-local",
				}, nil
			}),
		),
	}
	if endpoint := getServiceEnv(prefix, "AWS_ENDPOINT_URL", ""); endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(endpoint))
	}
	return config.LoadDefaultConfig(ctx, opts...)
}

func loadServiceRemote(ctx context.Context, prefix string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(getServiceEnv(prefix, "AWS_REGION", "")),
	}
	if profile := getServiceEnv(prefix, "AWS_PROFILE", ""); profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	return config.LoadDefaultConfig(ctx, opts...)
}

func getServiceEnv(prefix, key, fallback string) string {
	if prefix != "" {
		if v, ok := os.LookupEnv(prefix + "_" + key); ok {
			return v
		}
	}
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
