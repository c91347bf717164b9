package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"autodoc.dev/deployer/internal/aws"
	"autodoc.dev/deployer/internal/descriptor"
	"autodoc.dev/deployer/internal/engine"
	"autodoc.dev/deployer/internal/logger"
)

type rootOptions struct {
	file           string
	env            []string
	noDotEnv       bool
	resolveSecrets bool
	debug          bool
	environ        func() descriptor.Environment
}

func envFromOS() descriptor.Environment {
	return descriptor.OSEnvironment()
}

func newRootCmd(environ func() descriptor.Environment) *cobra.Command {
	o := &rootOptions{environ: environ}
	defaultFile := os.Getenv("DESCRIPTOR_PATH")
	if defaultFile == "" {
		defaultFile = "docker-compose.yml"
	}

	cmd := &cobra.Command{
		Use:           "deployer",
		Short:         "Load and inspect deployment descriptors",
		Long:          `Load a compose-style deployment descriptor, resolve its variables and hand the result to a container engine.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logger.InitLogger(o.debug, cmd.ErrOrStderr())
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	flags := cmd.PersistentFlags()
	flags.StringVarP(&o.file, "file", "f", defaultFile, "Path to the descriptor")
	flags.StringArrayVarP(&o.env, "env", "e", nil, "Set an interpolation variable (KEY=VALUE), overriding the environment")
	flags.BoolVar(&o.noDotEnv, "no-dotenv", false, "Do not read the .env file next to the descriptor")
	flags.BoolVar(&o.resolveSecrets, "resolve-secrets", false, "Resolve aws/secrets/ values through AWS Secrets Manager")
	flags.BoolVar(&o.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(
		newValidateCmd(o),
		newRenderCmd(o),
		newContainerCmd(o),
		newDigestCmd(o),
	)
	return cmd
}

func (o *rootOptions) load(ctx context.Context) (*descriptor.Descriptor, error) {
	env := descriptor.Environment{}
	for k, v := range o.environ() {
		env[k] = v
	}
	for _, kv := range o.env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --env %q, expected KEY=VALUE", kv)
		}
		env[k] = v
	}

	var opts []descriptor.Option
	if o.noDotEnv {
		opts = append(opts, descriptor.WithoutDotEnv())
	}
	if o.resolveSecrets {
		cfg, err := aws.LoadServiceConfig(ctx, env["MODE"], "SECRETS")
		if err != nil {
			return nil, err
		}
		opts = append(opts, descriptor.WithSecretFetcher(aws.NewSecretsManagerClient(cfg).GetSecret))
	}
	return descriptor.LoadContext(ctx, o.file, env, opts...)
}

func newValidateCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that the descriptor loads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := o.load(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d services: %s)\n", d.Path, len(d.ServiceNames()), strings.Join(d.ServiceNames(), ", "))
			return nil
		},
	}
}

func newRenderCmd(o *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the descriptor with every variable resolved",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := o.load(cmd.Context())
			if err != nil {
				return err
			}
			out, err := descriptor.Encode(d)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(out)
				return err
			}
			return os.WriteFile(output, out, 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}

func newContainerCmd(o *rootOptions) *cobra.Command {
	var summary bool
	cmd := &cobra.Command{
		Use:   "container [service]",
		Short: "Print the container create options for a service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := o.load(cmd.Context())
			if err != nil {
				return err
			}
			var name string
			if len(args) == 1 {
				name = args[0]
			}
			svc, err := d.Lookup(name)
			if err != nil {
				return err
			}
			opts, err := engine.ContainerOptions(d.Name, svc)
			if err != nil {
				return err
			}
			opts.Config.Labels[engine.LabelDigest] = d.Digest
			if summary {
				_, err = fmt.Fprint(cmd.OutOrStdout(), opts.Summary())
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(opts)
		},
	}
	cmd.Flags().BoolVar(&summary, "summary", false, "Print a short listing instead of JSON")
	return cmd
}

func newDigestCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "digest",
		Short: "Print the BLAKE2b-256 digest of the resolved descriptor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := o.load(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), d.Digest)
			return nil
		},
	}
}
