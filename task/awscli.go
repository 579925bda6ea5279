package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/opsrun/opsrun/creds"
)

// stsAPI is the slice of the STS client the preflight needs; tests
// substitute a fake.
type stsAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// AWSTask executes an AWS CLI command with structured argument
// construction. Credentials from the resolved bundle are injected into
// the subprocess environment, never onto the command line. When
// verify_identity is set, the task first confirms the credentials with
// an STS GetCallerIdentity call through the AWS SDK.
type AWSTask struct {
	name           string
	service        string
	command        string
	args           []string
	region         string
	outputFormat   string
	awsPath        string
	verifyIdentity bool
	filter         *outputFilter
	expect         *expectation

	// newSTS builds the STS client for identity preflight. Overridable
	// in tests.
	newSTS func(cfg aws.Config) stsAPI
}

// NewAWSFactory returns the factory for "aws_cli" tasks.
func NewAWSFactory() Factory {
	return func(name string, params map[string]any) (Task, error) {
		service := stringParam(params, "service")
		command := stringParam(params, "command")
		if service == "" || command == "" {
			return nil, fmt.Errorf("%w: aws_cli task %q: 'service' and 'command' are required", ErrInvalidParameters, name)
		}

		args, err := stringSliceParam(params, "args")
		if err != nil {
			return nil, fmt.Errorf("aws_cli task %q: %w", name, err)
		}
		filter, err := newOutputFilter(params)
		if err != nil {
			return nil, fmt.Errorf("aws_cli task %q: %w", name, err)
		}
		expect, err := newExpectation(params)
		if err != nil {
			return nil, fmt.Errorf("aws_cli task %q: %w", name, err)
		}

		awsPath := stringParam(params, "aws_path")
		if awsPath == "" {
			awsPath = "aws"
		}
		outputFormat := stringParam(params, "output")
		if outputFormat == "" {
			outputFormat = "json"
		}

		return &AWSTask{
			name:           name,
			service:        service,
			command:        command,
			args:           args,
			region:         stringParam(params, "region"),
			outputFormat:   outputFormat,
			awsPath:        awsPath,
			verifyIdentity: boolParam(params, "verify_identity", false),
			filter:         filter,
			expect:         expect,
			newSTS:         func(cfg aws.Config) stsAPI { return sts.NewFromConfig(cfg) },
		}, nil
	}
}

func (t *AWSTask) Name() string { return t.name }
func (t *AWSTask) Type() string { return "aws_cli" }

// Plan describes the aws invocation.
func (t *AWSTask) Plan(_ *ExecContext) map[string]any {
	return map[string]any{
		"command":         t.awsPath + " " + strings.Join(t.buildArgs(), " "),
		"region":          t.region,
		"verify_identity": t.verifyIdentity,
	}
}

// Execute optionally verifies the caller identity, then runs the aws
// command with bundle credentials in the environment.
func (t *AWSTask) Execute(ctx context.Context, ec *ExecContext, bundle *creds.Bundle) (*Output, error) {
	data := map[string]any{
		"command": t.awsPath + " " + strings.Join(t.buildArgs(), " "),
	}

	if t.verifyIdentity {
		identity, err := t.callerIdentity(ctx, bundle)
		if err != nil {
			// Identity verification reaches over the network; treat
			// failure as transient so policy-driven retries apply.
			return nil, Transient(fmt.Errorf("aws_cli task %q: verify identity: %w", t.name, err))
		}
		data["caller_identity"] = identity
	}

	cmd := exec.CommandContext(ctx, t.awsPath, t.buildArgs()...) //nolint:gosec // arguments come from validated pipeline config
	cmd.WaitDelay = killGrace
	cmd.Env = t.environ(ec, bundle)
	if ec != nil && ec.WorkDir != "" {
		cmd.Dir = ec.WorkDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("aws_cli task %q: %w", t.name, ctx.Err())
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("aws_cli task %q: %w", t.name, runErr)
		}
	}

	data["exit_code"] = exitCode
	data["stdout"] = stdout.String()
	data["stderr"] = stderr.String()
	if parsed := parseCLIOutput(stdout.String(), t.outputFormat); parsed != nil {
		data["output"] = parsed
	}

	if t.filter != nil {
		filtered, err := t.filter.Apply(data)
		if err != nil {
			return nil, fmt.Errorf("aws_cli task %q: %w", t.name, err)
		}
		data["filtered"] = filtered
	}

	out := &Output{Data: data}
	if exitCode != 0 {
		out.Failed = true
		out.Reason = fmt.Sprintf("aws exited with code %d: %s", exitCode, strings.TrimSpace(stderr.String()))
		return out, nil
	}

	if t.expect != nil {
		ok, reason, err := t.expect.Check(data)
		if err != nil {
			return nil, fmt.Errorf("aws_cli task %q: %w", t.name, err)
		}
		if !ok {
			out.Failed = true
			out.Reason = reason
		}
	}
	return out, nil
}

// callerIdentity confirms the bundle's credentials via STS and returns
// the (non-secret) account and ARN for the task output.
func (t *AWSTask) callerIdentity(ctx context.Context, bundle *creds.Bundle) (map[string]any, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if t.region != "" {
		opts = append(opts, awsconfig.WithRegion(t.region))
	}
	if accessKey, ok := bundle.Value("access_key"); ok {
		secretKey, _ := bundle.Value("secret_key")
		sessionToken, _ := bundle.Value("session_token")
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, sessionToken)))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	resp, err := t.newSTS(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("sts get-caller-identity: %w", err)
	}
	return map[string]any{
		"account": aws.ToString(resp.Account),
		"arn":     aws.ToString(resp.Arn),
	}, nil
}

func (t *AWSTask) buildArgs() []string {
	argv := append([]string{t.service, t.command}, t.args...)
	if t.region != "" {
		argv = append(argv, "--region", t.region)
	}
	if t.outputFormat != "" {
		argv = append(argv, "--output", t.outputFormat)
	}
	return argv
}

// environ maps bundle credential keys onto the AWS CLI environment
// variables. Bundle keys follow the lowercase convention used by the
// credential backends (access_key, secret_key, session_token).
func (t *AWSTask) environ(ec *ExecContext, bundle *creds.Bundle) []string {
	extra := make(map[string]string)
	if v, ok := bundle.Value("access_key"); ok {
		extra["AWS_ACCESS_KEY_ID"] = v
	}
	if v, ok := bundle.Value("secret_key"); ok {
		extra["AWS_SECRET_ACCESS_KEY"] = v
	}
	if v, ok := bundle.Value("session_token"); ok {
		extra["AWS_SESSION_TOKEN"] = v
	}
	if t.region != "" {
		extra["AWS_REGION"] = t.region
	}
	if ec != nil {
		return ec.Environ(extra)
	}
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
