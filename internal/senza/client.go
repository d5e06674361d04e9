// File: internal/senza/client.go
// Brief: Stack Control Client wrapping the senza command.

// Package senza drives the senza command line tool that creates, lists,
// deletes and re-weights CloudFormation application stacks. Every call runs
// `senza <command> <args...> --region <region> [extra args] [-o json]` and
// surfaces failures as *ExecutionError carrying the captured output.
package senza

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// DefaultBinary is the executable name looked up on PATH.
const DefaultBinary = "senza"

// Runner executes a command and returns its stdout and stderr separately.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)

func (f RunnerFunc) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	return f(ctx, name, args...)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// ExecutionError is returned when senza exits non-zero or prints output
// that cannot be decoded.
type ExecutionError struct {
	Command string
	Output  string
	Err     error
}

func (e *ExecutionError) Error() string {
	msg := "senza " + e.Command + " failed"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Options configures a Client.
type Options struct {
	Binary    string
	Region    string
	ExtraArgs []string
	// Timeout bounds every senza invocation; zero disables it.
	Timeout time.Duration
	Runner  Runner
	Logger  logr.Logger
}

// Client is the Stack Control Client. It is safe for concurrent use.
type Client struct {
	binary  string
	extra   []string
	timeout time.Duration
	runner  Runner
	log     logr.Logger
}

// New returns a Client for the given options.
func New(opts Options) *Client {
	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		binary = DefaultBinary
	}
	var extra []string
	if region := strings.TrimSpace(opts.Region); region != "" {
		extra = append(extra, "--region", region)
	}
	extra = append(extra, opts.ExtraArgs...)
	runner := opts.Runner
	if runner == nil {
		runner = execRunner{}
	}
	return &Client{
		binary:  binary,
		extra:   extra,
		timeout: opts.Timeout,
		runner:  runner,
		log:     opts.Logger.WithName("senza"),
	}
}

func (c *Client) execute(ctx context.Context, command string, expectJSON bool, args ...string) ([]byte, error) {
	argv := append([]string{command}, args...)
	argv = append(argv, c.extra...)
	if expectJSON {
		argv = append(argv, "-o", "json")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	c.log.V(1).Info("running senza", "args", argv)
	stdout, stderr, err := c.runner.Run(ctx, c.binary, argv...)
	if err != nil {
		output := strings.TrimSpace(string(stdout) + "\n" + string(stderr))
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Wrap(ctxErr, err.Error())
		}
		return nil, &ExecutionError{Command: command, Output: output, Err: err}
	}
	return stdout, nil
}

func (c *Client) executeJSON(ctx context.Context, command string, out any, args ...string) error {
	raw, err := c.execute(ctx, command, true, args...)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ExecutionError{
			Command: command,
			Output:  string(raw),
			Err:     errors.Wrap(err, "decode json output"),
		}
	}
	return nil
}

// Create writes definition to a temporary file and runs `senza create --force`.
// Failures are logged with the captured output and reported as false.
func (c *Client) Create(ctx context.Context, definition, stackVersion, imageVersion string, parameters []string, disableRollback bool) bool {
	log := c.log.WithValues("version", stackVersion, "image", imageVersion)
	if _, err := yaml.YAMLToJSON([]byte(definition)); err != nil {
		log.Error(err, "Senza definition is not valid YAML.")
		return false
	}
	tmp, err := os.CreateTemp("", "lizzy-*.yaml")
	if err != nil {
		log.Error(err, "Failed to create temporary definition file.")
		return false
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.WriteString(definition); err != nil {
		_ = tmp.Close()
		log.Error(err, "Failed to write temporary definition file.")
		return false
	}
	if err := tmp.Close(); err != nil {
		log.Error(err, "Failed to write temporary definition file.")
		return false
	}

	args := []string{"--force"}
	if disableRollback {
		args = append(args, "--disable-rollback")
	}
	args = append(args, tmp.Name(), stackVersion, imageVersion)
	args = append(args, parameters...)
	if _, err := c.execute(ctx, "create", false, args...); err != nil {
		log.Error(err, "Failed to create stack.", "errorClass", errorClass(err), "command.output", commandOutput(err))
		return false
	}
	return true
}

// List returns every stack senza knows about in the configured region.
func (c *Client) List(ctx context.Context) ([]Stack, error) {
	var stacks []Stack
	if err := c.executeJSON(ctx, "list", &stacks); err != nil {
		return nil, err
	}
	return stacks, nil
}

// Domains returns the Route53 domains of stackName, or of every stack when
// stackName is empty.
func (c *Client) Domains(ctx context.Context, stackName string) ([]Domain, error) {
	var args []string
	if stackName != "" {
		args = append(args, stackName)
	}
	var domains []Domain
	if err := c.executeJSON(ctx, "domains", &domains, args...); err != nil {
		return nil, err
	}
	return domains, nil
}

// Remove deletes one stack version. Failures are logged and reported as false.
func (c *Client) Remove(ctx context.Context, stackName, stackVersion string) bool {
	if _, err := c.execute(ctx, "delete", false, stackName, stackVersion); err != nil {
		c.log.Error(err, "Failed to delete stack.", "stack", stackName, "version", stackVersion,
			"errorClass", errorClass(err), "command.output", commandOutput(err))
		return false
	}
	return true
}

// Traffic sets the traffic percentage of a stack version and returns the
// resulting weights.
func (c *Client) Traffic(ctx context.Context, stackName, stackVersion string, percentage int) ([]TrafficWeight, error) {
	var weights []TrafficWeight
	if err := c.executeJSON(ctx, "traffic", &weights, stackName, stackVersion, strconv.Itoa(percentage)); err != nil {
		return nil, err
	}
	return weights, nil
}

// Patch changes the image of the stack's auto scaling group.
func (c *Client) Patch(ctx context.Context, stackName, stackVersion, image string) error {
	_, err := c.execute(ctx, "patch", false, stackName, stackVersion, "--image", image)
	return err
}

// RespawnInstances replaces every instance of the stack so new launch
// configuration takes effect.
func (c *Client) RespawnInstances(ctx context.Context, stackName, stackVersion string) error {
	_, err := c.execute(ctx, "respawn-instances", false, stackName, stackVersion)
	return err
}

// commandOutput extracts the captured output from an ExecutionError.
func commandOutput(err error) string {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Output
	}
	return ""
}
