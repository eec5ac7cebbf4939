package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/regq/internal/catalogue"
	"github.com/desertthunder/regq/internal/queue"
	"github.com/desertthunder/regq/internal/shared"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	client     catalogue.Client
	ownsClient bool
	logger     *log.Logger
	output     io.Writer
	now        func() time.Time
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Client     catalogue.Client // opened from the config on first use when nil
	Logger     *log.Logger
	Output     io.Writer
	Now        func() time.Time
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		client:     opts.Client,
		logger:     opts.Logger,
		output:     opts.Output,
		now:        opts.Now,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		workerCommand, tasksCommand, datasetsCommand, serveCommand, setupCommand, apiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Before loads the config file named by --config, then applies the global overrides.
//
// A missing config file is not an error unless the path was given explicitly.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if path := cmd.String("config"); path != "" {
		r.configPath = path
	}

	if r.configPath != "" {
		cfg, err := shared.LoadConfig(r.configPath)
		switch {
		case err == nil:
			r.config = cfg
		case errors.Is(err, os.ErrNotExist) && !cmd.IsSet("config"):
			r.logger.Debug("config file not found, using defaults", "path", r.configPath)
		default:
			return ctx, err
		}
	}

	if url := cmd.String("catalogue"); url != "" {
		r.config.Catalogue.URL = url
	}
	if token := cmd.String("token"); token != "" {
		r.config.Catalogue.Token = token
	}

	level := r.config.Logging.Level
	if cmd.IsSet("log-level") {
		level = cmd.String("log-level")
	}
	lvl, err := shared.ParseLogLevel(level)
	if err != nil {
		return ctx, err
	}
	shared.SetLogLevel(r.logger, lvl)

	return ctx, nil
}

// After closes a catalogue this runner opened.
func (r *Runner) After(ctx context.Context, cmd *cli.Command) error {
	return r.Close()
}

// Close releases the catalogue client when the runner opened it.
func (r *Runner) Close() error {
	if !r.ownsClient || r.client == nil {
		return nil
	}
	c, ok := r.client.(io.Closer)
	r.client, r.ownsClient = nil, false
	if !ok {
		return nil
	}
	return c.Close()
}

// SetLogger replaces the logger, keeping the current level.
func (r *Runner) SetLogger(l *log.Logger) {
	l.SetLevel(r.logger.GetLevel())
	r.logger = l
}

// catalogue returns the configured catalogue client, opening it on first use.
func (r *Runner) catalogue() (catalogue.Client, error) {
	if r.client != nil {
		return r.client, nil
	}
	if err := r.config.Validate(); err != nil {
		return nil, err
	}

	client, err := catalogue.Open(r.config.Catalogue, r.logger)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("catalogue opened", "url", r.config.Catalogue.URL)
	r.client, r.ownsClient = client, true
	return client, nil
}

func (r *Runner) queue() (*queue.Queue, error) {
	client, err := r.catalogue()
	if err != nil {
		return nil, err
	}
	return queue.New(client, r.logger), nil
}

func (r *Runner) datasets() (*catalogue.Datasets, error) {
	client, err := r.catalogue()
	if err != nil {
		return nil, err
	}
	return catalogue.NewDatasets(client), nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
