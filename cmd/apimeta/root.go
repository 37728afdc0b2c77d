package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/reoring/apimeta"
	"github.com/reoring/apimeta/internal/config"
	"github.com/reoring/apimeta/internal/logging"
	"github.com/reoring/apimeta/schemasource"
)

// errInvalid marks a document that failed validation; the result has already
// been printed.
var errInvalid = errors.New("document is invalid")

// app carries global flags and the state built from them.
type app struct {
	cfgPath    string
	schemaLoc  string
	logLevel   string
	logFormat  string
	jsonDriver string

	cfg    *config.Config
	logger zerolog.Logger

	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

// run executes the CLI and returns the process exit code.
func run(args []string) int {
	a := &app{in: os.Stdin, out: os.Stdout, errOut: os.Stderr}
	return a.execute(args)
}

func (a *app) execute(args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	err := root.ExecuteContext(context.Background())
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errInvalid):
		return 1
	default:
		fmt.Fprintln(a.errOut, "error:", err)
		return 1
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "apimeta",
		Short:         "Validate and index SmartAPI/OpenAPI metadata",
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "apimeta.yaml", "config file (optional)")
	pf.StringVar(&a.schemaLoc, "schema", "", "schema URL or path (overrides schema.url)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: json or console")
	pf.StringVar(&a.jsonDriver, "json-driver", "go-json", "JSON decoder: go-json or std")

	root.AddCommand(
		a.validateCmd(),
		a.transformCmd(),
		a.encodeCmd(),
		a.decodeCmd(),
		a.indexCmd(),
		a.getCmd(),
		a.listCmd(),
		a.serveCmd(),
	)
	return root
}

// setup loads configuration, lets flags win over it and installs the logger.
func (a *app) setup() error {
	cfg, err := config.LoadWithFallback(a.cfgPath)
	if err != nil {
		return err
	}
	if a.schemaLoc != "" {
		cfg.Schema.URL = a.schemaLoc
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	a.cfg = cfg
	a.logger = logging.InitWriter(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, a.errOut)

	switch a.jsonDriver {
	case "", "go-json":
		apimeta.UseDefaultJSONDriver()
	case "std":
		apimeta.SetJSONDriver(apimeta.StdJSONDriver())
	default:
		return fmt.Errorf("unknown json driver %q", a.jsonDriver)
	}
	return nil
}

// loadSchema fetches and compiles the configured schema.
func (a *app) loadSchema(ctx context.Context) (*apimeta.Schema, error) {
	opts := []apimeta.SchemaOption{apimeta.WithDefaultDraft(a.cfg.Schema.DefaultDraft)}
	if a.cfg.Schema.AssertFormat {
		opts = append(opts, apimeta.WithFormatAssertions())
	}
	f := schemasource.New(
		schemasource.WithTimeout(a.cfg.Schema.Timeout),
		schemasource.WithRetries(a.cfg.Schema.Retries, 500*time.Millisecond),
		schemasource.WithLogger(logging.WithComponent("schemasource")),
		schemasource.WithSchemaOptions(opts...),
	)
	return f.Load(ctx, a.cfg.Schema.URL)
}

// readDocument decodes path, or stdin when path is "-". Stdin is read as JSON
// unless asYAML is set.
func (a *app) readDocument(path string, asYAML bool) (*apimeta.Document, error) {
	if path != "-" {
		if asYAML {
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			return apimeta.DecodeYAML(f, apimeta.DecodeOpt{})
		}
		return apimeta.DecodeFile(path, apimeta.DecodeOpt{})
	}
	if asYAML {
		return apimeta.DecodeYAML(a.in, apimeta.DecodeOpt{})
	}
	return apimeta.DecodeJSON(a.in, apimeta.DecodeOpt{})
}

// printJSON writes v followed by a newline.
func (a *app) printJSON(v interface{ MarshalJSON() ([]byte, error) }) error {
	b, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.out, "%s\n", b)
	return err
}
