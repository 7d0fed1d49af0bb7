package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/vyvo/pixelflow/pkg/app"
	"github.com/vyvo/pixelflow/pkg/config"
	"github.com/vyvo/pixelflow/pkg/keystore"
	"github.com/vyvo/pixelflow/pkg/logging"
	"github.com/vyvo/pixelflow/pkg/modelregistry"
	"github.com/vyvo/pixelflow/pkg/prompt"
	"github.com/vyvo/pixelflow/pkg/shell"
)

const usage = `Usage: pixelflow [flags] [command]

Commands:
  generate        pick a model, fill its parameters and generate (default)
  keys            set and validate the Replicate API key
  history         list recent generations
  import-schema   add a model from its OpenAPI document to the catalog

Flags:
`

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout)
	switch {
	case err == nil:
	case errors.Is(err, prompt.ErrAborted), errors.Is(err, context.Canceled):
		os.Exit(130)
	case errors.Is(err, pflag.ErrHelp):
	default:
		fmt.Fprintln(os.Stderr, "pixelflow:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("pixelflow", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	limit := fs.Int("limit", 20, "history: number of entries to list")
	importID := fs.String("id", "", "import-schema: model id, e.g. owner/name")
	importName := fs.String("name", "", "import-schema: display name")
	importEndpoint := fs.String("endpoint", "", "import-schema: prediction endpoint URL")
	importVersion := fs.String("version", "", "import-schema: model version for versioned endpoints")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)

	command := "generate"
	if fs.NArg() > 0 {
		command = fs.Arg(0)
	}

	if command == "import-schema" {
		if fs.NArg() < 2 {
			return errors.New("import-schema needs the path to an OpenAPI document")
		}
		return importSchema(ctx, cfg, fs.Arg(1), modelregistry.ImportOptions{
			ID:          *importID,
			DisplayName: *importName,
			EndpointURL: *importEndpoint,
			Version:     *importVersion,
		}, out)
	}

	a, err := app.New(ctx, cfg, logger, app.Options{ServiceName: "pixelflow", Version: version})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("shutdown")
		}
	}()

	driver := prompt.NewSurveyDriver(out)
	switch command {
	case "generate":
		return generate(ctx, a, driver, out)
	case "keys":
		return prompt.ConfigureKey(ctx, driver, a.Session)
	case "history":
		return printHistory(ctx, a.Session, *limit, out)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func generate(ctx context.Context, a *app.App, d prompt.Driver, out io.Writer) error {
	if err := prompt.ChooseModel(ctx, d, a.Session); err != nil {
		return err
	}
	if err := prompt.FillForm(ctx, d, a.Session); err != nil {
		return err
	}
	if _, err := a.Keys.ReplicateKey(); errors.Is(err, keystore.ErrMissingKey) {
		if err := d.Info(ctx, "No API key is configured yet."); err != nil {
			return err
		}
		if err := prompt.ConfigureKey(ctx, d, a.Session); err != nil {
			return err
		}
	}

	sub, err := a.Session.Generate(ctx)
	if err != nil {
		fmt.Fprintln(out, shell.UserMessage(err))
		return err
	}
	_, err = prompt.Follow(out, sub)

	res, ok := a.Session.Last()
	if !ok {
		return err
	}
	if res.Record != nil && len(res.Record.ArtifactPaths) > 0 {
		fmt.Fprintf(out, "Saved %d image(s) to %s\n", len(res.Record.ArtifactPaths), res.Record.Directory)
	}
	if res.Err != nil {
		fmt.Fprintln(out, res.Message)
	}
	return err
}

func printHistory(ctx context.Context, s *shell.Session, limit int, out io.Writer) error {
	entries, err := s.History(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No generations yet.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tMODEL\tSTATUS\tIMAGES\tLOCATION")
	for _, e := range entries {
		when := "-"
		if !e.FinishedAt.IsZero() {
			when = e.FinishedAt.Local().Format(time.DateTime)
		}
		location := e.Directory
		if location == "" {
			location = e.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", when, e.ModelID, e.Status, len(e.Artifacts), location)
	}
	return tw.Flush()
}

func importSchema(ctx context.Context, cfg config.Config, path string, opts modelregistry.ImportOptions, out io.Writer) error {
	if cfg.CatalogFile == "" {
		return errors.New("set --catalog (or catalog_file) to the catalog to import into")
	}
	if strings.TrimSpace(opts.ID) == "" || strings.TrimSpace(opts.EndpointURL) == "" {
		return errors.New("import-schema needs --id and --endpoint")
	}
	doc, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	model, err := modelregistry.FromOpenAPI(ctx, opts, doc)
	if err != nil {
		return err
	}
	if err := modelregistry.SaveFile(cfg.CatalogFile, model); err != nil {
		return err
	}
	fmt.Fprintf(out, "Imported %s with %d parameters into %s\n", model.ID, len(model.Parameters), cfg.CatalogFile)
	return nil
}
