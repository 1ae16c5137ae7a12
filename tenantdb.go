package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/maxpert/tenantdb/admin"
	"github.com/maxpert/tenantdb/backend"
	"github.com/maxpert/tenantdb/cfg"
	"github.com/maxpert/tenantdb/dialect"
	"github.com/maxpert/tenantdb/pool"
	"github.com/maxpert/tenantdb/seed"
	"github.com/maxpert/tenantdb/telemetry"
	"github.com/maxpert/tenantdb/tenant"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage: tenantdb [flags] <command> [args]

commands:
  serve                          run the admin/metrics listener
  create <code>                  provision the schema for a tenant code
  provision <code> <tenant-id>   create then seed the reference catalogs
  seed <schema> <tenant-id>      seed the reference catalogs
  drop [-force] <schema>         drop a tenant schema
  list [pattern]                 list tenant schemas, optionally glob filtered
  stats <schema>                 operational counters of a schema
  backup <schema> [path]         write a backup script (.gz compresses)
  restore <path>                 execute a backup script
  clone <schema> <code>          provision <code> and copy the data of <schema>
`

// app holds the components a command runs against
type app struct {
	pool    *pool.Manager
	tenants *tenant.Manager
	seeder  *seed.Seeder
}

type command func(ctx context.Context, a *app, args []string) (any, bool, error)

var commands = map[string]command{
	"create":    runCreate,
	"provision": runProvision,
	"seed":      runSeed,
	"drop":      runDrop,
	"list":      runList,
	"stats":     runStats,
	"backup":    runBackup,
	"restore":   runRestore,
	"clone":     runClone,
}

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	setupLogging()
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.pool.Close()

	if args[0] == "serve" {
		if err := serve(ctx, a); err != nil {
			log.Fatal().Err(err).Msg("Server failed")
		}
		return
	}

	cmd, ok := commands[args[0]]
	if !ok {
		flag.Usage()
		os.Exit(2)
	}

	result, success, err := cmd(ctx, a, args[1:])
	if err != nil {
		log.Error().Err(err).Str("command", args[0]).Msg("Command failed")
		a.pool.Close()
		os.Exit(1)
	}
	if err := printJSON(os.Stdout, result); err != nil {
		log.Error().Err(err).Msg("Failed to write result")
	}
	if !success {
		a.pool.Close()
		os.Exit(1)
	}
}

func setupLogging() {
	var writer io.Writer = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) { w.Out = os.Stderr })
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stderr
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}
}

func newApp(ctx context.Context) (*app, error) {
	p, err := pool.New(ctx, pool.ConfigFromSettings(cfg.Config.Database))
	if err != nil {
		return nil, err
	}

	opts, err := tenant.OptionsFromSettings(cfg.Config.Tenant)
	if err != nil {
		p.Close()
		return nil, err
	}

	return &app{
		pool:    p,
		tenants: tenant.NewManager(p, opts),
		seeder:  seed.NewSeeder(p),
	}, nil
}

// serve runs the admin listener and the metrics collector until ctx is cancelled
func serve(ctx context.Context, a *app) error {
	translator, err := dialect.NewTranslator(cfg.Config.Dialect.CacheSize)
	if err != nil {
		return err
	}
	data, err := backend.Select(cfg.Config, backend.Deps{Pool: a.pool, Translator: translator})
	if err != nil {
		return err
	}
	if err := data.Init(ctx); err != nil {
		return err
	}
	defer data.Close()

	collector := telemetry.NewMetricsCollector(a.pool, a.tenants, 15*time.Second)
	collector.Start()
	defer collector.Stop()

	if !cfg.Config.Admin.Enabled {
		log.Info().Str("backend", data.Name()).Msg("Admin listener disabled, waiting for shutdown")
		<-ctx.Done()
		return nil
	}

	mux := http.NewServeMux()
	admin.RegisterRoutes(mux, admin.NewAdminHandlers(a.tenants, a.pool, cfg.Config.Admin.Secret))

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info().
		Str("address", srv.Addr).
		Str("backend", data.Name()).
		Uint64("instance_id", cfg.Config.InstanceID).
		Msg("tenantdb is operational")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireArgs(args []string, n int, name string) error {
	if len(args) < n {
		return fmt.Errorf("%s: expected %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

func parseTenantID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid tenant id %q: %w", s, err)
	}
	return id, nil
}

// backupPath names a timestamped compressed artifact under dir
func backupPath(dir, schema string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.sql.gz", schema, now.UTC().Format("20060102T150405Z")))
}

func runCreate(ctx context.Context, a *app, args []string) (any, bool, error) {
	if err := requireArgs(args, 1, "create"); err != nil {
		return nil, false, err
	}
	res, err := a.tenants.Create(ctx, args[0])
	if err != nil {
		return nil, false, err
	}
	return res, res.Success, nil
}

// provisionResult is the outcome of create followed by seed
type provisionResult struct {
	Create *tenant.CreateResult `json:"create"`
	Seed   *seed.Result         `json:"seed,omitempty"`
}

func runProvision(ctx context.Context, a *app, args []string) (any, bool, error) {
	if err := requireArgs(args, 2, "provision"); err != nil {
		return nil, false, err
	}
	tenantID, err := parseTenantID(args[1])
	if err != nil {
		return nil, false, err
	}

	created, err := a.tenants.Create(ctx, args[0])
	if err != nil {
		return nil, false, err
	}
	out := provisionResult{Create: created}
	if !created.Success {
		return out, false, nil
	}

	out.Seed, err = a.seeder.Seed(ctx, tenantID, created.SchemaName)
	if err != nil {
		return nil, false, err
	}
	return out, out.Seed.Success, nil
}

func runSeed(ctx context.Context, a *app, args []string) (any, bool, error) {
	if err := requireArgs(args, 2, "seed"); err != nil {
		return nil, false, err
	}
	tenantID, err := parseTenantID(args[1])
	if err != nil {
		return nil, false, err
	}
	res, err := a.seeder.Seed(ctx, tenantID, args[0])
	if err != nil {
		return nil, false, err
	}
	return res, res.Success, nil
}

func runDrop(ctx context.Context, a *app, args []string) (any, bool, error) {
	fs := flag.NewFlagSet("drop", flag.ContinueOnError)
	force := fs.Bool("force", false, "drop even when the schema holds data")
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if err := requireArgs(fs.Args(), 1, "drop"); err != nil {
		return nil, false, err
	}

	res, err := a.tenants.Drop(ctx, fs.Arg(0), *force)
	if err != nil {
		return nil, false, err
	}
	return res, res.Success, nil
}

func runList(ctx context.Context, a *app, args []string) (any, bool, error) {
	var (
		names []string
		err   error
	)
	if len(args) > 0 {
		names, err = a.tenants.ListMatching(ctx, args[0])
	} else {
		names, err = a.tenants.List(ctx)
	}
	if err != nil {
		return nil, false, err
	}
	return names, true, nil
}

func runStats(ctx context.Context, a *app, args []string) (any, bool, error) {
	if err := requireArgs(args, 1, "stats"); err != nil {
		return nil, false, err
	}
	res, err := a.tenants.Stats(ctx, args[0])
	if err != nil {
		return nil, false, err
	}
	return res, res.Success, nil
}

func runBackup(ctx context.Context, a *app, args []string) (any, bool, error) {
	if err := requireArgs(args, 1, "backup"); err != nil {
		return nil, false, err
	}
	path := backupPath(cfg.Config.Tenant.BackupDir, args[0], time.Now())
	if len(args) > 1 {
		path = args[1]
	}

	res, err := a.tenants.Backup(ctx, args[0], path)
	if err != nil {
		return nil, false, err
	}
	return res, res.Success, nil
}

func runRestore(ctx context.Context, a *app, args []string) (any, bool, error) {
	if err := requireArgs(args, 1, "restore"); err != nil {
		return nil, false, err
	}
	res, err := a.tenants.Restore(ctx, args[0])
	if err != nil {
		return nil, false, err
	}
	return res, res.Success, nil
}

func runClone(ctx context.Context, a *app, args []string) (any, bool, error) {
	if err := requireArgs(args, 2, "clone"); err != nil {
		return nil, false, err
	}
	res, err := a.tenants.Clone(ctx, args[0], args[1])
	if err != nil {
		return nil, false, err
	}
	return res, res.Success, nil
}
