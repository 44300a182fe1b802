package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmgilman/objgit/config"
	"github.com/jmgilman/objgit/errors"
	"github.com/jmgilman/objgit/storage"
	"github.com/jmgilman/objgit/storage/minio"
)

// secretKeyEnv supplies storage.secretKey when neither the file nor a flag
// sets it.
const secretKeyEnv = "OBJGIT_SECRET_KEY"

// app carries process wiring shared by every command. Tests replace the
// streams and the store.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string

	openStore func(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Store, error)

	configPath string
	overrides  overrides
}

// overrides are the global flags layered over the configuration file.
type overrides struct {
	logLevel  string
	logFormat string

	backend   string
	endpoint  string
	bucket    string
	accessKey string
	secretKey string
	region    string
	prefix    string
	useSSL    bool
}

func newApp() *app {
	return &app{
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		getenv:    os.Getenv,
		openStore: openStore,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "objgit",
		Short: "Git hosting on object storage",
		Long: `objgit hosts git repositories whose data lives in an object store.

Repositories are served over git Smart HTTP for clone, fetch and push, and
through a JSON API for browsing trees, files, branches and history.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "configuration file (.cue, .yaml, .yml or .json)")
	a.overrides.register(flags)

	root.AddCommand(
		newServeCmd(a),
		newRepoCmd(a),
		newHashPasswordCmd(a),
	)
	return root
}

func (o *overrides) register(flags *pflag.FlagSet) {
	flags.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.StringVar(&o.logFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&o.backend, "storage-backend", "", "object store backend: memory or minio")
	flags.StringVar(&o.endpoint, "storage-endpoint", "", "object store endpoint, e.g. localhost:9000")
	flags.StringVar(&o.bucket, "storage-bucket", "", "bucket holding every repository")
	flags.StringVar(&o.accessKey, "storage-access-key", "", "object store access key")
	flags.StringVar(&o.secretKey, "storage-secret-key", "", "object store secret key (or $"+secretKeyEnv+")")
	flags.StringVar(&o.region, "storage-region", "", "object store region")
	flags.StringVar(&o.prefix, "storage-prefix", "", "key prefix inside the bucket")
	flags.BoolVar(&o.useSSL, "storage-use-ssl", false, "connect to the object store over HTTPS")
}

// apply copies every flag the user set into cfg.
func (o *overrides) apply(flags *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	set("log-level", &cfg.Log.Level, o.logLevel)
	set("log-format", &cfg.Log.Format, o.logFormat)
	set("storage-backend", &cfg.Storage.Backend, o.backend)
	set("storage-endpoint", &cfg.Storage.Endpoint, o.endpoint)
	set("storage-bucket", &cfg.Storage.Bucket, o.bucket)
	set("storage-access-key", &cfg.Storage.AccessKey, o.accessKey)
	set("storage-secret-key", &cfg.Storage.SecretKey, o.secretKey)
	set("storage-region", &cfg.Storage.Region, o.region)
	set("storage-prefix", &cfg.Storage.Prefix, o.prefix)
	if flags.Changed("storage-use-ssl") {
		cfg.Storage.UseSSL = o.useSSL
	}
}

// loadConfig reads the configuration file, if any, and layers the
// environment and flags over it.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if a.configPath != "" {
		abs, err := filepath.Abs(a.configPath)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeConfigLoad, "invalid config path")
		}
		cfg, err = config.Load(cmd.Context(), osfs.New(filepath.Dir(abs)), filepath.Base(abs))
		if err != nil {
			return nil, err
		}
	}

	if cfg.Storage.SecretKey == "" {
		cfg.Storage.SecretKey = a.getenv(secretKeyEnv)
	}
	a.overrides.apply(cmd.Flags(), cfg)

	if err := validateLog(cfg.Log); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads the configuration and builds the logger and store.
func (a *app) setup(cmd *cobra.Command) (*config.Config, *slog.Logger, storage.Store, error) {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := newLogger(a.stderr, cfg.Log)

	store, err := a.openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, store, nil
}

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func validateLog(l config.Log) error {
	if _, ok := levels[strings.ToLower(l.Level)]; !ok {
		return errors.WithContext(errors.New(errors.CodeInvalidConfig, "unknown log level"), "level", l.Level)
	}
	if f := strings.ToLower(l.Format); f != "text" && f != "json" {
		return errors.WithContext(errors.New(errors.CodeInvalidConfig, "unknown log format"), "format", l.Format)
	}
	return nil
}

func newLogger(w io.Writer, l config.Log) *slog.Logger {
	opts := &slog.HandlerOptions{Level: levels[strings.ToLower(l.Level)]}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Store, error) {
	s := cfg.Storage
	switch s.Backend {
	case config.BackendMemory:
		log.Warn("using in-memory storage; repositories are lost on exit")
		return storage.NewMemory(), nil
	case config.BackendMinio:
		store, err := minio.New(minio.Config{
			Endpoint:  s.Endpoint,
			Bucket:    s.Bucket,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
			Region:    s.Region,
			UseSSL:    s.UseSSL,
			Prefix:    s.Prefix,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		log.Info("connected to object store", "store", store.String())
		return store, nil
	default:
		return nil, errors.WithContext(errors.New(errors.CodeInvalidConfig, "unknown storage backend"), "backend", s.Backend)
	}
}
