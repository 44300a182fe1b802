package main

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmgilman/objgit/auth"
	"github.com/jmgilman/objgit/bridge"
	"github.com/jmgilman/objgit/config"
	"github.com/jmgilman/objgit/errors"
	"github.com/jmgilman/objgit/exec"
	"github.com/jmgilman/objgit/git"
	"github.com/jmgilman/objgit/lease"
	"github.com/jmgilman/objgit/repoid"
	"github.com/jmgilman/objgit/smarthttp"
	"github.com/jmgilman/objgit/storage"
)

const shutdownTimeout = 30 * time.Second

type serveFlags struct {
	listen      string
	realm       string
	scratchRoot string
	git         string
	timeout     time.Duration
}

func newServeCmd(a *app) *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve repositories over Smart HTTP",
		Long: `Serve the git Smart HTTP protocol and the browse API.

Users and repositories are read from the configuration file. Configured
repositories that do not exist in the store yet are created empty.`,
		Example: `  # development server with in-memory storage
  objgit serve --config objgit.cue

  # MinIO storage, secret from the environment
  OBJGIT_SECRET_KEY=... objgit serve --storage-backend minio \
    --storage-endpoint localhost:9000 --storage-access-key objgit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, store, err := a.setup(cmd)
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			handler, err := buildHandler(ctx, cfg, store, logger)
			if err != nil {
				return err
			}
			return serve(ctx, cfg.Server.Listen, handler, logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.listen, "listen", "", "address to listen on")
	flags.StringVar(&f.realm, "realm", "", "realm sent in authentication challenges")
	flags.StringVar(&f.scratchRoot, "scratch-root", "", "directory for temporary repository copies")
	flags.StringVar(&f.git, "git", "", "git binary")
	flags.DurationVar(&f.timeout, "timeout", 0, "limit on one git subprocess")
	return cmd
}

func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Server.Listen = f.listen
	}
	if flags.Changed("realm") {
		cfg.Server.Realm = f.realm
	}
	if flags.Changed("scratch-root") {
		cfg.Server.ScratchRoot = f.scratchRoot
	}
	if flags.Changed("git") {
		cfg.Server.Git = f.git
	}
	if flags.Changed("timeout") {
		cfg.Server.Timeout = config.Duration(f.timeout)
	}
}

// buildHandler wires the protocol handler from cfg and provisions the
// configured repositories.
func buildHandler(ctx context.Context, cfg *config.Config, store storage.Store, logger *slog.Logger) (*smarthttp.Handler, error) {
	authn, err := newAuthenticator(cfg.Users, logger)
	if err != nil {
		return nil, err
	}
	registry, err := newRegistry(cfg.Users, cfg.Repositories)
	if err != nil {
		return nil, err
	}

	for _, r := range registry.List() {
		id, err := repoid.New(r.OwnerID, r.Name)
		if err != nil {
			return nil, err
		}
		switch err := git.Create(ctx, store, id); {
		case err == nil:
			logger.Info("created repository", "repository", id.String())
		case errors.HasCode(err, errors.CodeAlreadyExists):
		default:
			return nil, err
		}
	}

	leases := lease.NewManager(store,
		lease.WithTTL(cfg.Lease.TTL.Std()),
		lease.WithMaxWait(cfg.Lease.MaxWait.Std()),
		lease.WithLogger(logger),
	)
	b := bridge.New(store,
		bridge.WithLeases(leases),
		bridge.WithScratchRoot(cfg.Server.ScratchRoot),
		bridge.WithConcurrency(cfg.Storage.Concurrency),
		bridge.WithLogger(logger),
	)

	return smarthttp.NewHandler(smarthttp.Config{
		Reader:        git.NewReader(store, git.WithLogger(logger)),
		Bridge:        b,
		Authenticator: authn,
		Registry:      registry,
		Git:           exec.NewWrapper(exec.New(exec.WithInheritEnv()), cfg.Server.Git),
		Realm:         cfg.Server.Realm,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
		Timeout:       cfg.Server.Timeout.Std(),
		Logger:        logger,
	})
}

func newAuthenticator(users []config.User, logger *slog.Logger) (*auth.Static, error) {
	accounts := make([]auth.Account, 0, len(users))
	var sessions []auth.Session
	for _, u := range users {
		accounts = append(accounts, auth.Account{
			ID:           u.ID,
			Username:     u.Username,
			Email:        u.Email,
			PasswordHash: u.PasswordHash,
			Tokens:       u.Tokens,
		})
		for _, s := range u.Sessions {
			sessions = append(sessions, auth.Session{Token: s.Token, UserID: u.ID, ExpiresAt: s.ExpiresAt})
		}
	}
	return auth.NewStatic(accounts, sessions, auth.WithLogger(logger))
}

func newRegistry(users []config.User, repos []config.Repository) (*auth.StaticRegistry, error) {
	owners := make(map[string]string, len(users))
	for _, u := range users {
		owners[u.Username] = u.ID
	}

	registry := auth.NewStaticRegistry()
	for _, r := range repos {
		ownerID, ok := owners[r.Owner]
		if !ok {
			return nil, errors.WithContext(
				errors.New(errors.CodeInvalidConfig, "repository owner is not a configured user"),
				"owner", r.Owner,
			)
		}
		if _, err := registry.Add(auth.Repository{
			OwnerID:       ownerID,
			OwnerUsername: r.Owner,
			Name:          r.Name,
			Visibility:    auth.Visibility(r.Visibility),
		}); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// serve runs the HTTP server until ctx is done, then drains in-flight
// requests.
func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
