// Command dashctl drives the dashboard client layer against a running
// terravest API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"terravest/api/internal/cache"
	"terravest/api/internal/dashboard"
	"terravest/api/internal/logging"
)

var errNotSignedIn = errors.New("not signed in: run dashctl signin or pass --access-token")

// env supplies flag defaults.
type env struct {
	APIURL         string `envconfig:"TERRAVEST_API_URL" default:"http://localhost:8787"`
	AccessToken    string `envconfig:"TERRAVEST_ACCESS_TOKEN"`
	RefreshToken   string `envconfig:"TERRAVEST_REFRESH_TOKEN"`
	DevBypassEmail string `envconfig:"DEV_BYPASS_EMAIL"`
	AuthEnabled    bool   `envconfig:"AUTH_ENABLED" default:"true"`
	AppEnv         string `envconfig:"APP_ENV" default:"dev"`
}

type options struct {
	apiURL         string
	accessToken    string
	refreshToken   string
	devBypassEmail string
	authEnabled    bool
	appEnv         string
	timeout        time.Duration
	verbose        bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var defaults env
	if err := envconfig.Process("", &defaults); err != nil {
		fmt.Fprintf(os.Stderr, "dashctl: read environment: %v\n", err)
	}
	opts := &options{}

	root := &cobra.Command{
		Use:          "dashctl",
		Short:        "Terravest dashboard client",
		Long:         "dashctl signs in, lists companies and communities, and manages the watchlist through the terravest API.",
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.apiURL, "api", defaults.APIURL, "API base URL (or set TERRAVEST_API_URL)")
	flags.StringVar(&opts.accessToken, "access-token", defaults.AccessToken, "Access token (or set TERRAVEST_ACCESS_TOKEN)")
	flags.StringVar(&opts.refreshToken, "refresh-token", defaults.RefreshToken, "Refresh token (or set TERRAVEST_REFRESH_TOKEN)")
	flags.StringVar(&opts.devBypassEmail, "dev-bypass-email", defaults.DevBypassEmail, "Use the development identity instead of a session")
	flags.BoolVar(&opts.authEnabled, "auth-enabled", defaults.AuthEnabled, "Require a real session; disables --dev-bypass-email (or set AUTH_ENABLED)")
	flags.StringVar(&opts.appEnv, "app-env", defaults.AppEnv, "Deployment environment; production disables --dev-bypass-email (or set APP_ENV)")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Overall command timeout")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newSignUpCmd(opts),
		newSignInCmd(opts),
		newWhoAmICmd(opts),
		newRefreshCmd(opts),
		newCompaniesCmd(opts),
		newCommunitiesCmd(opts),
		newMembershipCmd(opts, "join"),
		newMembershipCmd(opts, "leave"),
		newFeedCmd(opts),
		newSaveCmd(opts, true),
		newSaveCmd(opts, false),
		newWatchlistCmd(opts),
	)
	return root
}

func (o *options) logger(cmd *cobra.Command) zerolog.Logger {
	logger := logging.NewWithWriter("production", cmd.ErrOrStderr())
	if o.verbose {
		logger = logger.Level(zerolog.DebugLevel)
	}
	return logger
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func (o *options) backend(cmd *cobra.Command) *dashboard.HTTPBackend {
	backend := dashboard.NewHTTPBackend(o.apiURL, o.logger(cmd))
	if o.accessToken != "" || o.refreshToken != "" {
		backend.Restore(o.accessToken, o.refreshToken)
	}
	return backend
}

// client is one signed-in dashboard session.
type client struct {
	logger    zerolog.Logger
	backend   *dashboard.HTTPBackend
	auth      *dashboard.AuthProvider
	fetcher   *dashboard.Fetcher
	cache     cache.Cache
	navigator *dashboard.RecordingNavigator
	notifier  dashboard.Notifier
}

func (o *options) connect(ctx context.Context, cmd *cobra.Command) (*client, error) {
	logger := o.logger(cmd)
	backend := o.backend(cmd)
	c := &client{
		logger:    logger,
		backend:   backend,
		cache:     cache.NewMemory(),
		navigator: &dashboard.RecordingNavigator{},
		notifier:  dashboard.LogNotifier{Logger: logger},
	}
	c.auth = dashboard.NewAuthProvider(backend, c.cache, c.navigator, o.authConfig(), logger)
	c.auth.Start(ctx)
	if c.auth.Unauthenticated() {
		c.auth.Close()
		return nil, errNotSignedIn
	}
	c.fetcher = dashboard.NewFetcher(o.apiURL, c.auth, dashboard.WithFetcherLogger(logger))
	return c, nil
}

func (o *options) authConfig() dashboard.AuthConfig {
	return dashboard.AuthConfig{
		DevBypassEmail: o.devBypassEmail,
		AuthEnabled:    o.authEnabled,
		AppEnv:         o.appEnv,
	}
}

func (c *client) storeDeps() dashboard.StoreDeps {
	return dashboard.StoreDeps{
		Fetcher:   c.fetcher,
		Gate:      c.auth,
		Notifier:  c.notifier,
		Navigator: c.navigator,
		Logger:    c.logger,
	}
}

func (c *client) Close() {
	c.auth.Close()
}
