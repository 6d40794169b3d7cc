package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"terravest/api/internal/dashboard"
)

func newSignUpCmd(opts *options) *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			userID, err := opts.backend(cmd).SignUp(ctx, email, password, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s\n", userID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newSignInCmd(opts *options) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in and print the session tokens as shell exports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			sess, err := opts.backend(cmd).SignIn(ctx, email, password)
			if err != nil {
				return err
			}
			printTokens(cmd.OutOrStdout(), sess)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newRefreshCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rotate the refresh token and print the new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			sess, err := opts.backend(cmd).RefreshSession(ctx)
			if err != nil {
				return err
			}
			printTokens(cmd.OutOrStdout(), sess)
			return nil
		},
	}
}

func printTokens(w io.Writer, sess *dashboard.Session) {
	fmt.Fprintf(w, "export TERRAVEST_ACCESS_TOKEN=%s\n", sess.AccessToken)
	fmt.Fprintf(w, "export TERRAVEST_REFRESH_TOKEN=%s\n", sess.RefreshToken)
	fmt.Fprintf(w, "# user %s <%s>, access token expires %s\n", sess.UserID, sess.Email, sess.ExpiresAt.Format(time.RFC3339))
}

func newWhoAmICmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user and profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			c, err := opts.connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			snap := c.auth.Snapshot()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user:  %s <%s>\n", snap.User.ID, snap.User.Email)
			if snap.Profile != nil {
				fmt.Fprintf(out, "name:  %s\n", snap.Profile.DisplayName)
				fmt.Fprintf(out, "tier:  %s\n", snap.Profile.Tier)
				fmt.Fprintf(out, "score: %.1f\n", snap.Profile.ImpactScore)
			}
			if snap.Session != nil && snap.Session.DevBypass {
				fmt.Fprintln(out, "development bypass session")
			}
			return nil
		},
	}
}

func newCompaniesCmd(opts *options) *cobra.Command {
	var (
		filter dashboard.CompanyFilter
		top    int
	)
	cmd := &cobra.Command{
		Use:   "companies",
		Short: "List companies, optionally filtered",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			c, err := opts.connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			companies := dashboard.NewCompanies(c.storeDeps())
			companies.Fetch(ctx)
			if state := companies.State(); state.Err != "" {
				return fmt.Errorf("load companies: %s", state.Err)
			}

			var list []dashboard.Company
			if top > 0 {
				list = companies.TopByScore(top)
			} else {
				list = companies.Filter(filter)
			}
			out := cmd.OutOrStdout()
			for _, company := range list {
				saved := " "
				if company.Saved {
					saved = "*"
				}
				fmt.Fprintf(out, "%s %-20s %-18s %5.1f  %s\n", saved, company.ID, company.Sector, company.Score, company.Name)
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "no companies match")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&filter.Query, "query", "q", "", "Match name, description, mission or sector")
	cmd.Flags().StringVar(&filter.Sector, "sector", "", "Only this sector")
	cmd.Flags().Float64Var(&filter.MinScore, "min-score", 0, "Minimum impact score")
	cmd.Flags().BoolVar(&filter.SavedOnly, "saved", false, "Only companies on the watchlist")
	cmd.Flags().IntVar(&top, "top", 0, "Show the N highest scoring companies instead of filtering")
	return cmd
}

func newCommunitiesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "communities",
		Short: "List communities and membership",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			c, err := opts.connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			communities := dashboard.NewCommunities(c.storeDeps())
			communities.Fetch(ctx)
			state := communities.State()
			if state.Err != "" {
				return fmt.Errorf("load communities: %s", state.Err)
			}
			out := cmd.OutOrStdout()
			for _, community := range state.Data {
				member := " "
				if community.IsMember {
					member = "+"
				}
				ambassador := "-"
				if community.FeaturedAmbassador != nil {
					ambassador = community.FeaturedAmbassador.DisplayName
				}
				fmt.Fprintf(out, "%s %-16s %-22s company=%s ambassadors=%d featured=%s\n",
					member, community.ID, community.Name, community.Company.Name, community.AmbassadorCount, ambassador)
			}
			return nil
		},
	}
}

func newMembershipCmd(opts *options, action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <community-id>",
		Short: strings.ToUpper(action[:1]) + action[1:] + " a community",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			c, err := opts.connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			communities := dashboard.NewCommunities(c.storeDeps())
			if action == "join" {
				err = communities.Join(ctx, args[0])
			} else {
				err = communities.Leave(ctx, args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: ok\n", action, args[0])
			return nil
		},
	}
}

func newFeedCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "feed",
		Short: "Show recent activity across joined communities",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			c, err := opts.connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			communities := dashboard.NewCommunities(c.storeDeps())
			communities.Feed(ctx)
			feed := communities.FeedState()
			if feed.Err != "" {
				return fmt.Errorf("load feed: %s", feed.Err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "communities joined: %d, posts created: %d\n", feed.Stats.CommunitiesJoined, feed.Stats.PostsCreated)
			for _, item := range feed.Items {
				fmt.Fprintf(out, "%s  [%s] %s\n", item.CreatedAt.Format(time.RFC3339), item.CommunityName, item.Title)
			}
			return nil
		},
	}
}

func newSaveCmd(opts *options, save bool) *cobra.Command {
	use, short := "save", "Add a company to the watchlist"
	if !save {
		use, short = "unsave", "Remove a company from the watchlist"
	}
	var delay time.Duration
	cmd := &cobra.Command{
		Use:   use + " <company-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			c, err := opts.connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			saved := dashboard.NewSavedSet(c.fetcher)
			watchlist := dashboard.NewWatchlistView(c.fetcher)
			toggle := dashboard.NewSaveToggle(dashboard.SaveToggleConfig{
				CompanyID:      args[0],
				InitiallySaved: !save,
				ReconcileDelay: delay,
			}, dashboard.ToggleDeps{
				Auth:      c.auth,
				Fetcher:   c.fetcher,
				Cache:     c.cache,
				Saved:     saved,
				Watchlist: watchlist,
				Navigator: c.navigator,
				Notifier:  c.notifier,
				Logger:    c.logger,
			})
			defer toggle.Close()

			if err := toggle.ToggleSave(ctx); err != nil {
				return err
			}
			waitForRefresh(ctx.Done(), c.navigator, delay+5*time.Second)
			printWatchlist(cmd.OutOrStdout(), watchlist.Entries())
			return nil
		},
	}
	cmd.Flags().DurationVar(&delay, "reconcile-delay", time.Second, "Wait before re-reading the watchlist")
	return cmd
}

// waitForRefresh blocks until the navigator has seen a page refresh.
func waitForRefresh(done <-chan struct{}, nav *dashboard.RecordingNavigator, limit time.Duration) {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	for nav.Refreshes() == 0 {
		select {
		case <-done:
			return
		case <-deadline.C:
			return
		case <-ticker.C:
		}
	}
}

func newWatchlistCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watchlist",
		Short: "Show saved companies",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			c, err := opts.connect(ctx, cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			watchlist := dashboard.NewWatchlistView(c.fetcher)
			if err := watchlist.Refresh(ctx); err != nil {
				return err
			}
			printWatchlist(cmd.OutOrStdout(), watchlist.Entries())
			return nil
		},
	}
}

func printWatchlist(w io.Writer, entries []dashboard.WatchlistEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "watchlist is empty")
		return
	}
	for _, entry := range entries {
		fmt.Fprintf(w, "%-20s %s (saved %s)\n", entry.CompanyID, entry.Company.Name, entry.CreatedAt.Format("2006-01-02"))
	}
}
