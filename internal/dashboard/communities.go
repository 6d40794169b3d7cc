package dashboard

import (
	"context"
	"net/http"
	"net/url"
	"sync"
)

type FeedState struct {
	Items   []ActivityItem
	Stats   FeedStats
	Loading bool
	Err     string
}

type Communities struct {
	*listLoader[Community]

	feedMu sync.Mutex
	feed   FeedState
}

func NewCommunities(deps StoreDeps) *Communities {
	return &Communities{listLoader: newListLoader[Community]("communities", "/api/communities", deps)}
}

func (c *Communities) Get(id string) (Community, bool) {
	for _, community := range c.State().Data {
		if community.ID == id {
			return community, true
		}
	}
	return Community{}, false
}

func (c *Communities) Join(ctx context.Context, id string) error {
	return c.setMembership(ctx, id, true)
}

func (c *Communities) Leave(ctx context.Context, id string) error {
	return c.setMembership(ctx, id, false)
}

func (c *Communities) setMembership(ctx context.Context, id string, member bool) error {
	action := "leave"
	if member {
		action = "join"
	}
	env := c.deps.Fetcher.Do(ctx, "/api/communities/"+url.PathEscape(id)+"/"+action, RequestOptions{Method: http.MethodPost})
	if err := envelopeError(env); err != nil {
		if env.Unauthorized() {
			c.deps.redirectToSignIn()
		} else {
			c.deps.Notifier.Notify(Notice{Level: NoticeError, Message: "Failed to " + action + " community: " + env.Error})
		}
		return err
	}
	c.patch(func(community *Community) {
		if community.ID == id {
			community.IsMember = member
		}
	})
	return nil
}

// Feed loads the community feed for the signed-in user.
func (c *Communities) Feed(ctx context.Context) {
	if c.deps.Gate != nil && c.deps.Gate.Unauthenticated() {
		return
	}
	c.feedMu.Lock()
	if c.feed.Loading {
		c.feedMu.Unlock()
		return
	}
	c.feed.Loading = true
	c.feed.Err = ""
	c.feedMu.Unlock()

	env := c.deps.Fetcher.Do(ctx, "/api/dashboard/community-feed", RequestOptions{})
	var payload struct {
		RecentActivity []ActivityItem `json:"recentActivity"`
		Stats          FeedStats      `json:"stats"`
	}
	err := envelopeError(env)
	if err == nil {
		err = env.Decode(&payload)
	}

	c.feedMu.Lock()
	c.feed.Loading = false
	if err != nil {
		c.feed.Err = err.Error()
		c.feed.Items = []ActivityItem{}
	} else {
		if payload.RecentActivity == nil {
			payload.RecentActivity = []ActivityItem{}
		}
		c.feed.Items = payload.RecentActivity
		c.feed.Stats = payload.Stats
	}
	c.feedMu.Unlock()

	switch {
	case env.Unauthorized():
		c.deps.redirectToSignIn()
	case err != nil:
		c.deps.Logger.Warn().Err(err).Msg("community feed failed")
		c.deps.Notifier.Notify(Notice{Level: NoticeError, Message: "Failed to load community feed"})
	}
}

func (c *Communities) FeedState() FeedState {
	c.feedMu.Lock()
	defer c.feedMu.Unlock()
	state := c.feed
	state.Items = append([]ActivityItem(nil), c.feed.Items...)
	return state
}
