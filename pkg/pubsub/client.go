package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/netcomp-backend/pkg/config"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

type Client struct {
	client   *pubsub.Client
	project  string
	cfg      config.PubSubConfig
	required []string
}

// NewClient opens a Pub/Sub v2 client. Each name in required is a subscription
// this process consumes; they are checked up front and again on Ping. A
// publish-only process passes none and Ping checks the domain topic instead.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger, required ...string) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}

	psClient, err := pubsub.NewClient(ctx, project, gcp.ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:   psClient,
		project:  project,
		cfg:      cfg,
		required: compact(required),
	}
	if len(c.required) > 0 {
		if err := c.checkSubscriptions(ctx); err != nil {
			_ = psClient.Close()
			return nil, err
		}
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project_id":    project,
			"subscriptions": c.required,
		}), "pubsub client initialized")
	}
	return c, nil
}

func compact(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (c *Client) checkSubscriptions(ctx context.Context) error {
	for _, name := range c.required {
		_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{
			Subscription: resourceName(c.project, "subscriptions", name),
		})
		if err := classify("subscription", name, err); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) checkTopic(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("topic name is required")
	}
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
		Topic: resourceName(c.project, "topics", name),
	})
	return classify("topic", name, err)
}

// CheckTopics verifies each named topic exists.
func (c *Client) CheckTopics(ctx context.Context, names ...string) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	for _, name := range names {
		if err := c.checkTopic(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// classify turns admin lookup errors into readable ones; v2 surfaces gRPC codes.
func classify(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", kind, name)
	default:
		return fmt.Errorf("checking %s %q: %w", kind, name, err)
	}
}

// resourceName expands a bare id into projects/<project>/<kind>/<id>. Names
// that are already fully qualified pass through unchanged.
func resourceName(project, kind, name string) string {
	name = strings.TrimSpace(name)
	if name == "" || project == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+kind+"/") {
		return name
	}
	return "projects/" + project + "/" + kind + "/" + name
}

// Subscriber returns a handle for a subscription id or resource name, or nil
// when the name is blank.
func (c *Client) Subscriber(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := resourceName(c.project, "subscriptions", name)
	if full == "" {
		return nil
	}
	return c.client.Subscriber(full)
}

func (c *Client) OrdersSubscription() *pubsub.Subscriber {
	return c.Subscriber(c.cfg.OrdersSubscription)
}

// DomainSubscription feeds the withdrawal notifier.
func (c *Client) DomainSubscription() *pubsub.Subscriber {
	return c.Subscriber(c.cfg.DomainSubscription)
}

// AnalyticsSubscription feeds the BigQuery settlement sink.
func (c *Client) AnalyticsSubscription() *pubsub.Subscriber {
	return c.Subscriber(c.cfg.AnalyticsSubscription)
}

// Publisher returns a handle for a topic id or resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := resourceName(c.project, "topics", name)
	if full == "" {
		return nil
	}
	return c.client.Publisher(full)
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	if len(c.required) == 0 {
		return c.checkTopic(ctx, c.cfg.DomainTopic)
	}
	return c.checkSubscriptions(ctx)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
