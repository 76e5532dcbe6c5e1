package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/storefront-checkout/pkg/config"
)

func TestTopicName(t *testing.T) {
	c := &Client{projectID: "storefront-prod"}
	for in, want := range map[string]string{
		"orders":                       "projects/storefront-prod/topics/orders",
		" orders ":                     "projects/storefront-prod/topics/orders",
		"projects/other/topics/orders": "projects/other/topics/orders",
		"":                             "",
	} {
		if got := c.topicName(in); got != want {
			t.Errorf("topicName(%q) = %q, want %q", in, got, want)
		}
	}
	if got := (&Client{}).topicName("orders"); got != "" {
		t.Errorf("expected no name without a project, got %q", got)
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()
	if _, err := NewClient(ctx, config.GCPConfig{ProjectID: " "}, config.PubSubConfig{OrdersTopic: "orders"}, nil); !errors.Is(err, errProjectIDRequired) {
		t.Errorf("expected project id error, got %v", err)
	}
	if _, err := NewClient(ctx, config.GCPConfig{ProjectID: "p"}, config.PubSubConfig{}, nil); !errors.Is(err, errTopicRequired) {
		t.Errorf("expected topic error, got %v", err)
	}
}

func TestUnconnectedClient(t *testing.T) {
	for _, c := range []*Client{nil, {projectID: "p"}} {
		if c.Publisher("orders") != nil {
			t.Error("expected no publisher")
		}
		if err := c.Ping(context.Background()); !errors.Is(err, errClosed) {
			t.Errorf("expected closed error, got %v", err)
		}
		if err := c.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	}
}
