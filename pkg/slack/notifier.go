package slack

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/tarsy-oss/tarsy/pkg/hooks"
)

// postTimeout bounds one chat.postMessage call.
const postTimeout = 10 * time.Second

// Notifier posts a message when a session reaches a terminal status.
// Implements hooks.Subscriber; returns nil from NewNotifier when Slack is
// not configured (the caller simply doesn't register it).
type Notifier struct {
	api     *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewNotifier creates a notifier, or nil when token/channel are empty.
func NewNotifier(token, channel string) *Notifier {
	if token == "" || channel == "" {
		return nil
	}
	return &Notifier{
		api:     goslack.New(token),
		channel: channel,
		logger:  slog.Default().With("component", "slack-notifier"),
	}
}

// NewNotifierWithAPIURL targets a custom API URL. Testing only.
func NewNotifierWithAPIURL(token, channel, apiURL string) *Notifier {
	return &Notifier{
		api:     goslack.New(token, goslack.OptionAPIURL(apiURL)),
		channel: channel,
		logger:  slog.Default().With("component", "slack-notifier"),
	}
}

// Name identifies the subscriber in bus logs.
func (n *Notifier) Name() string { return "slack" }

// OnSessionLifecycle posts on session completion; other transitions are
// ignored.
func (n *Notifier) OnSessionLifecycle(event hooks.SessionLifecycleEvent) error {
	if event.Kind != hooks.LifecycleSessionCompleted {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
	defer cancel()

	blocks := BuildSessionMessage(event.SessionID, event.ChainID, event.Status, event.Detail)
	_, _, err := n.api.PostMessageContext(ctx, n.channel, goslack.MsgOptionBlocks(blocks...))
	if err != nil {
		// Fail-open: the bus logs the error; delivery never affects the pipeline
		return fmt.Errorf("chat.postMessage failed: %w", err)
	}

	n.logger.Info("Posted session notification",
		"session_id", event.SessionID, "status", event.Status)
	return nil
}

// OnLLMInteraction implements hooks.Subscriber (ignored).
func (n *Notifier) OnLLMInteraction(hooks.LLMInteractionEvent) error { return nil }

// OnMCPInteraction implements hooks.Subscriber (ignored).
func (n *Notifier) OnMCPInteraction(hooks.MCPInteractionEvent) error { return nil }
