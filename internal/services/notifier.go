package services

import (
	"fmt"
	"log/slog"

	pubnub "github.com/pubnub/go"
)

// PubNubNotifier pushes messages to per-user PubNub channels.
type PubNubNotifier struct {
	pn *pubnub.PubNub
}

func NewPubNubNotifier(pn *pubnub.PubNub) *PubNubNotifier {
	return &PubNubNotifier{pn: pn}
}

func (n *PubNubNotifier) Push(userID string, message map[string]any) {
	if n.pn == nil {
		return
	}

	channel := fmt.Sprintf("user-%s", userID)
	_, _, err := n.pn.Publish().
		Channel(channel).
		Message(message).
		Execute()
	if err != nil {
		slog.Error("pubnub publish failed", "channel", channel, "error", err)
	}
}

// NopNotifier drops all messages. Used when PubNub is not configured.
type NopNotifier struct{}

func (NopNotifier) Push(string, map[string]any) {}
