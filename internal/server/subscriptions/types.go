package subscriptions

import (
	"time"

	"github.com/systemshift/whereabouts/internal/core"
)

// EventLocationChanged is the event type of every notification
const EventLocationChanged = "location.changed"

// Subscription is a webhook endpoint that receives location changes
type Subscription struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Webhook   string     `json:"webhook"`
	Created   time.Time  `json:"created"`
	LastFired *time.Time `json:"last_fired,omitempty"`
	FireCount int        `json:"fire_count"`
	FailCount int        `json:"fail_count"`
}

// Notification is the JSON body posted to a webhook
type Notification struct {
	ID               string       `json:"id"`
	Event            string       `json:"event"`
	SubscriptionID   string       `json:"subscription_id"`
	SubscriptionName string       `json:"subscription_name"`
	ItemID           string       `json:"item_id"`
	MovementID       string       `json:"movement_id"`
	Item             *core.Record `json:"item,omitempty"`
	MatchedAt        time.Time    `json:"matched_at"`
}

// ListSubscriptionsResponse is the API response for listing subscriptions
type ListSubscriptionsResponse struct {
	Subscriptions []Subscription `json:"subscriptions"`
	Count         int            `json:"count"`
}
