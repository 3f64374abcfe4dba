package gateway

import (
	"github.com/nerrad567/diagbridge/internal/remote"
)

// advert is the retained payload describing one device on one path.
// Embedded devices are nested recursively.
type advert struct {
	remote.Descriptor
	Services []serviceAdvert `json:"services"`
	Devices  []advert        `json:"devices,omitempty"`
}

type serviceAdvert struct {
	ServiceType string `json:"service_type"`
	ServiceID   string `json:"service_id,omitempty"`
}

// actionRequest is sent to the gateway to invoke an action.
type actionRequest struct {
	ID      string       `json:"id"`
	ReplyTo string       `json:"reply_to"`
	Service string       `json:"service"`
	Action  string       `json:"action"`
	Args    []remote.Arg `json:"args"`
}

// actionReply answers an actionRequest. Exactly one of Out and Error is
// meaningful.
type actionReply struct {
	ID    string            `json:"id"`
	Out   map[string]string `json:"out,omitempty"`
	Error *actionFault      `json:"error,omitempty"`
}

type actionFault struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

// subscriptionLostVariable is the pseudo variable the gateway publishes
// when a device stops renewing its event subscription.
const subscriptionLostVariable = "$lost"
