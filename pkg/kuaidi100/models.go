package kuaidi100

import (
	"encoding/json"
	"strconv"
	"strings"
)

// State is the provider's delivery state code.
type State int

const (
	StateUnknown        State = -1
	StateInTransit      State = 0
	StateCollected      State = 1
	StateException      State = 2
	StateDelivered      State = 3
	StateReturnRejected State = 4
	StateLocalDelivery  State = 5
	StateReturned       State = 6
	StateTransferred    State = 7
)

var stateNames = map[State]string{
	StateInTransit:      "in_transit",
	StateCollected:      "collected",
	StateException:      "exception",
	StateDelivered:      "delivered",
	StateReturnRejected: "return_rejected",
	StateLocalDelivery:  "local_delivery",
	StateReturned:       "returned",
	StateTransferred:    "transferred",
}

// String returns a readable name for the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// parseState accepts the provider's state either as "3" or 3.
func parseState(raw json.RawMessage) State {
	v := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if v == "" || v == "null" {
		return StateUnknown
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return StateUnknown
	}
	if _, ok := stateNames[State(n)]; !ok {
		return StateUnknown
	}
	return State(n)
}

// TrackingStatus is the subscription status carried by a push notification.
type TrackingStatus string

const (
	TrackingPolling   TrackingStatus = "polling"
	TrackingShutdown  TrackingStatus = "shutdown"
	TrackingAbort     TrackingStatus = "abort"
	TrackingUpdateAll TrackingStatus = "updateall"
)

// Valid reports whether s is one of the four statuses the provider pushes.
func (s TrackingStatus) Valid() bool {
	switch s {
	case TrackingPolling, TrackingShutdown, TrackingAbort, TrackingUpdateAll:
		return true
	}
	return false
}

// Logistics is the normalized shipment record shared by notifications and queries.
type Logistics struct {
	State     State        `json:"state"`
	Signed    bool         `json:"signed"`
	WaybillNo string       `json:"waybillNo"`
	Company   string       `json:"company"`
	Items     []TrackEvent `json:"items,omitempty"` // nil when upstream sent no data block
}

// TrackEvent is one checkpoint of a shipment, in the order the provider sent it.
type TrackEvent struct {
	Time     string `json:"time"` // YYYY-MM-DD HH:MM:SS
	State    string `json:"state"`
	Desc     string `json:"desc"`
	AreaName string `json:"areaName,omitempty"`
}

// Tracking describes the state of a subscription as reported in a notification.
type Tracking struct {
	Status  TrackingStatus `json:"status"`
	Message string         `json:"message"`
	// Fake is set when the provider aborted tracking because the carrier has
	// no record of the waybill.
	Fake bool `json:"fake"`
	// SuggestedCompany is the carrier code the provider detected instead of
	// the subscribed one (comNew).
	SuggestedCompany string `json:"suggestedCompany,omitempty"`
	AutoCheck        bool   `json:"autoCheck"`
}

// NotificationResult is a verified and decoded push notification.
type NotificationResult struct {
	Tracking Tracking   `json:"tracking"`
	Domestic Logistics  `json:"domestic"`
	Overseas *Logistics `json:"overseas,omitempty"`
}

// TrackingOptions are the per-call overrides for Track. Unset fields are not
// sent to the provider.
type TrackingOptions struct {
	Company         Optional[string]
	From            Optional[string]
	To              Optional[string]
	Salt            Optional[string]
	NotificationURL Optional[string]
	International   Optional[bool] // defaults to true
}

// QueryRequest identifies a waybill for a synchronous lookup.
type QueryRequest struct {
	Company   string
	WaybillNo string
	From      Optional[string]
	To        Optional[string]
}
