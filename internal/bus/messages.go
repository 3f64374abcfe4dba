package bus

import "encoding/json"

// callMessage is what a client publishes to invoke a method.
type callMessage struct {
	ID        string          `json:"id"`
	Sender    string          `json:"sender"`
	Interface string          `json:"interface"`
	Method    string          `json:"method"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// replyMessage answers one call. Exactly one of Result and Error is set.
type replyMessage struct {
	ID     string      `json:"id"`
	Result any         `json:"result,omitempty"`
	Error  *replyError `json:"error,omitempty"`
}

type replyError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// signalMessage is broadcast on an object's signal topic.
type signalMessage struct {
	Interface string `json:"interface"`
	Signal    string `json:"signal"`
	Args      any    `json:"args,omitempty"`
}

// Client presence payloads.
const (
	presenceOnline  = "online"
	presenceOffline = "offline"
)
