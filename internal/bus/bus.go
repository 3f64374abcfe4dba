package bus

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// Handle identifies one published interface. The zero Handle is never
// returned by a successful PublishObject.
type Handle uint64

// MethodHandler serves one method of a published interface. It runs on
// the dispatch goroutine and must not block.
type MethodHandler func(inv *Invocation)

// Methods maps method names to handlers.
type Methods map[string]MethodHandler

// Invocation is one method call waiting for its answer.
type Invocation struct {
	ID        string
	Sender    string
	Path      string
	Interface string
	Method    string
	Args      json.RawMessage

	answered atomic.Bool
}

// DecodeArgs unmarshals the call arguments into v. Missing arguments
// decode as the zero value.
func (inv *Invocation) DecodeArgs(v any) error {
	if len(inv.Args) == 0 {
		return nil
	}
	if err := json.Unmarshal(inv.Args, v); err != nil {
		return fmt.Errorf("decoding %s arguments: %w", inv.Method, err)
	}
	return nil
}

// Answered reports whether a reply has been sent.
func (inv *Invocation) Answered() bool {
	return inv.answered.Load()
}

// claim marks the invocation answered. Only the first caller wins.
func (inv *Invocation) claim() bool {
	return inv.answered.CompareAndSwap(false, true)
}

// Connector is the bus as seen by the bridge: object publication, method
// replies, signals and client tracking.
type Connector interface {
	PublishObject(path, iface string, methods Methods) (Handle, error)
	Unpublish(h Handle)
	Notify(path, iface, signal string, args any) error
	ReturnResponse(inv *Invocation, result any)
	ReturnError(inv *Invocation, name, message string)
	WatchClient(name string) error
	UnwatchClient(name string)
	SetClientLostHandler(fn func(name string))
}
