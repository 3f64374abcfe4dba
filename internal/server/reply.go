package server

import (
	"github.com/nerrad567/diagbridge/internal/bus"
	"github.com/nerrad567/diagbridge/internal/task"
)

// invocationReplier answers a bus call with the outcome of its task.
type invocationReplier struct {
	conn bus.Connector
	inv  *bus.Invocation
}

func (r invocationReplier) Return(result any) {
	r.conn.ReturnResponse(r.inv, result)
}

func (r invocationReplier) ReturnError(err *task.Error) {
	replyError(r.conn, r.inv, err)
}

// ErrorName returns the bus error name reported for kind.
func ErrorName(kind task.Kind) string {
	return ErrorPrefix + string(kind)
}

func replyError(conn bus.Connector, inv *bus.Invocation, err error) {
	e := task.AsError(err)
	conn.ReturnError(inv, ErrorName(e.Kind), e.Message)
}
