package server

import (
	"context"

	"github.com/nerrad567/diagbridge/internal/bus"
	"github.com/nerrad567/diagbridge/internal/device"
	"github.com/nerrad567/diagbridge/internal/history"
	"github.com/nerrad567/diagbridge/internal/task"
)

// Manager methods.
const (
	MethodGetVersion = "GetVersion"
	MethodGetDevices = "GetDevices"
	MethodRescan     = "Rescan"
	MethodRelease    = "Release"
	MethodGetHistory = "GetHistory"
)

// Device methods outside BasicManagement.
const (
	MethodGet     = "Get"
	MethodGetAll  = "GetAll"
	MethodGetIcon = "GetIcon"
	MethodCancel  = "Cancel"
)

type propertyArgs struct {
	Interface string `json:"interface"`
	Name      string `json:"name"`
}

// iconArgs are accepted for compatibility; the advertised icon is always
// returned as is.
type iconArgs struct {
	MimeType   string `json:"mime_type"`
	Resolution string `json:"resolution"`
}

type testIDArgs struct {
	TestID uint32 `json:"test_id"`
}

// TestIDReply answers Ping, NSLookup and Traceroute.
type TestIDReply struct {
	TestID uint32 `json:"test_id"`
}

type historyArgs struct {
	UDN   string `json:"udn"`
	Limit int    `json:"limit"`
}

// deviceCall runs inside a task against the device owning the call path.
type deviceCall func(ctx context.Context, dev *device.Device, inv *bus.Invocation) (any, error)

// withArgs decodes the call arguments into A before running fn.
func withArgs[A any](fn func(ctx context.Context, dev *device.Device, args A) (any, error)) deviceCall {
	return func(ctx context.Context, dev *device.Device, inv *bus.Invocation) (any, error) {
		var args A
		if err := inv.DecodeArgs(&args); err != nil {
			return nil, task.Errorf(task.KindBadArgs, "Invalid arguments for %s", inv.Method)
		}
		return fn(ctx, dev, args)
	}
}

func (s *Service) deviceInterfaces() []device.Interface {
	return []device.Interface{
		{
			Name: device.InterfaceProperties,
			Methods: bus.Methods{
				MethodGet:    s.queued(withArgs(s.getProperty)),
				MethodGetAll: s.queued(withArgs(s.getAllProperties)),
			},
		},
		{
			Name: device.InterfaceDevice,
			Methods: bus.Methods{
				MethodGetIcon: s.queued(withArgs(s.getIcon)),
				MethodCancel:  s.cancel,
			},
		},
		{
			Name: device.InterfaceBasicManagement,
			Methods: bus.Methods{
				device.ActionGetTestInfo:         s.queued(withArgs(s.getTestInfo)),
				device.ActionCancelTest:          s.queued(withArgs(s.cancelTest)),
				device.ActionPing:                s.queued(withArgs(s.ping)),
				device.ActionGetPingResult:       s.queued(withArgs(s.getPingResult)),
				device.ActionNSLookup:            s.queued(withArgs(s.nsLookup)),
				device.ActionGetNSLookupResult:   s.queued(withArgs(s.getNSLookupResult)),
				device.ActionTraceroute:          s.queued(withArgs(s.traceroute)),
				device.ActionGetTracerouteResult: s.queued(withArgs(s.getTracerouteResult)),
			},
		},
	}
}

// queued turns a device call into a task on the caller's queue for the
// target path. The device is resolved when the task runs, so a call queued
// behind a slow one still fails cleanly if the device went away meanwhile.
func (s *Service) queued(call deviceCall) bus.MethodHandler {
	return func(inv *bus.Invocation) {
		s.watch(inv.Sender)

		t := task.New(inv.Method, func(ctx context.Context) (any, error) {
			dev, err := s.registry.Lookup(inv.Path)
			if err != nil {
				return nil, err
			}
			return call(ctx, dev, inv)
		}, invocationReplier{conn: s.conn, inv: inv})

		if err := s.processor.Add(task.Key{Source: inv.Sender, Sink: inv.Path}, t); err != nil {
			replyError(s.conn, inv, task.ErrDied)
		}
	}
}

// cancel aborts every outstanding call the sender made on this device.
func (s *Service) cancel(inv *bus.Invocation) {
	s.watch(inv.Sender)
	s.processor.CancelQueue(task.Key{Source: inv.Sender, Sink: inv.Path})
	s.conn.ReturnResponse(inv, nil)
}

func (s *Service) getProperty(_ context.Context, dev *device.Device, args propertyArgs) (any, error) {
	return dev.Property(args.Interface, args.Name)
}

func (s *Service) getAllProperties(_ context.Context, dev *device.Device, args propertyArgs) (any, error) {
	return dev.Properties(args.Interface)
}

func (s *Service) getIcon(ctx context.Context, dev *device.Device, _ iconArgs) (any, error) {
	return dev.Icon(ctx)
}

func (s *Service) getTestInfo(ctx context.Context, dev *device.Device, args testIDArgs) (any, error) {
	return dev.GetTestInfo(ctx, args.TestID)
}

func (s *Service) cancelTest(ctx context.Context, dev *device.Device, args testIDArgs) (any, error) {
	return nil, dev.CancelTest(ctx, args.TestID)
}

func (s *Service) ping(ctx context.Context, dev *device.Device, req device.PingRequest) (any, error) {
	id, err := dev.Ping(ctx, req)
	if err != nil {
		return nil, err
	}
	return TestIDReply{TestID: id}, nil
}

func (s *Service) nsLookup(ctx context.Context, dev *device.Device, req device.NSLookupRequest) (any, error) {
	id, err := dev.NSLookup(ctx, req)
	if err != nil {
		return nil, err
	}
	return TestIDReply{TestID: id}, nil
}

func (s *Service) traceroute(ctx context.Context, dev *device.Device, req device.TracerouteRequest) (any, error) {
	id, err := dev.Traceroute(ctx, req)
	if err != nil {
		return nil, err
	}
	return TestIDReply{TestID: id}, nil
}

func (s *Service) getPingResult(ctx context.Context, dev *device.Device, args testIDArgs) (any, error) {
	res, err := dev.GetPingResult(ctx, args.TestID)
	if err != nil {
		return nil, err
	}
	s.recordPing(dev, args.TestID, res)
	return res, nil
}

func (s *Service) getNSLookupResult(ctx context.Context, dev *device.Device, args testIDArgs) (any, error) {
	res, err := dev.GetNSLookupResult(ctx, args.TestID)
	if err != nil {
		return nil, err
	}
	s.recordNSLookup(dev, args.TestID, res)
	return res, nil
}

func (s *Service) getTracerouteResult(ctx context.Context, dev *device.Device, args testIDArgs) (any, error) {
	res, err := dev.GetTracerouteResult(ctx, args.TestID)
	if err != nil {
		return nil, err
	}
	s.recordTraceroute(dev, args.TestID, res)
	return res, nil
}

func (s *Service) managerMethods() bus.Methods {
	return bus.Methods{
		MethodGetVersion: s.getVersion,
		MethodGetDevices: s.getDevices,
		MethodRescan:     s.rescan,
		MethodRelease:    s.release,
		MethodGetHistory: s.getHistory,
	}
}

func (s *Service) getVersion(inv *bus.Invocation) {
	s.watch(inv.Sender)
	s.conn.ReturnResponse(inv, s.version)
}

func (s *Service) getDevices(inv *bus.Invocation) {
	s.watch(inv.Sender)
	s.conn.ReturnResponse(inv, s.registry.Paths())
}

func (s *Service) rescan(inv *bus.Invocation) {
	s.watch(inv.Sender)
	if err := s.registry.Rescan(); err != nil {
		replyError(s.conn, inv, task.Errorf(task.KindOperationFailed, "Rescan failed: %v", err))
		return
	}
	s.conn.ReturnResponse(inv, nil)
}

// release drops the sender: its outstanding calls are cancelled and it is
// no longer watched.
func (s *Service) release(inv *bus.Invocation) {
	if s.forget(inv.Sender) {
		s.conn.UnwatchClient(inv.Sender)
	}
	s.conn.ReturnResponse(inv, nil)
}

// getHistory reads the journal on the caller's queue for the manager path
// so the dispatch goroutine never waits on the database.
func (s *Service) getHistory(inv *bus.Invocation) {
	s.watch(inv.Sender)

	if s.history == nil {
		replyError(s.conn, inv, task.NewError(task.KindNotSupported, "Result journal is disabled"))
		return
	}

	var args historyArgs
	if err := inv.DecodeArgs(&args); err != nil {
		replyError(s.conn, inv, task.Errorf(task.KindBadArgs, "Invalid arguments for %s", inv.Method))
		return
	}

	t := task.New(inv.Method, func(ctx context.Context) (any, error) {
		entries, err := s.history.List(ctx, args.UDN, args.Limit)
		if err != nil {
			return nil, task.Errorf(task.KindOperationFailed, "Reading result journal failed: %v", err)
		}
		if entries == nil {
			entries = []history.Entry{}
		}
		return entries, nil
	}, invocationReplier{conn: s.conn, inv: inv})

	if err := s.processor.Add(task.Key{Source: inv.Sender, Sink: inv.Path}, t); err != nil {
		replyError(s.conn, inv, task.ErrDied)
	}
}
