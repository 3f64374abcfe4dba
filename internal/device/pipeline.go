package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/diagbridge/internal/bus"
	"github.com/nerrad567/diagbridge/internal/task"
)

// Construction steps. Device.constructStep counts the completed ones.
const (
	stepSubscribe = iota
	stepPublish
	stepCount
)

// constructionSource is the queue source used for construction pipelines.
const constructionSource = "diagbridge.construction"

var errDeviceDestroyed = errors.New("device: destroyed during construction")

// construction tracks one pipeline run for a device that is not yet
// registered. At most one per UDN is live in Registry.building.
type construction struct {
	udn     string
	dev     *Device
	address string
	queue   *task.Queue
}

type stepFunc func(ctx context.Context, rec *construction) error

// startConstructionLocked creates a pipeline run for dev through c,
// registers it and returns it. Steps already completed are not queued.
// The caller starts the queue after releasing the lock. A non-nil after
// makes the run wait for the run it supersedes to finish.
func (r *Registry) startConstructionLocked(dev *Device, c *Context, after <-chan struct{}) *construction {
	rec := &construction{udn: dev.udn, dev: dev, address: c.address}

	opts := []task.QueueOption{
		task.WithAutoClose(),
		task.WithFinally(func(cancelled bool) { r.constructionEnd(rec, cancelled) }),
	}
	if after != nil {
		opts = append(opts, task.WithAfter(after))
	}
	rec.queue = task.NewQueue(task.Key{Source: constructionSource, Sink: dev.path}, opts...)

	steps := []struct {
		name string
		run  stepFunc
	}{
		{"subscribe", r.subscribeStep},
		{"publish", r.publishStep},
	}
	for i, s := range steps {
		if dev.constructStep > i {
			continue
		}
		// A fresh queue is never closed.
		_ = rec.queue.Add(task.New(s.name, r.runStep(rec, i, s.run), nil))
	}

	r.building[dev.udn] = rec
	r.log().Debug("construction started",
		"udn", dev.udn,
		"address", c.address,
		"from_step", dev.constructStep,
	)
	return rec
}

// runStep wraps a step so it is skipped when an earlier run already
// completed it, and so a failure cancels the whole run.
func (r *Registry) runStep(rec *construction, index int, step stepFunc) task.Func {
	return func(ctx context.Context) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		r.mu.Lock()
		skip := rec.dev.destroyed || rec.dev.constructStep > index
		r.mu.Unlock()
		if skip {
			return nil, nil
		}

		if err := step(ctx, rec); err != nil {
			if ctx.Err() == nil {
				r.log().Error("construction step failed",
					"udn", rec.udn,
					"step", index,
					"error", err,
				)
			}
			rec.queue.Cancel()
			return nil, err
		}

		r.mu.Lock()
		if rec.dev.constructStep == index {
			rec.dev.constructStep++
		}
		r.mu.Unlock()
		return nil, nil
	}
}

func (r *Registry) subscribeStep(_ context.Context, rec *construction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.dev.destroyed || len(rec.dev.contexts) == 0 {
		return errDeviceDestroyed
	}
	r.syncSubscriptionLocked(rec.dev)
	return nil
}

// publishStep publishes every configured interface at the device path.
// Handles obtained before a failure are kept on the device so teardown
// unpublishes them.
func (r *Registry) publishStep(_ context.Context, rec *construction) error {
	dev := rec.dev

	var (
		handles []bus.Handle
		err     error
	)
	for _, iface := range r.interfaces {
		h, pubErr := r.conn.PublishObject(dev.path, iface.Name, iface.Methods)
		if pubErr != nil {
			err = fmt.Errorf("publishing %s: %w", iface.Name, pubErr)
			break
		}
		handles = append(handles, h)
	}

	r.mu.Lock()
	dead := dev.destroyed
	if !dead {
		dev.handles = append(dev.handles, handles...)
	}
	r.mu.Unlock()

	if dead {
		r.unpublish(handles)
		return errDeviceDestroyed
	}
	return err
}

// constructionEnd is the finally callback of every pipeline run. A run
// that is no longer the registered one was superseded and does nothing.
func (r *Registry) constructionEnd(rec *construction, cancelled bool) {
	r.mu.Lock()
	if r.building[rec.udn] != rec {
		r.mu.Unlock()
		return
	}
	delete(r.building, rec.udn)

	dev := rec.dev
	if cancelled || dev.destroyed || len(dev.contexts) == 0 || dev.constructStep < stepCount {
		handles := dev.destroyLocked()
		r.mu.Unlock()
		r.unpublish(handles)
		r.log().Info("device construction abandoned", "udn", rec.udn, "path", dev.path)
		return
	}

	r.devices[rec.udn] = dev
	found := r.found
	r.mu.Unlock()

	r.log().Info("device found", "udn", rec.udn, "path", dev.path)
	if found != nil {
		found(dev)
	}
}
