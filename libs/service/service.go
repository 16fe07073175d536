package service

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/notarynet/notary/libs/log"
)

var (
	// ErrAlreadyStarted is returned when starting an already running service.
	ErrAlreadyStarted = errors.New("already started")

	// ErrAlreadyStopped is returned when stopping an already stopped service.
	ErrAlreadyStopped = errors.New("already stopped")

	// ErrNotStarted is returned when stopping a service that never ran.
	ErrNotStarted = errors.New("not started")
)

// Service is anything with a start/stop lifecycle. Start runs the service
// until it is stopped explicitly or the context given to Start terminates.
type Service interface {
	Start(context.Context) error

	// IsRunning reports whether the service has started and not yet stopped.
	IsRunning() bool

	// String names the service for logs.
	String() string

	// Wait blocks until the service has fully stopped.
	Wait()
}

// Implementation is what a concrete service supplies to BaseService.
// OnStart and OnStop are each called at most once.
type Implementation interface {
	Service

	OnStart(context.Context) error
	OnStop()
}

// BaseService implements the start/stop bookkeeping shared by every
// long-lived component: idempotent Start/Stop guarded by atomic flags, a
// quit channel for Wait, and automatic shutdown when the Start context is
// canceled.
//
// Concrete services embed BaseService and override OnStart/OnStop:
//
//	type GossipEngine struct {
//		service.BaseService
//		...
//	}
//
//	func NewGossipEngine(logger log.Logger) *GossipEngine {
//		g := &GossipEngine{...}
//		g.BaseService = *service.NewBaseService(logger, "GossipEngine", g)
//		return g
//	}
//
// Callers must not invoke Start and Stop concurrently. Stop without a prior
// Start returns ErrNotStarted.
type BaseService struct {
	logger  log.Logger
	name    string
	started uint32 // atomic
	stopped uint32 // atomic
	quit    chan struct{}

	impl Implementation
}

// NewBaseService creates the embedded bookkeeping for impl.
func NewBaseService(logger log.Logger, name string, impl Implementation) *BaseService {
	return &BaseService{
		logger: logger,
		name:   name,
		quit:   make(chan struct{}),
		impl:   impl,
	}
}

// Start calls OnStart and then watches ctx: when ctx terminates first, the
// service is stopped. An error from OnStart leaves the service startable
// again.
func (bs *BaseService) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&bs.started, 0, 1) {
		return ErrAlreadyStarted
	}

	if atomic.LoadUint32(&bs.stopped) == 1 {
		bs.logger.Error("not starting service; already stopped", "service", bs.name)
		atomic.StoreUint32(&bs.started, 0)
		return ErrAlreadyStopped
	}

	bs.logger.Info("starting service", "service", bs.name)

	if err := bs.impl.OnStart(ctx); err != nil {
		atomic.StoreUint32(&bs.started, 0)
		return err
	}

	go func() {
		select {
		case <-bs.quit:
			// stopped explicitly, nothing to do
		case <-ctx.Done():
			if !bs.impl.IsRunning() {
				return
			}

			if err := bs.Stop(); err != nil {
				bs.logger.Error("error stopping service on context cancel",
					"service", bs.name,
					"err", err.Error())
			}
		}
	}()

	return nil
}

// Stop calls OnStop and closes the quit channel, releasing Wait.
func (bs *BaseService) Stop() error {
	if !atomic.CompareAndSwapUint32(&bs.stopped, 0, 1) {
		return ErrAlreadyStopped
	}

	if atomic.LoadUint32(&bs.started) == 0 {
		bs.logger.Error("not stopping service; never started", "service", bs.name)
		atomic.StoreUint32(&bs.stopped, 0)
		return ErrNotStarted
	}

	bs.logger.Info("stopping service", "service", bs.name)
	bs.impl.OnStop()
	close(bs.quit)

	return nil
}

// IsRunning implements Service.
func (bs *BaseService) IsRunning() bool {
	return atomic.LoadUint32(&bs.started) == 1 && atomic.LoadUint32(&bs.stopped) == 0
}

// Wait implements Service, blocking until Stop has completed.
func (bs *BaseService) Wait() { <-bs.quit }

// String implements Service.
func (bs *BaseService) String() string { return bs.name }

// OnStart is a no-op default so implementations may omit it.
func (bs *BaseService) OnStart(ctx context.Context) error { return nil }

// OnStop is a no-op default so implementations may omit it.
func (bs *BaseService) OnStop() {}
