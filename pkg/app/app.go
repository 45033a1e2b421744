// Package app wires the chatbridge process together: configuration, logging,
// the automation driver, the session registry and the request dispatcher. It
// is the lifecycle controller the dispatcher escalates fatal errors to.
package app

import (
	"fmt"
	"sync"

	"github.com/entrhq/chatbridge/pkg/broker"
	"github.com/entrhq/chatbridge/pkg/chatsite"
	"github.com/entrhq/chatbridge/pkg/config"
	"github.com/entrhq/chatbridge/pkg/driver"
	"github.com/entrhq/chatbridge/pkg/logging"
)

// App owns every long-lived component of one chatbridge process.
type App struct {
	cfg config.Config
	log *logging.Logger

	drv        driver.Driver
	dispatcher *broker.Dispatcher

	started      bool
	done         chan struct{}
	shutdownOnce sync.Once
}

// New builds an App around the given configuration.
func New(cfg config.Config) *App {
	return &App{
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// Initialize brings up logging and the browser driver and assembles the
// broker on top of them. It must be called once before Start.
func (a *App) Initialize() error {
	log, err := logging.NewLogger("app")
	if err != nil {
		// The fallback logger is usable; note the degradation and go on.
		log.Warnf("file logging unavailable: %v", err)
	}
	a.log = log

	drv, err := driver.NewPlaywright(driver.Options{
		Headless:        a.cfg.Headless,
		ViewportWidth:   a.cfg.ViewportWidth,
		ViewportHeight:  a.cfg.ViewportHeight,
		PageLoadTimeout: float64(a.cfg.PageLoadTimeout.Milliseconds()),
	})
	if err != nil {
		return fmt.Errorf("starting automation driver: %w", err)
	}
	a.drv = drv

	return a.assemble(drv)
}

// InitializeWithDriver is Initialize with a caller-supplied driver, used by
// tests and by embedders that manage the browser themselves.
func (a *App) InitializeWithDriver(drv driver.Driver) error {
	a.log = logging.Discard()
	a.drv = drv
	return a.assemble(drv)
}

func (a *App) assemble(drv driver.Driver) error {
	// The driver starts with exactly the control window open.
	handles, err := drv.WindowHandles()
	if err != nil {
		return fmt.Errorf("listing windows: %w", err)
	}
	if len(handles) == 0 {
		return fmt.Errorf("driver reported no control window")
	}
	control := handles[0]

	alloc := broker.NewWindowAllocator(drv, control)
	flow := chatsite.New(a.cfg.ServiceURL)
	registry := broker.NewRegistry(drv, flow, alloc, a.cfg.MaxSessions, a.cfg.IdleTimeout, a.log)

	a.dispatcher = broker.NewDispatcher(registry, broker.DispatcherOptions{
		Port:          a.cfg.Port,
		AcceptTimeout: a.cfg.AcceptTimeout,
		LoopInterval:  a.cfg.LoopInterval,
		OnFatal: func() {
			a.log.Errorf("dispatcher failed fatally, shutting the process down")
			a.Shutdown()
		},
	}, a.log)
	return nil
}

// Start launches the dispatcher loop. On failure the driver is torn down
// before the error is returned.
func (a *App) Start() error {
	if err := a.dispatcher.Start(); err != nil {
		a.log.Errorf("starting dispatcher: %v", err)
		if quitErr := a.drv.Quit(); quitErr != nil {
			a.log.Errorf("quitting driver: %v", quitErr)
		}
		return err
	}
	a.started = true
	a.log.Infof("chatbridge listening on port %d", a.cfg.Port)

	go func() {
		a.dispatcher.Join()
		a.Shutdown()
	}()
	return nil
}

// Done is closed once the broker has fully shut down, whether by request or
// by fatal error.
func (a *App) Done() <-chan struct{} {
	return a.done
}

// IsActive reports whether the dispatcher loop is running.
func (a *App) IsActive() bool {
	return a.dispatcher != nil && a.dispatcher.IsActive()
}

// Shutdown stops the broker and releases every resource. Safe to call more
// than once and from any goroutine.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		if a.started {
			// The dispatcher tears the sessions and driver down as it
			// leaves the loop.
			a.dispatcher.RequestStop()
			a.dispatcher.Join()
		} else if a.drv != nil {
			if err := a.drv.Quit(); err != nil {
				a.log.Errorf("quitting driver: %v", err)
			}
		}
		if a.log != nil {
			a.log.Infof("chatbridge shut down")
			a.log.Close()
		}
		close(a.done)
	})
}
