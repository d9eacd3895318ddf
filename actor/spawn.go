package actor

import "context"

// SpawnOption configures Spawn and SpawnBlocking: the monitored, linked,
// detached, hidden, blocking-API, and lazy-init spawn flavors, expressed as
// a functional-option set.
type SpawnOption func(*spawnConfig)

type spawnConfig struct {
	monitors  []TellOnlyRef[Message]
	links     []TellOnlyRef[Message]
	hidden    bool
	lazyInit  bool
	scheduler *Scheduler
}

// Monitored registers observer as a monitor of the spawned actor, delivered
// a DownMessage on termination.
func Monitored(observer TellOnlyRef[Message]) SpawnOption {
	return func(cfg *spawnConfig) {
		cfg.monitors = append(cfg.monitors, observer)
	}
}

// Linked establishes a link between the spawned actor and peer at spawn
// time via ScheduledActor.Link, which is bidirectional when peer is another
// ScheduledActor's Self ref.
func Linked(peer TellOnlyRef[Message]) SpawnOption {
	return func(cfg *spawnConfig) {
		cfg.links = append(cfg.links, peer)
	}
}

// Hidden excludes the spawned actor from the ActorSystem's
// AwaitAllActorsDone accounting: the system's graceful
// shutdown does not wait on it, and Shutdown does not call its Stop. Useful
// for housekeeping actors (metrics samplers, log flushers) that should
// outlive the application's main workflow until the process itself exits.
func Hidden() SpawnOption {
	return func(cfg *spawnConfig) { cfg.hidden = true }
}

// Detached runs the spawned actor on its own dedicated goroutine rather
// than cooperatively scheduled over a bounded worker pool, clearing any
// scheduler a preceding OnScheduler option selected. It is mutually
// exclusive with OnScheduler; the last one applied wins.
func Detached() SpawnOption {
	return func(cfg *spawnConfig) { cfg.scheduler = nil }
}

// OnScheduler runs the spawned actor as a Resumable over sched's worker pool
// instead of giving it a dedicated goroutine.
// It is mutually exclusive with Detached; the last one applied wins.
func OnScheduler(sched *Scheduler) SpawnOption {
	return func(cfg *spawnConfig) {
		cfg.scheduler = sched
	}
}

// LazyInit defers starting the actor's resume loop until its first envelope
// arrives, rather than immediately upon Spawn returning. This
// avoids spinning up a goroutine (or scheduling onto the cooperative pool)
// for an actor that a caller constructs well ahead of its first use.
func LazyInit() SpawnOption {
	return func(cfg *spawnConfig) { cfg.lazyInit = true }
}

// Spawn constructs, registers, and starts a ScheduledActor under sys
// according to opts, the spawn surface for the
// dynamically-typed event-driven actor (as opposed to ServiceKey.Spawn,
// which spawns a statically-typed Actor[M,R]). Unless Hidden is given, the
// actor participates in sys's AwaitAllActorsDone / Shutdown accounting the
// same way a typed Actor[M,R] does.
func Spawn(sys *ActorSystem, id string, behavior *Behavior, opts ...SpawnOption) *ScheduledActor {
	cfg := &spawnConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	scfg := ScheduledActorConfig{
		ID:       id,
		Behavior: behavior,
		System:   sys,
	}
	if !cfg.hidden {
		scfg.Wg = &sys.actorWg
	}

	sa := NewScheduledActor(scfg)

	for _, m := range cfg.monitors {
		sa.Monitor(m)
	}
	for _, l := range cfg.links {
		sa.Link(l)
	}

	if !cfg.hidden {
		sys.register(id, sa, sa.ctrl)
	}

	switch {
	case cfg.lazyInit:
		sa.mailbox.OnReady(func() {
			if cfg.scheduler != nil {
				sa.StartOnScheduler(cfg.scheduler)
			} else {
				sa.Start()
			}
		})

	case cfg.scheduler != nil:
		sa.StartOnScheduler(cfg.scheduler)

	default:
		sa.Start()
	}

	return sa
}

// blockingStoppable adapts BlockingActor's Close method to the ActorSystem's
// internal stoppable interface (Stop()).
type blockingStoppable struct {
	actor *BlockingActor
}

// Stop implements stoppable.
func (b blockingStoppable) Stop() { b.actor.Close() }

// SpawnBlocking constructs a BlockingActor under sys according to opts,
// the blocking flavor of spawn: the returned actor has
// no cooperative resume loop of its own and must be driven by a caller-owned
// goroutine via its Receive family of methods. LazyInit and
// OnScheduler have no effect here, since a blocking actor is never scheduled
// cooperatively.
func SpawnBlocking(sys *ActorSystem, id string, opts ...SpawnOption) *BlockingActor {
	cfg := &spawnConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	ba := NewBlockingActor(id)

	for _, m := range cfg.monitors {
		// BlockingActor doesn't expose a LinkSet of its own; route
		// exit notification through a synthetic down-message once the
		// caller signals completion by calling Close.
		observer := m
		go func() {
			<-ba.ctx.Done()
			observer.Tell(context.Background(), DownMessage{
				Source: ba.Self(),
				Reason: ExitUserShutdown,
			})
		}()
	}

	if !cfg.hidden {
		sys.register(id, blockingStoppable{actor: ba}, nil)
	}

	return ba
}
