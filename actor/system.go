package actor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// deadIDCacheSize bounds the system's negative cache of recently-stopped
// actor ids, so it cannot grow without limit across a long-lived system.
const deadIDCacheSize = 256

// registerConfig holds optional configuration for actor registration.
type registerConfig struct {
	// cleanupTimeout overrides the default OnStop cleanup timeout.
	cleanupTimeout fn.Option[time.Duration]
}

// RegisterOption is a functional option for configuring actor registration
// via RegisterWithSystem.
type RegisterOption func(*registerConfig)

// WithCleanupTimeout sets the OnStop cleanup timeout for the actor. If not
// specified, the default of 5 seconds is used. Use a longer timeout for
// actors that manage external subprocesses requiring graceful shutdown.
func WithCleanupTimeout(d time.Duration) RegisterOption {
	return func(cfg *registerConfig) {
		cfg.cleanupTimeout = fn.Some(d)
	}
}

// stoppable is the narrow stop hook the system keeps per registered actor.
type stoppable interface {
	Stop()
}

// registryEntry ties a registered actor's stop hook to its control block,
// when it has one, so system-level operations can consult liveness and the
// published exit reason instead of tracking a bare opaque handle.
type registryEntry struct {
	stop stoppable
	ctrl *ControlBlock
}

// SystemConfig holds configuration parameters for the ActorSystem.
type SystemConfig struct {
	// MailboxCapacity is the default capacity for actor mailboxes.
	MailboxCapacity int

	// Clock schedules idle timeouts and deferred sends. If nil,
	// NewActorSystemWithConfig installs a WallClock. Tests substitute a
	// deterministic virtual clock here (see the actortest package).
	Clock Clock

	// AwaitRunningCountEqual is the shutdown condition consulted by
	// AwaitAllActorsDone: it waits until the number of registered,
	// still-running actors has dropped to this value. At the default of
	// zero AwaitAllActorsDone does not wait for actors to finish on their
	// own: it calls Shutdown at once, which stops every registered actor.
	AwaitRunningCountEqual int
}

// DefaultConfig returns a default configuration for the ActorSystem.
func DefaultConfig() SystemConfig {
	return SystemConfig{
		MailboxCapacity: 100,
		Clock:           NewWallClock(),
	}
}

// ActorSystem manages the lifecycle of actors and provides coordination
// services: a receptionist for discovery, a dead-letter office for
// undeliverable messages, a registry of running actors keyed by id, and
// graceful shutdown that waits for every registered actor to stop.
type ActorSystem struct {
	receptionist *Receptionist

	// deadLetterActor handles undeliverable messages.
	deadLetterActor ActorRef[Message, any]

	config SystemConfig

	// mu guards registry; countCond is signaled whenever the registry
	// shrinks, waking AwaitRunningCountEqual waiters.
	mu        sync.Mutex
	registry  map[string]registryEntry
	countCond *sync.Cond

	ctx    context.Context
	cancel context.CancelFunc

	// actorWg tracks running actor goroutines for deterministic shutdown.
	actorWg sync.WaitGroup

	// deadIDs is a bounded negative cache of ids that were recently
	// stopped, so a fresh registration under a reused id can be logged as
	// such rather than silently treated as a brand new actor.
	deadIDs *lru.Cache[string, struct{}]

	// nodeID identifies this system instance, stamped into every spawned
	// actor's control block as its home system and used as the local
	// node identity at the wire boundary.
	nodeID NodeID
}

// NewActorSystem creates a new actor system using the default configuration.
func NewActorSystem() *ActorSystem {
	return NewActorSystemWithConfig(DefaultConfig())
}

// NewActorSystemWithConfig creates a new actor system with custom
// configuration.
func NewActorSystemWithConfig(config SystemConfig) *ActorSystem {
	ctx, cancel := context.WithCancel(context.Background())

	if config.Clock == nil {
		config.Clock = NewWallClock()
	}

	deadIDs, _ := lru.New[string, struct{}](deadIDCacheSize)

	system := &ActorSystem{
		receptionist: newReceptionist(),
		config:       config,
		registry:     make(map[string]registryEntry),
		ctx:          ctx,
		cancel:       cancel,
		deadIDs:      deadIDs,
		nodeID:       NewNodeID(),
	}
	system.countCond = sync.NewCond(&system.mu)

	// The dead-letter office rejects everything it receives; its own DLO
	// reference is nil so a failed delivery to the DLO cannot loop.
	deadLetterBehavior := NewFunctionBehavior(
		func(ctx context.Context, msg Message) fn.Result[any] {
			return fn.Err[any](errors.New(
				"message undeliverable: " + msg.MessageType(),
			))
		},
	)

	dlo := NewActor[Message, any](ActorConfig[Message, any]{
		ID:          "dead-letters",
		Behavior:    deadLetterBehavior,
		DLO:         nil,
		MailboxSize: config.MailboxCapacity,
		Wg:          &system.actorWg,
		System:      system,
	})
	dlo.Start()
	system.deadLetterActor = dlo.Ref()
	system.registry[dlo.id] = registryEntry{stop: dlo, ctrl: dlo.sa.ctrl}

	return system
}

// register adds a running actor to the system's registry. ctrl may be nil
// for actors without a control block (blocking actors).
func (as *ActorSystem) register(id string, stop stoppable, ctrl *ControlBlock) {
	as.mu.Lock()
	if as.registry == nil {
		as.registry = make(map[string]registryEntry)
	}
	as.registry[id] = registryEntry{stop: stop, ctrl: ctrl}
	as.mu.Unlock()
}

// unregister removes id from the registry, recording it in the dead-id
// cache and waking any AwaitRunningCountEqual waiter. It returns the entry
// that was registered, if any.
func (as *ActorSystem) unregister(id string) (registryEntry, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()

	entry, ok := as.registry[id]
	if !ok {
		return registryEntry{}, false
	}

	delete(as.registry, id)
	as.deadIDs.Add(id, struct{}{})
	as.countCond.Broadcast()

	return entry, true
}

// RunningCount reports how many actors are currently registered and, for
// those with a control block, still alive by strong count. Registered
// entries whose actor object has already been destroyed are pruned as a
// side effect.
func (as *ActorSystem) RunningCount() int {
	as.mu.Lock()
	defer as.mu.Unlock()

	return as.runningCountLocked()
}

// runningCountLocked prunes dead entries and counts the rest. Caller must
// hold as.mu.
func (as *ActorSystem) runningCountLocked() int {
	for id, entry := range as.registry {
		if entry.ctrl != nil && entry.ctrl.StrongCount() == 0 {
			delete(as.registry, id)
			as.deadIDs.Add(id, struct{}{})
		}
	}
	return len(as.registry)
}

// AwaitRunningCountEqual blocks until the number of registered, running
// actors is at most n, or ctx expires. Actors leave the count when they are
// stopped and removed, or when their control block's strong count reaches
// zero.
func (as *ActorSystem) AwaitRunningCountEqual(ctx context.Context, n int) error {
	// sync.Cond has no context support; poke the condition when ctx
	// expires so the wait loop can observe it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			as.mu.Lock()
			as.countCond.Broadcast()
			as.mu.Unlock()
		case <-done:
		}
	}()

	as.mu.Lock()
	defer as.mu.Unlock()

	for as.runningCountLocked() > n {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		as.countCond.Wait()
	}

	return nil
}

// newStoppedActorRef builds an already-stopped actor reference with the
// given ID, so failed registrations can return a safe non-nil ref whose
// calls fail with ErrActorTerminated instead of panicking on nil.
func newStoppedActorRef[M Message, R any](id string) ActorRef[M, R] {
	cfg := ActorConfig[M, R]{ID: id}
	actor := NewActor(cfg)
	actor.Stop()
	return actor.Ref()
}

// RegisterWithSystem creates an actor with the given ID, service key, and
// behavior within the specified ActorSystem. It starts the actor, adds it
// (with its control block) to the system's registry, registers it with the
// receptionist under key, and returns its ActorRef.
func RegisterWithSystem[M Message, R any](as *ActorSystem, id string, key ServiceKey[M, R],
	behavior ActorBehavior[M, R], opts ...RegisterOption,
) ActorRef[M, R] {
	if as.ctx.Err() != nil {
		// The system is already shutting down; hand back a stopped ref
		// so callers fail with ErrActorTerminated rather than panic.
		return newStoppedActorRef[M, R](id)
	}

	var regCfg registerConfig
	for _, opt := range opts {
		opt(&regCfg)
	}

	if as.deadIDs.Contains(id) {
		log.DebugS(as.ctx, "Actor id reused after previous actor stopped",
			"actor_id", id)
		as.deadIDs.Remove(id)
	}

	actorInstance := NewActor(ActorConfig[M, R]{
		ID:             id,
		Behavior:       behavior,
		DLO:            as.deadLetterActor,
		MailboxSize:    as.config.MailboxCapacity,
		Wg:             &as.actorWg,
		CleanupTimeout: regCfg.cleanupTimeout,
		System:         as,
	})
	actorInstance.Start()

	as.register(id, actorInstance, actorInstance.sa.ctrl)

	err := RegisterWithReceptionist(as.receptionist, key, actorInstance.Ref())
	if err != nil {
		// Type mismatch under this service name: roll the actor back
		// out of the system and hand back a stopped ref.
		actorInstance.Stop()
		as.unregister(id)

		return newStoppedActorRef[M, R](id)
	}

	log.DebugS(as.ctx, "Actor registered with system",
		"actor_id", id,
		"actor_numeric_id", actorInstance.sa.ctrl.NumericID(),
		"service_key", key.name)

	return actorInstance.Ref()
}

// Receptionist returns the system's receptionist, used for service
// discovery (finding actors by ServiceKey).
func (as *ActorSystem) Receptionist() *Receptionist {
	return as.receptionist
}

// DeadLetters returns a reference to the system's dead letter actor.
// Messages that cannot be delivered to their intended recipient may be
// routed here if not otherwise handled.
func (as *ActorSystem) DeadLetters() ActorRef[Message, any] {
	return as.deadLetterActor
}

// Clock returns the system's clock, used for scheduling idle timeouts and
// deferred sends.
func (as *ActorSystem) Clock() Clock {
	return as.config.Clock
}

// NodeID returns this system instance's identity.
func (as *ActorSystem) NodeID() NodeID {
	return as.nodeID
}

// Shutdown gracefully stops the actor system and waits for all registered
// actors to finish processing, or for ctx to expire. It is safe for
// concurrent use.
func (as *ActorSystem) Shutdown(ctx context.Context) error {
	// Cancel the system context first so no new registration can slip in
	// and increment the WaitGroup between the snapshot below and the
	// wait: RegisterWithSystem observes the cancelled context and
	// returns a stopped ref instead.
	as.cancel()

	as.mu.Lock()
	entries := make([]registryEntry, 0, len(as.registry))
	for id, entry := range as.registry {
		entries = append(entries, entry)
		as.deadIDs.Add(id, struct{}{})
	}
	as.registry = make(map[string]registryEntry)
	as.countCond.Broadcast()
	as.mu.Unlock()

	log.InfoS(ctx, "Actor system shutting down",
		"num_actors", len(entries))

	// Stop is non-blocking on every actor kind; the WaitGroup below is
	// what provides the deterministic rendezvous.
	for _, entry := range entries {
		entry.stop.Stop()
	}

	done := make(chan struct{})
	go func() {
		as.actorWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.InfoS(ctx, "Actor system shutdown completed")
		return nil

	case <-ctx.Done():
		// Some actor goroutines are still running and may leak. This
		// indicates either misbehaving actors or an insufficient
		// shutdown timeout.
		log.ErrorS(ctx, "Actor system shutdown incomplete, "+
			"some actors may have leaked", ctx.Err())

		return ctx.Err()
	}
}

// AwaitAllActorsDone blocks until the system's shutdown condition holds and
// the system has stopped. With the default AwaitRunningCountEqual of zero
// it is an alias for Shutdown; with a positive value it first waits until
// the running count has dropped to that value on its own, then performs the
// full shutdown sequence.
func (as *ActorSystem) AwaitAllActorsDone(ctx context.Context) error {
	if n := as.config.AwaitRunningCountEqual; n > 0 {
		if err := as.AwaitRunningCountEqual(ctx, n); err != nil {
			return err
		}
	}
	return as.Shutdown(ctx)
}

// StopAndRemoveActor stops a specific actor by its ID and removes it from
// the system's registry. It returns true if the actor was found and
// stopped, false otherwise.
func (as *ActorSystem) StopAndRemoveActor(id string) bool {
	entry, ok := as.unregister(id)
	if !ok {
		return false
	}

	entry.stop.Stop()

	log.DebugS(as.ctx, "Actor stopped and removed from system",
		"actor_id", id)

	return true
}

// ServiceKey is a type-safe identifier used for registering and discovering
// actors via the Receptionist. The generic type parameters M (Message) and
// R (Response) ensure that only actors handling compatible message/response
// types are associated with and retrieved for this key.
type ServiceKey[M Message, R any] struct {
	name string
}

// NewServiceKey creates a new service key with the given name. The name is
// used as the lookup key within the Receptionist.
func NewServiceKey[M Message, R any](name string) ServiceKey[M, R] {
	return ServiceKey[M, R]{name: name}
}

// Spawn registers an actor for this service key within the given
// ActorSystem. It's a convenience method that calls RegisterWithSystem,
// starting the actor and registering it with the receptionist.
func (sk ServiceKey[M, R]) Spawn(as *ActorSystem, id string,
	behavior ActorBehavior[M, R],
) ActorRef[M, R] {
	return RegisterWithSystem(as, id, sk, behavior)
}

// RouterOption is a functional option for configuring a router.
type RouterOption[M Message, R any] func(*routerConfig[M, R])

// routerConfig holds configuration for router creation.
type routerConfig[M Message, R any] struct {
	strategy RoutingStrategy[M, R]
}

// WithStrategy specifies a custom routing strategy for the router.
func WithStrategy[M Message, R any](strategy RoutingStrategy[M, R]) RouterOption[M, R] {
	return func(cfg *routerConfig[M, R]) {
		cfg.strategy = strategy
	}
}

// Ref returns a virtual ActorRef (Router) that automatically load-balances
// messages across all actors registered under this service key. The router
// uses a round-robin strategy by default; override it with WithStrategy.
func (sk ServiceKey[M, R]) Ref(sys SystemContext, opts ...RouterOption[M, R]) ActorRef[M, R] {
	cfg := &routerConfig[M, R]{
		strategy: NewRoundRobinStrategy[M, R](),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return NewRouter(
		sys.Receptionist(), sk, cfg.strategy, sys.DeadLetters(),
	)
}

// Broadcast sends a message to every actor registered under this service
// key, fire-and-forget, and returns how many actors it was sent to.
func (sk ServiceKey[M, R]) Broadcast(sys SystemContext, ctx context.Context, msg M) int {
	refs := FindInReceptionist(sys.Receptionist(), sk)

	for _, ref := range refs {
		ref.Tell(ctx, msg)
	}

	return len(refs)
}

// Unregister removes an actor reference associated with this service key
// from the receptionist. The actor keeps running and stays reachable
// through any other service keys it is registered under; use
// StopAndRemoveActor to stop it. Returns true if the reference was found
// and removed.
func (sk ServiceKey[M, R]) Unregister(sys SystemContext,
	refToRemove ActorRef[M, R],
) bool {
	return UnregisterFromReceptionist(
		sys.Receptionist(), sk, refToRemove,
	)
}

// UnregisterAll removes every actor reference associated with this service
// key from the receptionist, without stopping the actors. Returns how many
// were unregistered.
func (sk ServiceKey[M, R]) UnregisterAll(sys SystemContext) int {
	r := sys.Receptionist()

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.services[sk.name]
	if !ok {
		return 0
	}

	kept := entry.refs[:0]
	removed := 0
	for _, ref := range entry.refs {
		if _, match := ref.(ActorRef[M, R]); match {
			removed++
		} else {
			kept = append(kept, ref)
		}
	}

	if removed == 0 {
		return 0
	}

	if len(kept) == 0 {
		delete(r.services, sk.name)
	} else {
		entry.refs = kept
	}

	return removed
}

// serviceEntry holds everything the receptionist tracks under one service
// name: the message/response types the name was first registered with, and
// the refs currently advertising it. Pinning the types on the entry is what
// lets registration reject a same-name/different-type conflict up front.
type serviceEntry struct {
	msgType  reflect.Type
	respType reflect.Type
	refs     []BaseActorRef
}

// Receptionist provides service discovery for actors: actors register under
// a ServiceKey and are discovered by other actors or system components.
type Receptionist struct {
	mu       sync.RWMutex
	services map[string]*serviceEntry
}

// newReceptionist creates a new Receptionist instance.
func newReceptionist() *Receptionist {
	return &Receptionist{
		services: make(map[string]*serviceEntry),
	}
}

// RegisterWithReceptionist registers an actor with a service key in the
// given receptionist, validating that the key's types match any existing
// registrations under the same name. This is a package-level generic
// function because methods cannot have their own type parameters in Go.
func RegisterWithReceptionist[M Message, R any](
	r *Receptionist, key ServiceKey[M, R], ref ActorRef[M, R],
) error {
	msgType := reflect.TypeOf((*M)(nil)).Elem()
	respType := reflect.TypeOf((*R)(nil)).Elem()

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.services[key.name]
	if !ok {
		entry = &serviceEntry{msgType: msgType, respType: respType}
		r.services[key.name] = entry
	} else if entry.msgType != msgType || entry.respType != respType {
		return fmt.Errorf("%w: service '%s' already registered "+
			"with types (%s, %s), cannot register with (%s, %s)",
			ErrServiceKeyTypeMismatch, key.name,
			entry.msgType, entry.respType,
			msgType, respType)
	}

	entry.refs = append(entry.refs, ref)

	return nil
}

// FindInReceptionist returns all actors registered with a service key in
// the given receptionist, narrowed back to their static ActorRef[M, R]
// type. This is a package-level generic function because methods cannot
// have their own type parameters.
func FindInReceptionist[M Message, R any](
	r *Receptionist, key ServiceKey[M, R],
) []ActorRef[M, R] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.services[key.name]
	if !ok {
		return nil
	}

	typedRefs := make([]ActorRef[M, R], 0, len(entry.refs))
	for _, ref := range entry.refs {
		if typedRef, match := ref.(ActorRef[M, R]); match {
			typedRefs = append(typedRefs, typedRef)
		}
	}

	return typedRefs
}

// UnregisterFromReceptionist removes an actor reference from a service key
// in the given receptionist, returning true if the reference was found and
// removed. This is a package-level generic function because methods cannot
// have their own type parameters in Go.
func UnregisterFromReceptionist[M Message, R any](r *Receptionist,
	key ServiceKey[M, R], refToRemove ActorRef[M, R],
) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.services[key.name]
	if !ok {
		return false
	}

	found := false
	kept := make([]BaseActorRef, 0, len(entry.refs))
	for _, ref := range entry.refs {
		if typedRef, match := ref.(ActorRef[M, R]); match &&
			typedRef == refToRemove && !found {

			found = true
			continue
		}
		kept = append(kept, ref)
	}

	if !found {
		return false
	}

	// Dropping the last ref also drops the name's type pinning, so the
	// name can be re-registered later with different types.
	if len(kept) == 0 {
		delete(r.services, key.name)
	} else {
		entry.refs = kept
	}

	return true
}
