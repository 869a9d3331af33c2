package ecs

import "github.com/rotisserie/eris"

var (
	// ErrStaleHandle indicates the entity handle outlived the entity it referred to.
	ErrStaleHandle = eris.New("ecs: stale entity handle")
	// ErrDuplicateComponent indicates the entity already owns a component of that type.
	ErrDuplicateComponent = eris.New("ecs: duplicate component")
	// ErrMissingComponent indicates the entity does not own a component of that type.
	ErrMissingComponent = eris.New("ecs: missing component")
	// ErrExhausted indicates a configured capacity limit was reached.
	ErrExhausted = eris.New("ecs: capacity exhausted")
	// ErrConflictingGroup indicates a hot query needs a pool already owned by another group.
	ErrConflictingGroup = eris.New("ecs: component already owned by another group")
	// ErrSchedulerBusy indicates a structural registration was attempted mid-step.
	ErrSchedulerBusy = eris.New("ecs: scheduler busy")

	// ErrComponentAlreadyRegistered indicates an attempt to register the same component twice.
	ErrComponentAlreadyRegistered = eris.New("ecs: component already registered")
	// ErrComponentNotRegistered signals lookup on an unknown component type.
	ErrComponentNotRegistered = eris.New("ecs: component not registered")
	// ErrComponentTypeMismatch is returned when an erased value does not match the pool type.
	ErrComponentTypeMismatch = eris.New("ecs: component value type mismatch")
	// ErrInvalidQuery is returned for malformed query signatures.
	ErrInvalidQuery = eris.New("ecs: invalid query")
	// ErrDuplicateSystem indicates a system name was registered twice.
	ErrDuplicateSystem = eris.New("ecs: system already registered")
	// ErrInvalidSystem indicates a system without a name or body.
	ErrInvalidSystem = eris.New("ecs: invalid system")
	// ErrUnknownSystem indicates an ordering constraint names an unregistered system.
	ErrUnknownSystem = eris.New("ecs: unknown system")
	// ErrDependencyCycle indicates explicit ordering constraints contradict the conflict order.
	ErrDependencyCycle = eris.New("ecs: system dependency cycle")
	// ErrStepAborted is returned when a step was aborted and its commands discarded.
	ErrStepAborted = eris.New("ecs: step aborted")
	// ErrWorkerPoolClosed indicates jobs cannot be submitted because the pool closed.
	ErrWorkerPoolClosed = eris.New("ecs: worker pool closed")
)
