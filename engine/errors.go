package engine

import "errors"

var (
	// ErrClosed is returned by operations on a closed context.
	ErrClosed = errors.New("engine: context closed")
	// ErrCycle is returned when a connection would create a cycle.
	ErrCycle = errors.New("engine: connection would create a cycle")
	// ErrForeignNode is returned when a node belongs to another context.
	ErrForeignNode = errors.New("engine: node belongs to a different context")
	// ErrInvalidPort is returned for out-of-range output indices or when
	// connecting into a node without inputs.
	ErrInvalidPort = errors.New("engine: invalid port")
	// ErrUnknownModule is returned when a module name is not registered.
	ErrUnknownModule = errors.New("engine: unknown module")
	// ErrSampleRate is returned when a buffer does not match the context rate.
	ErrSampleRate = errors.New("engine: sample rate mismatch")
	// ErrAlreadyStarted is returned when a source is started twice.
	ErrAlreadyStarted = errors.New("engine: source already started")

	errDuplicateModule = errors.New("duplicate module")
	errBatchDone       = errors.New("engine: graph used outside its Update batch")
)
