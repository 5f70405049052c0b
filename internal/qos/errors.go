package qos

import "errors"

var (
	errInvalidHistory             = errors.New("qos: KeepLast(n) requires n > 0")
	errKeepAllNeedsMaxSamples     = errors.New("qos: KeepAll requires ResourceLimits.MaxSamples > 0")
	errResourceLimitsInconsistent = errors.New("qos: MaxSamples must be >= MaxSamplesPerInstance * MaxInstances")

	// ErrImmutableChange describes a hot-reload that touches an immutable
	// policy (§4.13): the endpoint must be recreated rather than updated in
	// place. No function in this package returns it; Diff reports the same
	// condition through ProfileDelta.RequiresRecreation.
	ErrImmutableChange = errors.New("qos: immutable policy changed, endpoint recreation required")
)
