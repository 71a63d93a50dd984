package coordinator

import (
	"errors"
	"fmt"
)

// ErrConfig is matched by every configuration error.
var ErrConfig = errors.New("coordinator configuration error")

var (
	ErrDuplicateClass  = fmt.Errorf("%w: duplicate class registration", ErrConfig)
	ErrInvalidChannel  = fmt.Errorf("%w: invalid channel name", ErrConfig)
	ErrChannelConflict = fmt.Errorf("%w: channel already bound to another class", ErrConfig)
	ErrInvalidClass    = fmt.Errorf("%w: invalid class", ErrConfig)
	ErrNoTransport     = fmt.Errorf("%w: transport is required", ErrConfig)
	ErrClosed          = errors.New("coordinator closed")
)
