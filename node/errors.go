package node

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid node config")
	ErrUnknownTask   = errors.New("unknown task")
)
