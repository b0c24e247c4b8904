package handler

import "errors"

var (
	ErrDuplicateHandler = errors.New("handler already registered for message type")
	ErrTimeout          = errors.New("request timed out")
	ErrNoAgentID        = errors.New("agent id is required")
	ErrNoTransport      = errors.New("transport is required")
	ErrMalformedMessage = errors.New("malformed message")
)
