package domain

import "errors"

// Error taxonomy shared by the core and the adapters. Callers match with errors.Is.
var (
	// ErrPermissionDenied means the microphone could not be acquired.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrChannel is a network or remote agent failure. Fatal to the session.
	ErrChannel = errors.New("agent channel failure")
	// ErrMalformedMessage is an inbound message with an unexpected shape.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrPlaybackFailure means the output engine rejected a buffer.
	ErrPlaybackFailure = errors.New("playback failure")

	ErrNotConnected  = errors.New("session is not connected")
	ErrAlreadyActive = errors.New("session is already active")
	ErrEmptyText     = errors.New("text cannot be empty")
	ErrQueueFull     = errors.New("outbound queue is full")
)
