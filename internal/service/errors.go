package service

import "errors"

var (
	ErrUnknownInstance    = errors.New("instance not found")
	ErrNotConnected       = errors.New("instance not connected")
	ErrInvalidInstanceID  = errors.New("invalid instance id")
	ErrInvalidRecipient   = errors.New("invalid recipient")
	ErrUnsupportedContent = errors.New("unsupported message content")
)
