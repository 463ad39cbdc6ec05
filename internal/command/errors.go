package command

import "errors"

// Decoding errors. Any of these means the message is dropped without
// mutation or response.
var (
	ErrTopicShape       = errors.New("command: topic must be command/{device}/{resource}/{method}/{id}")
	ErrWrongDevice      = errors.New("command: topic addresses another device")
	ErrMalformedPayload = errors.New("command: payload is not a JSON object")
	ErrPayloadKeys      = errors.New("command: payload must hold exactly one key")
	ErrResourceMismatch = errors.New("command: payload key does not match topic resource")
	ErrUnknownMethod    = errors.New("command: method must be get or set")
	ErrUnknownCommand   = errors.New("command: unknown method/resource combination")
	ErrInvalidValue     = errors.New("command: invalid resource value")
)

// errNoop marks a SET that asked for the value already in place.
var errNoop = errors.New("command: already in requested state")
