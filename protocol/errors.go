package protocol

import "errors"

var (
	// ErrMalformedMessage is returned for lines that are not a well-formed request.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrResponseUnsupported is returned for response-shaped lines. Plugins may not send responses yet.
	ErrResponseUnsupported = errors.New("responses from plugins are not supported")

	// ErrUnknownMethod is returned for requests whose method the host does not handle.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrMissingCorrelationID is returned when a method that requires a reply has no id.
	ErrMissingCorrelationID = errors.New("missing correlation id")

	// ErrNonIntegralID is returned when the id is a number with a fractional part.
	ErrNonIntegralID = errors.New("non-integral correlation id")
)
