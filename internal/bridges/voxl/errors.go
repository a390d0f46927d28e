package voxl

import "errors"

// Domain errors for the VOXL bridge package.
var (
	// ErrInvalidMapping is returned when a topic mapping has an empty topic,
	// an empty pipe name, or a QoS above 2.
	ErrInvalidMapping = errors.New("voxl: invalid topic mapping")

	// ErrDuplicateTopic is returned when two inbound mappings share a topic.
	ErrDuplicateTopic = errors.New("voxl: duplicate inbound topic")

	// ErrInvalidInterval is returned when the publish interval is below the
	// one second minimum.
	ErrInvalidInterval = errors.New("voxl: invalid publish interval")

	// ErrUnmappedTopic is returned when a broker message arrives on a topic
	// with no inbound mapping.
	ErrUnmappedTopic = errors.New("voxl: no inbound mapping for topic")

	// ErrEndpointUnavailable is returned when an inbound mapping has no open
	// pipe server.
	ErrEndpointUnavailable = errors.New("voxl: pipe endpoint unavailable")
)
