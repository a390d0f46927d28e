package voxl

import (
	"context"

	"github.com/reddotdrone/voxl-mqtt-bridge/internal/modalpipe"
)

// PipeChannel is an open outbound pipe connection.
type PipeChannel interface {
	IsConnected() bool
	Close() error
}

// PipeEndpoint is an inbound pipe server that broker payloads are written to.
type PipeEndpoint interface {
	Write(p []byte) error
	ClientCount() int
	Close() error
}

// PipeTransport opens pipe connections. ModalPipeTransport is the production
// implementation; tests substitute their own.
type PipeTransport interface {
	OpenClient(ctx context.Context, cfg modalpipe.ClientConfig) (PipeChannel, error)
	CreateServer(cfg modalpipe.ServerConfig) (PipeEndpoint, error)
}

// ModalPipeTransport opens real pipes under the configured base directory.
type ModalPipeTransport struct{}

// OpenClient connects to a pipe server.
func (ModalPipeTransport) OpenClient(ctx context.Context, cfg modalpipe.ClientConfig) (PipeChannel, error) {
	c, err := modalpipe.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateServer creates a pipe server.
func (ModalPipeTransport) CreateServer(cfg modalpipe.ServerConfig) (PipeEndpoint, error) {
	s, err := modalpipe.NewServer(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}
