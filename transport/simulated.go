package transport

import (
	"context"
	"time"
)

// ResponseGenerator synthesizes a reply for a written frame, standing in
// for the ILC bus hardware in host-side tests and CI.
type ResponseGenerator interface {
	GenerateResponse(written []byte) []byte
}

// SimulatedChannel implements Channel over an in-memory buffer fed by a
// ResponseGenerator, per spec §4.7.
type SimulatedChannel struct {
	gen      ResponseGenerator
	response []byte
}

// NewSimulatedChannel constructs a Channel backed by gen.
func NewSimulatedChannel(gen ResponseGenerator) *SimulatedChannel {
	return &SimulatedChannel{gen: gen}
}

func (c *SimulatedChannel) Open() error  { return nil }
func (c *SimulatedChannel) Close() error { return nil }
func (c *SimulatedChannel) Flush() error {
	c.response = nil
	return nil
}

func (c *SimulatedChannel) Write(ctx context.Context, data []byte) error {
	c.response = append(c.response, c.gen.GenerateResponse(data)...)
	return nil
}

func (c *SimulatedChannel) Read(ctx context.Context, maxLen int, timeout time.Duration) ([]byte, error) {
	if maxLen > len(c.response) {
		maxLen = len(c.response)
	}
	out := c.response[:maxLen]
	c.response = c.response[maxLen:]
	return out, nil
}
