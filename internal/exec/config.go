package exec

import (
	"time"

	"github.com/mcuadros/go-defaults"
)

// Config holds the protocol timing and retry knobs. Retry counts and
// timeouts are explicit configuration rather than wire-handshake
// convention so callers can tune them per link quality.
type Config struct {
	// MaxChunkRetries is how many times a chunk is resent after its
	// first transmission before the job fails with ChunkTimeout.
	MaxChunkRetries int `default:"3"`

	// ChunkAckTimeout bounds the wait for each ChunkAck/LastChunkAck.
	ChunkAckTimeout time.Duration `default:"2s"`

	// ExecAckTimeout bounds the wait for the hub's ExecAck after an
	// ExecRequest is sent.
	ExecAckTimeout time.Duration `default:"5s"`

	// ExecTimeout bounds the whole Running phase. Zero means the run
	// is bounded only by the caller's context.
	ExecTimeout time.Duration `default:"0"`

	// EventBuffer is the capacity of the per-run output event channel.
	EventBuffer int `default:"256"`
}

// DefaultConfig returns a Config populated from the struct tags.
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}
