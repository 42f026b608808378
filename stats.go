package duplexrpc

// Stats is a point-in-time snapshot of a channel's shared tables,
// intended for diagnostics and tests.
type Stats struct {
	// Pending counts in-flight outbound requests (streams included
	// until they reach a terminal state).
	Pending int
	// Callbacks counts live local callback registrations.
	Callbacks int
	// Streams counts active stream records on either role.
	Streams int
}

// Stats snapshots the channel's bookkeeping.
func (c *Channel) Stats() Stats {
	c.streams.mu.Lock()
	streams := len(c.streams.m)
	c.streams.mu.Unlock()
	return Stats{
		Pending:   c.pending.size(),
		Callbacks: c.callbacks.size(),
		Streams:   streams,
	}
}
