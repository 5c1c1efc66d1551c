package responder

// DefaultBacklog is the accept queue length used when ListenOptions.Backlog
// is not set.
const DefaultBacklog = 128

// ListenOptions configures Listen.
type ListenOptions struct {
	// ReusePort lets every worker process bind the same address; the kernel
	// spreads incoming connections between them.
	ReusePort bool
	// Backlog is the length of the pending connection queue. The kernel caps
	// it at its own maximum (somaxconn on Linux).
	Backlog int
}

func (o ListenOptions) backlog() int {
	if o.Backlog <= 0 {
		return DefaultBacklog
	}
	return o.Backlog
}
