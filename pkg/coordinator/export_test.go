package coordinator

// Heartbeat runs one heartbeat tick.
func (c *Coordinator) Heartbeat() { c.heartbeat() }
