package manager

// The write pipe couples sample-producing goroutines to the socket layer.
// Producers enqueue owned copies of their buffers; a single drain goroutine
// dequeues exactly once per enqueue and hands the payload to the socket
// handler. Per-session ordering equals producer-write order; a full pipe
// blocks the producer.

// Write copies the payload and queues it for delivery on the session's
// sample socket. Safe from any goroutine. Returns false once the manager is
// shutting down.
func (m *Manager) Write(sessionID int64, payload []byte) bool {
	select {
	case <-m.cancelCtx.Done():
		return false
	default:
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	select {
	case m.pipe <- writeRecord{sessionID: sessionID, payload: buf}:
		return true
	case <-m.cancelCtx.Done():
		return false
	}
}

func (m *Manager) drainWritePipe() {
	for {
		select {
		case <-m.cancelCtx.Done():
			return
		case rec := <-m.pipe:
			m.deliver(rec)
		}
	}
}

func (m *Manager) deliver(rec writeRecord) {
	m.mu.Lock()
	sockets := m.sockets
	m.mu.Unlock()
	if sockets == nil {
		m.logger.Debugw("sample dropped, no socket handler", "session", rec.sessionID)
		return
	}
	// the payload is spent after this attempt, successful or not
	if !sockets.Write(rec.sessionID, rec.payload) {
		m.logger.Warnw("failed to write data to socket", "session", rec.sessionID)
	}
}
