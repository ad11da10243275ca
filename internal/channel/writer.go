package channel

// writeQueueSize bounds frames waiting for a slow connection. Only the
// subscribe frame and heartbeats are ever queued.
const writeQueueSize = 4

// writer owns all writes to one connection, and closing it, so a stalled
// socket only ever blocks its own goroutine and never the event loop.
type writer struct {
	conn Conn
	send chan any
}

// startWriter runs the write pump. onErr is called once, from the pump
// goroutine, with the first write error.
func startWriter(conn Conn, onErr func(error)) *writer {
	w := &writer{conn: conn, send: make(chan any, writeQueueSize)}
	go w.run(onErr)
	return w
}

func (w *writer) run(onErr func(error)) {
	var failed bool
	for v := range w.send {
		if failed {
			continue
		}
		if err := w.conn.WriteJSON(v); err != nil {
			failed = true
			onErr(err)
		}
	}
	_ = w.conn.Close()
}

// queue hands v to the pump. It reports false when the queue is full.
func (w *writer) queue(v any) bool {
	select {
	case w.send <- v:
		return true
	default:
		return false
	}
}

// stop ends the pump; the connection is closed after queued frames are
// flushed or the pending write fails.
func (w *writer) stop() {
	close(w.send)
}
