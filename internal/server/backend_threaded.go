package server

// runThreaded spawns one worker goroutine per accepted connection,
// standing in for the source's thread-per-connection back-end; the
// dispatcher's conns map tracks the live set for Stop.
func (d *Dispatcher) runThreaded() {
	for {
		if d.isShuttingDown() {
			return
		}
		conn, err := d.acceptOne()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.serveConn(conn)
		}()
	}
}
