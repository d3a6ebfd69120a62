package dispatcher

import (
	"io"
	"net"
	"sync"
	"time"
)

// idleConn arms a fresh read deadline before every read, so a stream with no
// traffic in either direction for idleTimeout gets cut.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Read(p)
}

// proxyStreams copies bytes both ways until either side closes or times out,
// then tears the whole connection down. Returns client->backend and
// backend->client byte counts.
func proxyStreams(client net.Conn, backend net.Conn, idleTimeout time.Duration) (bytesIn uint64, bytesOut uint64) {
	var (
		wg       sync.WaitGroup
		closeAll sync.Once
	)
	teardown := func() {
		closeAll.Do(func() {
			_ = client.Close()
			_ = backend.Close()
		})
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer teardown()
		n, _ := io.Copy(backend, &idleConn{Conn: client, timeout: idleTimeout})
		bytesIn = uint64(n)
	}()
	go func() {
		defer wg.Done()
		defer teardown()
		n, _ := io.Copy(client, &idleConn{Conn: backend, timeout: idleTimeout})
		bytesOut = uint64(n)
	}()
	wg.Wait()
	return bytesIn, bytesOut
}
