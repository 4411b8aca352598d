package statview

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/thobiasn/statpipe/internal/wire"
)

// Client serializes GET_SYSTEM_STATS_REQ/RSP round trips against a single
// statstore connection (spec §6.2). The storage service carries no
// mutable state beyond its base directory, so concurrent clients never
// interfere with each other; this client still limits itself to one
// request at a time because there is only ever one question on screen.
type Client struct {
	address     string
	dialTimeout time.Duration

	mu   sync.Mutex
	conn net.Conn
	syn  *wire.SynCounter
}

// NewClient returns a Client targeting address, not yet connected.
func NewClient(address string, dialTimeout time.Duration) *Client {
	return &Client{
		address:     address,
		dialTimeout: dialTimeout,
		syn:         wire.NewSynCounter(),
	}
}

// Query sends a GET_SYSTEM_STATS_REQ and waits for its response, dialing
// (or redialing, after a prior failure) as needed.
func (c *Client) Query(q *wire.StatsQuery) (*wire.StatsResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.ensureConnLocked()
	if err != nil {
		return nil, err
	}

	body, err := wire.EncodeStatsQuery(q)
	if err != nil {
		return nil, fmt.Errorf("statview: encode query: %w", err)
	}

	synv := c.syn.Next()
	if err := wire.WriteMessage(conn, wire.Header{Cmd: wire.CmdGetSystemStatsReq, Ver: wire.WireVersion, Syn: synv}, body); err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("statview: send query: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.dialTimeout))
	hdr, respBody, err := wire.ReadMessage(conn)
	if err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("statview: read response: %w", err)
	}
	if hdr.Cmd != wire.CmdGetSystemStatsRsp || hdr.Ack != synv {
		c.closeLocked()
		return nil, fmt.Errorf("statview: unexpected reply cmd=%d ack=%d (want rsp, syn %d)", hdr.Cmd, hdr.Ack, synv)
	}

	resp, err := wire.DecodeStatsResponse(respBody)
	if err != nil {
		return nil, fmt.Errorf("statview: decode response: %w", err)
	}
	return resp, nil
}

func (c *Client) ensureConnLocked() (net.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := net.DialTimeout("tcp", c.address, c.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("statview: dial %s: %w", c.address, err)
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) closeLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close drops the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}
