package sums

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/suncumby/drms/pkg/types"
)

// Client dials a Dispatcher over the sums wire protocol. It
// satisfies pkg/session.ManagerClient, so a Session never needs to
// import this package's wire framing directly — it only sees the
// narrow interface pkg/session defines for itself.
type Client struct {
	addr      string
	tlsConfig *tls.Config
	mu        sync.Mutex

	sessionID string
}

// NewClient creates a wire-protocol client for the dispatcher at addr.
func NewClient(addr string) *Client {
	return &Client{addr: addr}
}

// NewClientWithTLS creates a wire-protocol client that dials the
// dispatcher over mTLS instead of a bare TCP socket (pkg/security's
// per-role certificate pairs, same as the manager and worker channels).
func NewClientWithTLS(addr string, tlsConfig *tls.Config) *Client {
	return &Client{addr: addr, tlsConfig: tlsConfig}
}

func (c *Client) call(ctx context.Context, req Request) (Status, KVList, error) {
	var conn net.Conn
	var err error
	if c.tlsConfig != nil {
		dialer := tls.Dialer{Config: c.tlsConfig}
		conn, err = dialer.DialContext(ctx, "tcp", c.addr)
	} else {
		dialer := net.Dialer{}
		conn, err = dialer.DialContext(ctx, "tcp", c.addr)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("sums: dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := WriteRequest(conn, req); err != nil {
		return 0, nil, fmt.Errorf("sums: write request: %w", err)
	}
	status, reply, err := ReadReply(conn)
	if err != nil {
		return 0, nil, fmt.Errorf("sums: read reply: %w", err)
	}
	return status, reply, nil
}

// OpenSession implements session.ManagerClient.
func (c *Client) OpenSession(ctx context.Context, namespace string, caps types.Capability) (*types.Session, error) {
	status, reply, err := c.call(ctx, Request{
		Op: OpOpen,
		Args: KVList{
			kvString("namespace", namespace),
			kvInt("capabilities", int64(caps)),
		},
	})
	if err != nil {
		return nil, err
	}
	if status != StatusOK {
		return nil, fmt.Errorf("sums: open session: status %d", status)
	}

	c.mu.Lock()
	c.sessionID = reply.String("session_id")
	c.mu.Unlock()

	return &types.Session{
		ID:           reply.String("session_id"),
		Namespace:    namespace,
		Capabilities: caps,
		OpenedAt:     time.Now(),
	}, nil
}

// CloseSession implements session.ManagerClient. The dispatcher sends no
// reply to DISCONNECT, so reaching end of stream where a reply would be
// counts as success.
func (c *Client) CloseSession(ctx context.Context, id string) error {
	_, _, err := c.call(ctx, Request{
		Op:   OpDisconnect,
		Args: KVList{kvString("session_id", id)},
	})
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// AllocateSlot implements session.ManagerClient. unitSize, archive and
// tapeGroup come from the series' own template so a freshly allocated
// unit is sized and tagged the way the series declares, not a fixed
// default; callers that need to override those should use the
// dispatcher protocol directly rather than this narrow client.
func (c *Client) AllocateSlot(ctx context.Context, series string, unitSize int, archive types.ArchiveFlag, tapeGroup int) (*types.StorageUnit, int, error) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	status, reply, err := c.call(ctx, Request{
		Op: OpNewSlots,
		Args: KVList{
			kvString("session_id", sessionID),
			kvString("series", series),
			kvInt("unit_size", int64(unitSize)),
			kvInt("archive", int64(archive)),
			kvInt("tape_group", int64(tapeGroup)),
		},
	})
	if err != nil {
		return nil, 0, err
	}
	if status != StatusOK {
		return nil, 0, fmt.Errorf("sums: allocate slot for %s: status %d", series, status)
	}

	su := &types.StorageUnit{
		Sunum:  types.SUNUM(reply.Int("sunum")),
		Series: series,
		Dir:    reply.String("sudir"),
	}
	return su, int(reply.Int("slot")), nil
}

// MarkSlotFull implements session.ManagerClient: it promotes a TEMP
// slot to FULL with its assigned recnum via SLOT_SETSTATE.
func (c *Client) MarkSlotFull(ctx context.Context, sunum types.SUNUM, slot int, recnum int64) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	status, _, err := c.call(ctx, Request{
		Op: OpSlotSetState,
		Args: KVList{
			kvString("session_id", sessionID),
			kvInt("sunum", int64(sunum)),
			kvInt("slot", int64(slot)),
			kvInt("recnum", recnum),
		},
	})
	if err != nil {
		return err
	}
	if status != StatusOK {
		return fmt.Errorf("sums: mark slot %d of unit %d full: status %d", slot, sunum, status)
	}
	return nil
}

// GetStorageUnit implements session.ManagerClient.
func (c *Client) GetStorageUnit(ctx context.Context, sunum types.SUNUM) (*types.StorageUnit, error) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	status, reply, err := c.call(ctx, Request{
		Op: OpGetUnit,
		Args: KVList{
			kvString("session_id", sessionID),
			kvInt("sunum", int64(sunum)),
		},
	})
	if err != nil {
		return nil, err
	}
	if status != StatusOK {
		return nil, fmt.Errorf("sums: get storage unit %d: status %d", sunum, status)
	}

	return &types.StorageUnit{
		Sunum:  types.SUNUM(reply.Int("sunum")),
		Series: reply.String("series"),
		Dir:    reply.String("sudir"),
		Mode:   types.SUMode(reply.Int("mode")),
		NFree:  int(reply.Int("nfree")),
	}, nil
}

// Commit asks the dispatcher to submit series' pending READWRITE units
// to the archive manager. It is not part of
// session.ManagerClient — only the top-level client package, which
// owns the session's archive/retention overrides, calls it directly.
func (c *Client) Commit(ctx context.Context, series string, archive types.ArchiveFlag, retentionDays int) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	status, _, err := c.call(ctx, Request{
		Op: OpCommit,
		Args: KVList{
			kvString("session_id", sessionID),
			kvString("series", series),
			kvInt("archive", int64(archive)),
			kvInt("retention", int64(retentionDays)),
		},
	})
	if err != nil {
		return err
	}
	if status != StatusOK {
		return fmt.Errorf("sums: commit %s: status %d", series, status)
	}
	return nil
}

// Rollback abandons this session's uncommitted slot allocations.
func (c *Client) Rollback(ctx context.Context) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	status, _, err := c.call(ctx, Request{
		Op:   OpRollback,
		Args: KVList{kvString("session_id", sessionID)},
	})
	if err != nil {
		return err
	}
	if status != StatusOK {
		return fmt.Errorf("sums: rollback: status %d", status)
	}
	return nil
}

// SetRetention overrides a unit's retention days (the SETRETENTION opcode).
func (c *Client) SetRetention(ctx context.Context, sunum types.SUNUM, days int) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	status, _, err := c.call(ctx, Request{
		Op: OpSetRetention,
		Args: KVList{
			kvString("session_id", sessionID),
			kvInt("sunum", int64(sunum)),
			kvInt("days", int64(days)),
		},
	})
	if err != nil {
		return err
	}
	if status != StatusOK {
		return fmt.Errorf("sums: set retention on unit %d: status %d", sunum, status)
	}
	return nil
}
