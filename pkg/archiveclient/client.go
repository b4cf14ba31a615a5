package archiveclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// service is the gRPC service path every RPC in this package is invoked
// against. There is no .proto file behind it — see doc.go — so this
// is just a stable string both ends of the connection agree on.
const service = "/sums.archive.v1.ArchiveManager"

// Client is the SUMS archive worker's single connection to the external
// archive manager, which is not itself thread-safe. Callers are
// expected to serialize their own use of a Client the way the archive
// worker's single goroutine does.
type Client struct {
	conn *grpc.ClientConn
}

// Dial opens a connection to the archive manager at addr. If caCertPEM
// is non-nil, the connection is authenticated with TLS server
// verification; otherwise it connects insecurely (e.g. a local
// simulation archive manager run with --sim).
func Dial(addr string, caCertPEM []byte) (*Client, error) {
	var creds credentials.TransportCredentials
	if caCertPEM != nil {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCertPEM) {
			return nil, fmt.Errorf("archiveclient: invalid CA certificate")
		}
		creds = credentials.NewTLS(&tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12})
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("archiveclient: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// AllocRequest asks for a single new unit of the given byte size from
// tapeGroup (opcode ALLOC).
type AllocRequest struct {
	Series string `json:"series"`
	Bytes int64 `json:"bytes"`
	TapeGroup int `json:"tape_group"`
}

// AllocReply carries the newly allocated unit's identity and directory.
type AllocReply struct {
	Sunum int64 `json:"sunum"`
	Sudir string `json:"sudir"`
}

// Alloc requests a single new unit (opcode ALLOC).
func (c *Client) Alloc(ctx context.Context, req *AllocRequest) (*AllocReply, error) {
	resp := &AllocReply{}
	if err := c.conn.Invoke(ctx, service+"/Alloc", req, resp); err != nil {
		return nil, fmt.Errorf("archiveclient: alloc: %w", err)
	}
	return resp, nil
}

// Alloc2Request is ALLOC with a caller-reserved sunum, used for
// cross-site transfers (opcode ALLOC2).
type Alloc2Request struct {
	Series string `json:"series"`
	Bytes int64 `json:"bytes"`
	TapeGroup int `json:"tape_group"`
	Sunum int64 `json:"sunum"`
}

// Alloc2 requests a new unit under a pre-reserved sunum (opcode ALLOC2).
func (c *Client) Alloc2(ctx context.Context, req *Alloc2Request) (*AllocReply, error) {
	resp := &AllocReply{}
	if err := c.conn.Invoke(ctx, service+"/Alloc2", req, resp); err != nil {
		return nil, fmt.Errorf("archiveclient: alloc2: %w", err)
	}
	return resp, nil
}

// UnitInfo is one unit's archive-side metadata, as returned by Get and
// Info.
type UnitInfo struct {
	Sunum int64 `json:"sunum"`
	Sudir string `json:"sudir"`
	OnlineLoc string `json:"online_loc"`
	OnlineStat string `json:"online_stat"`
	ArchStatus string `json:"arch_status"`
	Retention int `json:"retention"`
}

// GetRequest requests 1..N existing units, at most BatchMax per call
// (opcode GET).
type GetRequest struct {
	Sunums []int64 `json:"sunums"`
	Retention int `json:"retention,omitempty"`
	CallerOwnsSeries bool `json:"caller_owns_series,omitempty"`
}

// BatchMax is the archive manager's batch-size ceiling for GET/INFO
// calls.
const BatchMax = 64

// GetReply carries the resolved units. Pending is true if the archive
// manager must first stage the units from tape; the caller should poll
// Wait with the returned Tag.
type GetReply struct {
	Units []UnitInfo `json:"units"`
	Pending bool `json:"pending"`
	Tag string `json:"tag,omitempty"`
}

// Get requests existing units, applying the caller's retention
// override only if allowed: the override wins only if the caller owns
// the series, otherwise it is clamped non-positive by the caller
// before this call — see pkg/sums/worker.go:getWithRetry.
func (c *Client) Get(ctx context.Context, req *GetRequest) (*GetReply, error) {
	if len(req.Sunums) > BatchMax {
		return nil, fmt.Errorf("archiveclient: get: %d sunums exceeds batch max %d", len(req.Sunums), BatchMax)
	}
	resp := &GetReply{}
	if err := c.conn.Invoke(ctx, service+"/Get", req, resp); err != nil {
		return nil, fmt.Errorf("archiveclient: get: %w", err)
	}
	return resp, nil
}

// WaitRequest polls a pending Get for completion.
type WaitRequest struct {
	Tag string `json:"tag"`
	TimeoutSeconds int `json:"timeout_seconds"`
}

// WaitReply reports whether the tagged fetch is ready; if not, the
// caller should reply retry-later to its own client rather than block
// indefinitely.
type WaitReply struct {
	Ready bool `json:"ready"`
	Units []UnitInfo `json:"units,omitempty"`
}

// Wait blocks up to req.TimeoutSeconds for a pending Get to complete.
func (c *Client) Wait(ctx context.Context, req *WaitRequest) (*WaitReply, error) {
	resp := &WaitReply{}
	if err := c.conn.Invoke(ctx, service+"/Wait", req, resp); err != nil {
		return nil, fmt.Errorf("archiveclient: wait: %w", err)
	}
	return resp, nil
}

// PutMode is the archive intent a submitted unit carries:
// ARCH+TOUCH if the series archives, else TEMP+TOUCH.
type PutMode string

const (
	PutModeArch PutMode = "ARCH"
	PutModeTemp PutMode = "TEMP"
)

// PutRequest submits one or more unit directories for archival (opcode
// PUT). Days is the retention in days past now; Mode is ARCH or TEMP.
type PutRequest struct {
	Sunums []int64 `json:"sunums"`
	Dirs []string `json:"dirs"`
	Mode PutMode `json:"mode"`
	Days int `json:"days"`
}

// PutReply reports the outcome. TapeReadPending is the distinct
// back-pressure status reported separately from a generic error:
// "archive has a tape read pending".
type PutReply struct {
	TapeReadPending bool `json:"tape_read_pending"`
}

// Put submits directories for archival (opcode PUT).
func (c *Client) Put(ctx context.Context, req *PutRequest) (*PutReply, error) {
	if len(req.Sunums) > BatchMax {
		return nil, fmt.Errorf("archiveclient: put: %d units exceeds batch max %d", len(req.Sunums), BatchMax)
	}
	resp := &PutReply{}
	if err := c.conn.Invoke(ctx, service+"/Put", req, resp); err != nil {
		return nil, fmt.Errorf("archiveclient: put: %w", err)
	}
	return resp, nil
}

// InfoRequest is a bulk metadata lookup by sunum array (opcode INFO,
// batch size BatchMax).
type InfoRequest struct {
	Sunums []int64 `json:"sunums"`
}

// InfoReply carries metadata for each resolved sunum.
type InfoReply struct {
	Units []UnitInfo `json:"units"`
}

// Info does a bulk metadata lookup (opcode INFO).
func (c *Client) Info(ctx context.Context, req *InfoRequest) (*InfoReply, error) {
	if len(req.Sunums) > BatchMax {
		return nil, fmt.Errorf("archiveclient: info: %d sunums exceeds batch max %d", len(req.Sunums), BatchMax)
	}
	resp := &InfoReply{}
	if err := c.conn.Invoke(ctx, service+"/Info", req, resp); err != nil {
		return nil, fmt.Errorf("archiveclient: info: %w", err)
	}
	return resp, nil
}

// CloseArchive flushes and closes the archive manager's session for
// this connection (opcode CLOSE). It does not close the underlying
// gRPC connection; call Close for that.
func (c *Client) CloseArchive(ctx context.Context) error {
	req, resp := &struct{}{}, &struct{}{}
	if err := c.conn.Invoke(ctx, service+"/Close", req, resp); err != nil {
		return fmt.Errorf("archiveclient: close: %w", err)
	}
	return nil
}

// AbortArchive tells the archive manager to drop this connection's
// pending work immediately, without flushing (opcode ABORT).
func (c *Client) AbortArchive(ctx context.Context) error {
	req, resp := &struct{}{}, &struct{}{}
	if err := c.conn.Invoke(ctx, service+"/Abort", req, resp); err != nil {
		return fmt.Errorf("archiveclient: abort: %w", err)
	}
	return nil
}

// dialTimeout is not applied anywhere: Dial builds the connection with
// grpc.NewClient and sets no connect timeout.
const dialTimeout = 10 * time.Second
