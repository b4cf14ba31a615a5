package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/suncumby/drms/pkg/catalog"
	"github.com/suncumby/drms/pkg/log"
	"github.com/suncumby/drms/pkg/security"
	"github.com/suncumby/drms/pkg/session"
	"github.com/suncumby/drms/pkg/sums"
	"github.com/suncumby/drms/pkg/types"
)

// Config is everything Open needs to start one DRMS session.
type Config struct {
	CatalogDriver string // e.g. "postgres"
	CatalogDSN string
	ManagerAddr string // SUMS dispatcher address, host:port

	Namespace string
	Capabilities types.Capability

	// TLSCertDir, if set, loads a client certificate and CA from this
	// directory (pkg/security.GetCertDir's layout) and dials the
	// dispatcher over mTLS instead of a bare TCP socket.
	TLSCertDir string

	// RetentionDays and Archive, if set (Archive via HasArchiveOverride),
	// override the series default at commit time.
	RetentionDays int
	Archive types.ArchiveFlag
	HasArchiveOverride bool
}

// Client is one DRMS session: a catalog connection, a dispatcher
// connection, and pkg/session's caches, plus the overrides and
// touched-series bookkeeping needed to drive commit-time archiving.
type Client struct {
	db *catalog.DB
	mgr *sums.Client
	sess *session.Session

	retentionDays int
	archive types.ArchiveFlag
	hasArchiveOverride bool

	mu sync.Mutex
	touched map[string]struct{}

	logger zerolog.Logger
}

// Open starts a new DRMS session per cfg: it opens the catalog
// connection, dials the storage-unit service, and registers the
// session with the manager.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	logger := log.WithComponent("drms-client")

	db, err := catalog.Open(cfg.CatalogDriver, cfg.CatalogDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("client: open catalog: %w", err)
	}

	mgr, err := dialManager(cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("client: dial manager: %w", err)
	}

	sess, err := session.Open(ctx, db, mgr, cfg.Namespace, cfg.Capabilities)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("client: open session: %w", err)
	}

	return &Client{
		db: db,
		mgr: mgr,
		sess: sess,
		retentionDays: cfg.RetentionDays,
		archive: cfg.Archive,
		hasArchiveOverride: cfg.HasArchiveOverride,
		touched: make(map[string]struct{}),
		logger: logger,
	}, nil
}

func dialManager(cfg Config) (*sums.Client, error) {
	if cfg.TLSCertDir == "" {
		return sums.NewClient(cfg.ManagerAddr), nil
	}

	cert, err := security.LoadCertFromFile(cfg.TLSCertDir)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}
	caCert, err := security.LoadCACertFromFile(cfg.TLSCertDir)
	if err != nil {
		return nil, fmt.Errorf("load CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs: pool,
		MinVersion: tls.VersionTLS13,
	}
	return sums.NewClientWithTLS(cfg.ManagerAddr, tlsConfig), nil
}

// ID returns the manager-assigned session id.
func (c *Client) ID() string {
	return c.sess.ID
}

// TemplateRecord returns series' template, loading it from the catalog
// on first use this session.
func (c *Client) TemplateRecord(ctx context.Context, series string) (*types.Template, error) {
	return c.sess.Template(ctx, series)
}

// Retrieve runs a prime-key-qualified query and opens every matching
// record into this session's cache.
func (c *Client) Retrieve(ctx context.Context, series, whereClause string, args...any) ([]*types.Record, error) {
	return c.sess.Retrieve(ctx, series, whereClause, args...)
}

// GetRecord returns a single already-committed record, loading it from
// the catalog on first use this session.
func (c *Client) GetRecord(ctx context.Context, series string, recnum int64) (*types.Record, error) {
	return c.sess.Record(ctx, series, recnum)
}

// CreateRecord allocates one new, writable record of series. The
// series is remembered so CloseRecords("commit") knows to submit its
// storage units.
func (c *Client) CreateRecord(ctx context.Context, series string) (*types.Record, error) {
	rec, err := c.sess.NewRecord(ctx, series)
	if err != nil {
		return nil, err
	}
	c.markTouched(series)
	return rec, nil
}

// CreateRecords allocates n new records of series in one call.
func (c *Client) CreateRecords(ctx context.Context, series string, n int) ([]*types.Record, error) {
	if n <= 0 {
		return nil, fmt.Errorf("client: create_records %s: n must be positive", series)
	}
	recs := make([]*types.Record, 0, n)
	for i := 0; i < n; i++ {
		rec, err := c.CreateRecord(ctx, series)
		if err != nil {
			return recs, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Lookup resolves a keyword or link-chained name on rec.
func (c *Client) Lookup(ctx context.Context, rec *types.Record, name string) (types.Value, error) {
	return c.sess.Lookup(ctx, rec, name)
}

// SetKeyword sets name's value on rec, converting raw to the
// keyword's declared type and, for a slotted keyword, deriving and
// writing its synthesized _index companion.
func (c *Client) SetKeyword(rec *types.Record, name string, raw types.Value) error {
	return c.sess.SetKeyword(rec, name, raw)
}

// SetRetention overrides this session's default retention-days at
// commit time. The value reaches the archive submission as given:
// whether this session owns the series is not checked, and the value is
// not clamped.
func (c *Client) SetRetention(days int) {
	c.mu.Lock()
	c.retentionDays = days
	c.mu.Unlock()
}

// SetArchive overrides this session's archive flag at commit time.
func (c *Client) SetArchive(flag types.ArchiveFlag) {
	c.mu.Lock()
	c.archive = flag
	c.hasArchiveOverride = true
	c.mu.Unlock()
}

func (c *Client) markTouched(series string) {
	c.mu.Lock()
	c.touched[series] = struct{}{}
	c.mu.Unlock()
}

// CloseRecords is the session's commit/abort boundary. "commit" inserts
// every temp record's metadata into the catalog (via pkg/session) and
// then asks the storage-unit service to submit each touched series'
// pending units to the archive manager; "abort" discards the temp
// records and rolls the storage-unit service's allocations back.
func (c *Client) CloseRecords(ctx context.Context, action string) error {
	if err := c.sess.CloseAll(ctx, action); err != nil {
		return fmt.Errorf("client: close_records %s: %w", action, err)
	}

	c.mu.Lock()
	touched := make([]string, 0, len(c.touched))
	for series := range c.touched {
		touched = append(touched, series)
	}
	c.touched = make(map[string]struct{})
	archive, hasOverride, retention := c.archive, c.hasArchiveOverride, c.retentionDays
	c.mu.Unlock()

	switch action {
	case "commit":
		for _, series := range touched {
			seriesArchive, seriesRetention := archive, retention
			if !hasOverride || retention == 0 {
				tmpl, err := c.sess.Template(ctx, series)
				if err != nil {
					return fmt.Errorf("client: commit %s: %w", series, err)
				}
				if !hasOverride {
					seriesArchive = tmpl.Info.Archive
				}
				if retention == 0 {
					seriesRetention = tmpl.Info.Retention
				}
			}
			if err := c.mgr.Commit(ctx, series, seriesArchive, seriesRetention); err != nil {
				c.logger.Error().Err(err).Str("series", series).Msg("archive submission failed")
				return fmt.Errorf("client: commit %s: %w", series, err)
			}
		}
		return nil
	case "abort":
		return c.mgr.Rollback(ctx)
	default:
		return fmt.Errorf("client: unknown close_records action %q", action)
	}
}

// Close ends the session: it closes the catalog connection and tells
// the manager to drop its session bookkeeping.
func (c *Client) Close(ctx context.Context) error {
	return c.sess.Close(ctx)
}
