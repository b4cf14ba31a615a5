package health

import (
	"context"
	"fmt"
	"time"
)

// Pinger is the narrow interface a catalog connection needs to satisfy
// for CatalogChecker — just pkg/catalog.DB's Ping method, kept as an
// interface here so this package doesn't import the catalog package.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CatalogChecker reports whether the relational catalog connection is
// reachable.
type CatalogChecker struct {
	db Pinger

	// Timeout bounds each Ping call (default: 5 seconds).
	Timeout time.Duration
}

// NewCatalogChecker creates a CatalogChecker over db.
func NewCatalogChecker(db Pinger) *CatalogChecker {
	return &CatalogChecker{db: db, Timeout: 5 * time.Second}
}

// Check performs the catalog health check.
func (c *CatalogChecker) Check(ctx context.Context) Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("catalog ping failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	return Result{
		Healthy:   true,
		Message:   "catalog connection healthy",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type. A catalog ping is a logical TCP
// reachability check one layer up the stack.
func (c *CatalogChecker) Type() CheckType {
	return CheckTypeTCP
}

// WithTimeout sets the ping timeout.
func (c *CatalogChecker) WithTimeout(timeout time.Duration) *CatalogChecker {
	c.Timeout = timeout
	return c
}
