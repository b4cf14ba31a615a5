package sums

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/suncumby/drms/pkg/types"
)

// RemoteAction is the resolver's verdict on a cross-site GET.
type RemoteAction int

const (
	// RemoteDontRetry leaves sudir empty; status = REMOTESUMS_TRYLATER.
	RemoteDontRetry RemoteAction = 0
	// RemoteRetryOnce allows exactly one re-attempt of the archive GET.
	RemoteRetryOnce RemoteAction = 1
	// RemoteFailure means the resolver itself failed; status =
	// ERROR_REMOTESUMSMASTER.
	RemoteFailure RemoteAction = -1
)

// RemoteResolver decides whether an empty sudir for a foreign-site
// sunum should be retried against that site's own archive manager.
// Implemented by HTTPRemoteResolver for production use and freely
// fakeable in tests.
type RemoteResolver interface {
	Resolve(ctx context.Context, siteCode int, bySeries map[string][]types.SUNUM) RemoteAction
}

// HTTPRemoteResolver calls an external remote-SUMS-master endpoint over
// HTTP, POSTing the series{sunum,sunum,...} groupings and interpreting
// the numeric verdict it returns.
type HTTPRemoteResolver struct {
	siteURL string
	client *http.Client
}

// NewHTTPRemoteResolver creates a resolver that posts to siteURL.
func NewHTTPRemoteResolver(siteURL string) *HTTPRemoteResolver {
	return &HTTPRemoteResolver{
		siteURL: siteURL,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type remoteResolveRequest struct {
	Groupings map[string][]int64 `json:"groupings"`
}

type remoteResolveResponse struct {
	Action int `json:"action"`
}

// Resolve implements RemoteResolver.
func (r *HTTPRemoteResolver) Resolve(ctx context.Context, siteCode int, bySeries map[string][]types.SUNUM) RemoteAction {
	groupings := make(map[string][]int64, len(bySeries))
	for series, sunums := range bySeries {
		ids := make([]int64, len(sunums))
		for i, s := range sunums {
			ids[i] = int64(s)
		}
		groupings[series] = ids
	}

	body, err := json.Marshal(remoteResolveRequest{Groupings: groupings})
	if err != nil {
		return RemoteFailure
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.siteURL, bytes.NewReader(body))
	if err != nil {
		return RemoteFailure
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return RemoteFailure
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return RemoteFailure
	}

	var out remoteResolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return RemoteFailure
	}
	switch RemoteAction(out.Action) {
	case RemoteDontRetry, RemoteRetryOnce:
		return RemoteAction(out.Action)
	default:
		return RemoteFailure
	}
}

// NoOpRemoteResolver always declines a retry. It's the resolver a
// single-site deployment wires in when no remote-SUMS-master endpoint is
// configured: every foreign-site sunum it sees behaves as if that site
// is simply unreachable.
type NoOpRemoteResolver struct{}

func (NoOpRemoteResolver) Resolve(ctx context.Context, siteCode int, bySeries map[string][]types.SUNUM) RemoteAction {
	return RemoteDontRetry
}

// shouldTryRemote reports whether the preconditions for invoking the
// remote-site resolver hold: the sunum's site differs from the local
// site, the caller asked to retrieve, and this is the first attempt.
func shouldTryRemote(sunum types.SUNUM, localSite int, retrieve bool, firstAttempt bool) bool {
	return retrieve && firstAttempt && sunum.SiteCode() != localSite
}
