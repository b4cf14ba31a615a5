package integration

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/suncumby/drms/pkg/archiveclient"
	"github.com/suncumby/drms/pkg/manager"
	"github.com/suncumby/drms/pkg/sums"
	"github.com/suncumby/drms/pkg/types"
)

// kvString and kvInt mirror the unexported helpers pkg/sums keeps to
// itself; GETUNIT's retrieve flag needs a raw wire request since
// sums.Client.GetStorageUnit (used by pkg/session) never sets it.
func kvString(key, s string) sums.KV {
	return sums.KV{Key: key, Value: types.Value{Type: types.TypeString, Str: s}}
}

func kvInt(key string, n int64) sums.KV {
	return sums.KV{Key: key, Value: types.Value{Type: types.TypeLong, Int: n}}
}

// fakeArchive stands in for the external archive manager:
// Alloc hands out sequential sunums under the test's temp dir, Put
// records every batch it was asked to submit so the test can assert on
// call count and manifest contents, and Get serves whatever Alloc
// already produced.
type fakeArchive struct {
	mu sync.Mutex
	baseDir string
	nextSU int64
	allocate map[int64]string // sunum -> sudir

	putCalls []archiveclient.PutRequest
}

func newFakeArchive(baseDir string) *fakeArchive {
	return &fakeArchive{baseDir: baseDir, allocate: make(map[int64]string)}
}

func (f *fakeArchive) Alloc(ctx context.Context, series string, bytes int64, tapeGroup int) (*archiveclient.AllocReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSU++
	sunum := f.nextSU
	dir := filepath.Join(f.baseDir, fmt.Sprintf("su_%d", sunum))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	f.allocate[sunum] = dir
	return &archiveclient.AllocReply{Sunum: sunum, Sudir: dir}, nil
}

func (f *fakeArchive) Get(ctx context.Context, sunums []int64, retention int) (*archiveclient.GetReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reply := &archiveclient.GetReply{}
	for _, su := range sunums {
		dir, ok := f.allocate[su]
		if !ok {
			continue
		}
		reply.Units = append(reply.Units, archiveclient.UnitInfo{Sunum: su, Sudir: dir, OnlineStat: "Y"})
	}
	return reply, nil
}

func (f *fakeArchive) Put(ctx context.Context, units []*types.StorageUnit, mode archiveclient.PutMode, days int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sunums := make([]int64, len(units))
	dirs := make([]string, len(units))
	for i, u := range units {
		sunums[i], dirs[i] = int64(u.Sunum), u.Dir
	}
	f.putCalls = append(f.putCalls, archiveclient.PutRequest{Sunums: sunums, Dirs: dirs, Mode: mode, Days: days})
	return nil
}

func (f *fakeArchive) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.putCalls)
}

// newTestManager bootstraps a single-replica manager quorum in t's temp
// dir and waits for it to become its own Raft leader, the precondition
// every catalog/session write needs.
func newTestManager(t *testing.T) *manager.Manager {
	t.Helper()
	dir := t.TempDir()
	mgr, err := manager.NewManager(&manager.Config{
			NodeID: "node0",
			BindAddr: "127.0.0.1:0",
			DataDir: dir,
	})
	if err != nil {
		t.Fatalf("NewManager error = %v", err)
	}
	if err := mgr.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap error = %v", err)
	}
	t.Cleanup(func() { _ = mgr.Shutdown() })

	deadline := time.Now().Add(5 * time.Second)
	for !mgr.IsLeader() {
		if time.Now().After(deadline) {
			t.Fatal("manager never became leader")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return mgr
}

// newTestDispatcher wires a Dispatcher over archive with no TLS and no
// event broker, and starts it serving on a loopback listener.
func newTestDispatcher(t *testing.T, mgr *manager.Manager, archive sums.ArchiveBackend, remote sums.RemoteResolver) (*sums.Dispatcher, string) {
	t.Helper()
	alloc := sums.NewAllocator(mgr, archive, []int{1})
	if remote == nil {
		remote = sums.NoOpRemoteResolver{}
	}
	d := sums.NewDispatcher(mgr, alloc, archive, remote, nil, 0)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go d.Serve(ln)

	return d, ln.Addr().String()
}

// TestAllocateWriteCommit is scenario S3: three records in a
// unitsize-2 series must land in exactly two storage units, a commit
// with archive=1 must submit exactly two PUT batches (the first unit,
// with slots 0 and 1 full, then the second unit, with slot 0 full after
// the rollover), and every submitted unit must end up READONLY.
func TestAllocateWriteCommit(t *testing.T) {
	mgr := newTestManager(t)
	archive := newFakeArchive(t.TempDir())
	_, addr := newTestDispatcher(t, mgr, archive, nil)

	ctx := context.Background()
	client := sums.NewClient(addr)
	if _, err := client.OpenSession(ctx, "t", types.Capability(0)); err != nil {
		t.Fatalf("OpenSession error = %v", err)
	}

	const unitSize = 2
	type slotRef struct {
		su *types.StorageUnit
		slot int
	}
	var slots []slotRef
	for i := 0; i < 3; i++ {
		su, slot, err := client.AllocateSlot(ctx, "t.s", unitSize, types.ArchiveOn, 1)
		if err != nil {
			t.Fatalf("AllocateSlot #%d error = %v", i, err)
		}
		slots = append(slots, slotRef{su, slot})
		if err := client.MarkSlotFull(ctx, su.Sunum, slot, int64(100+i)); err != nil {
			t.Fatalf("MarkSlotFull #%d error = %v", i, err)
		}
	}

	distinctUnits := map[types.SUNUM]bool{}
	for _, s := range slots {
		distinctUnits[s.su.Sunum] = true
	}
	if len(distinctUnits) != 2 {
		t.Errorf("allocated %d distinct storage units for 3 records in a unitsize-2 series, want 2", len(distinctUnits))
	}

	if err := client.Commit(ctx, "t.s", types.ArchiveOn, 30); err != nil {
		t.Fatalf("Commit error = %v", err)
	}

	if got := archive.putCount(); got != 2 {
		t.Errorf("archive worker saw %d PUT batches, want 2", got)
	}

	for sunum := range distinctUnits {
		su, err := client.GetStorageUnit(ctx, sunum)
		if err != nil {
			t.Fatalf("GetStorageUnit(%d) error = %v", sunum, err)
		}
		if su.Mode != types.SUReadOnly {
			t.Errorf("unit %d mode = %v, want SUReadOnly after commit", sunum, su.Mode)
		}

		manifest, err := os.ReadFile(filepath.Join(archive.allocate[int64(sunum)], "Records.txt"))
		if err != nil {
			t.Fatalf("read manifest for unit %d: %v", sunum, err)
		}
		if len(manifest) == 0 {
			t.Errorf("unit %d has an empty Records.txt manifest", sunum)
		}
	}
}

// TestConcurrentRemoteGet is scenario S4: two sessions concurrently
// request the same offline, foreign-site sunum. Both must come back
// with the same sudir, and the resolver used to approve the retry is
// consulted no more than once per concurrent caller.
func TestConcurrentRemoteGet(t *testing.T) {
	mgr := newTestManager(t)
	archiveDir := t.TempDir()
	archive := newFakeArchive(archiveDir)

	// Pre-populate the archive with one unit, but never register it
	// with the manager's cache, so the first lookup always misses
	// locally and has to go through the remote-retry path.
	alloc, err := archive.Alloc(context.Background(), "hmi.v_45s", 4096, 1)
	if err != nil {
		t.Fatalf("seed alloc: %v", err)
	}
	remoteSunum := types.MakeSUNUM(7, alloc.Sunum) // site 7, never the local site (0)
	archive.mu.Lock()
	archive.allocate[int64(remoteSunum)] = alloc.Sudir
	archive.mu.Unlock()

	var resolveCalls int32
	resolver := resolverFunc(func(ctx context.Context, siteCode int, bySeries map[string][]types.SUNUM) sums.RemoteAction {
			atomic.AddInt32(&resolveCalls, 1)
			return sums.RemoteRetryOnce
	})

	_, addr := newTestDispatcher(t, mgr, archive, resolver)

	const sessions = 2
	results := make(chan string, sessions)
	errs := make(chan error, sessions)

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			c := sums.NewClient(addr)
			sess, err := c.OpenSession(ctx, "t", types.CapOfflineRetrieve)
			if err != nil {
				errs <- err
				return
			}
			dir, err := getUnitRetrieve(ctx, addr, sess.ID, remoteSunum)
			if err != nil {
				errs <- err
				return
			}
			results <- dir
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent GetStorageUnit error: %v", err)
	}

	var dirs []string
	for dir := range results {
		dirs = append(dirs, dir)
	}
	if len(dirs) != sessions {
		t.Fatalf("got %d successful replies, want %d", len(dirs), sessions)
	}
	for _, dir := range dirs {
		if dir != alloc.Sudir {
			t.Errorf("session got sudir %q, want %q", dir, alloc.Sudir)
		}
	}

	// Invariant: the resolver is invoked at most once per concurrent
	// caller — never retried within a single GETUNIT call.
	if got := atomic.LoadInt32(&resolveCalls); got > sessions {
		t.Errorf("resolver invoked %d times for %d sessions, want at most %d", got, sessions, sessions)
	}
}

// getUnitRetrieve issues a raw GETUNIT request with retrieve=1, the one
// flag sums.Client.GetStorageUnit never sets (it's reserved for callers
// willing to wait on a remote-site resolve), and returns the resolved
// sudir.
func getUnitRetrieve(ctx context.Context, addr, sessionID string, sunum types.SUNUM) (string, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	req := sums.Request{
		Op: sums.OpGetUnit,
		Args: sums.KVList{
			kvString("session_id", sessionID),
			kvInt("sunum", int64(sunum)),
			kvInt("retrieve", 1),
		},
	}
	if err := sums.WriteRequest(conn, req); err != nil {
		return "", err
	}
	status, reply, err := sums.ReadReply(conn)
	if err != nil {
		return "", err
	}
	if status != sums.StatusOK {
		return "", fmt.Errorf("getunit: status %d", status)
	}
	return reply.String("sudir"), nil
}

type resolverFunc func(ctx context.Context, siteCode int, bySeries map[string][]types.SUNUM) sums.RemoteAction

func (f resolverFunc) Resolve(ctx context.Context, siteCode int, bySeries map[string][]types.SUNUM) sums.RemoteAction {
	return f(ctx, siteCode, bySeries)
}
