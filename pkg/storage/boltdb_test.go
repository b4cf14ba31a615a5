package storage

import (
	"testing"

	"github.com/suncumby/drms/pkg/types"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStorageUnitCRUD(t *testing.T) {
	store := openTestStore(t)
	sunum := types.MakeSUNUM(1, 1001)

	su := &types.StorageUnit{
		Sunum:  sunum,
		Series: "hmi.v_45s",
		Dir:    "/SUM1/D00001001",
		Mode:   types.SUReadWrite,
		NFree:  8,
	}
	if err := store.CreateStorageUnit(su); err != nil {
		t.Fatalf("CreateStorageUnit() error = %v", err)
	}

	got, err := store.GetStorageUnit(sunum)
	if err != nil {
		t.Fatalf("GetStorageUnit() error = %v", err)
	}
	if got.Series != "hmi.v_45s" || got.NFree != 8 {
		t.Errorf("GetStorageUnit() = %+v, want series hmi.v_45s nfree 8", got)
	}

	got.NFree = 7
	if err := store.UpdateStorageUnit(got); err != nil {
		t.Fatalf("UpdateStorageUnit() error = %v", err)
	}
	got2, _ := store.GetStorageUnit(sunum)
	if got2.NFree != 7 {
		t.Errorf("NFree after update = %d, want 7", got2.NFree)
	}

	if err := store.DeleteStorageUnit(sunum); err != nil {
		t.Fatalf("DeleteStorageUnit() error = %v", err)
	}
	if _, err := store.GetStorageUnit(sunum); err == nil {
		t.Error("expected error after delete, got nil")
	}
}

func TestListStorageUnitsBySeries(t *testing.T) {
	store := openTestStore(t)
	for i, series := range []string{"a.s", "a.s", "b.s"} {
		store.CreateStorageUnit(&types.StorageUnit{
			Sunum:  types.MakeSUNUM(1, int64(1000+i)),
			Series: series,
		})
	}
	units, err := store.ListStorageUnitsBySeries("a.s")
	if err != nil {
		t.Fatalf("ListStorageUnitsBySeries() error = %v", err)
	}
	if len(units) != 2 {
		t.Errorf("len(units) = %d, want 2", len(units))
	}
}

func TestSessionCRUD(t *testing.T) {
	store := openTestStore(t)
	sess := &types.Session{ID: "sess-1", Namespace: "hmi"}
	if err := store.CreateSession(sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	got, err := store.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Namespace != "hmi" {
		t.Errorf("Namespace = %q, want hmi", got.Namespace)
	}
	if err := store.DeleteSession("sess-1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, err := store.GetSession("sess-1"); err == nil {
		t.Error("expected error after delete, got nil")
	}
}

func TestTapeGroupRoundRobinState(t *testing.T) {
	store := openTestStore(t)

	state, err := store.GetTapeGroup(3)
	if err != nil {
		t.Fatalf("GetTapeGroup() error = %v", err)
	}
	if state.Group != 3 || state.UnitCount != 0 {
		t.Errorf("fresh GetTapeGroup() = %+v, want zero-value for group 3", state)
	}

	state.UnitCount = 5
	state.LastSunum = types.MakeSUNUM(1, 42)
	if err := store.UpdateTapeGroup(state); err != nil {
		t.Fatalf("UpdateTapeGroup() error = %v", err)
	}

	got, err := store.GetTapeGroup(3)
	if err != nil {
		t.Fatalf("GetTapeGroup() error = %v", err)
	}
	if got.UnitCount != 5 || got.LastSunum != types.MakeSUNUM(1, 42) {
		t.Errorf("GetTapeGroup() after update = %+v", got)
	}
}

func TestCARoundTrip(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.GetCA(); err == nil {
		t.Error("expected error before SaveCA, got nil")
	}
	want := []byte("fake-pem-bytes")
	if err := store.SaveCA(want); err != nil {
		t.Fatalf("SaveCA() error = %v", err)
	}
	got, err := store.GetCA()
	if err != nil {
		t.Fatalf("GetCA() error = %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("GetCA() = %q, want %q", got, want)
	}
}
