package sums

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/suncumby/drms/pkg/types"
)

// manifestName is the tape-records manifest filename written to each
// committed unit directory.
const manifestName = "Records.txt"

// WriteManifest writes su's Records.txt: an optional leading
// DELETE_SLOTS_RECORDS flag, the series name, a slot/recnum header, and
// one (slot, recnum) line per FULL slot.
func WriteManifest(su *types.StorageUnit, deleteSlotsRecords bool) error {
	if err := os.MkdirAll(su.Dir, 0755); err != nil {
		return fmt.Errorf("sums: create unit directory %s: %w", su.Dir, err)
	}
	f, err := os.Create(filepath.Join(su.Dir, manifestName))
	if err != nil {
		return fmt.Errorf("sums: create manifest in %s: %w", su.Dir, err)
	}
	defer f.Close()

	if deleteSlotsRecords {
		if _, err := fmt.Fprintln(f, "DELETE_SLOTS_RECORDS"); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(f, "series=%s\n", su.Series); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(f, "slot\trecord number"); err != nil {
		return err
	}
	for slot, state := range su.State {
		if state != types.SlotFull {
			continue
		}
		if _, err := fmt.Fprintf(f, "%d\t%d\n", slot, su.Recnum[slot]); err != nil {
			return err
		}
	}
	return nil
}
