package bucket

import (
	"context"
	"io/fs"
	"path/filepath"

	pkgerrors "github.com/omalloc/depot/pkg/errors"
)

// ReconcileReport is the result of comparing the on-disk files/ tree
// against the Path Index.
type ReconcileReport struct {
	// OrphanFSPaths exist under files/ but have no Path Index row.
	OrphanFSPaths []string
	// DanglingIndexRows are indexed but have no matching files/ entry.
	DanglingIndexRows []string
}

func (r ReconcileReport) Clean() bool {
	return len(r.OrphanFSPaths) == 0 && len(r.DanglingIndexRows) == 0
}

// Reconcile compares files/ against the Path Index and reports — but does
// not repair — any mismatch. Index-ahead-of-FS is the expected shape of a
// crash mid-rename; FS-ahead-of-index is the expected shape of a crash
// mid-add. Callers that want automatic repair should inspect the report
// and remove orphans / re-index dangling rows themselves.
func (b *Bucket) Reconcile(ctx context.Context) (ReconcileReport, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	fsPaths := map[string]bool{}
	err := filepath.WalkDir(b.filesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == b.filesDir {
			return nil
		}
		rel, err := filepath.Rel(b.filesDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			rel += "/"
		}
		fsPaths[rel] = true
		return nil
	})
	if err != nil {
		return ReconcileReport{}, pkgerrors.IO(err)
	}

	tx, err := b.pi.Begin(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}
	defer rollback(tx)

	rows, err := b.pi.AllPaths(ctx, tx)
	if err != nil {
		return ReconcileReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return ReconcileReport{}, pkgerrors.IO(err)
	}

	indexed := map[string]bool{}
	for _, row := range rows {
		indexed[row.Path] = true
	}

	var report ReconcileReport
	for p := range fsPaths {
		if !indexed[p] {
			report.OrphanFSPaths = append(report.OrphanFSPaths, p)
		}
	}
	for p := range indexed {
		if !fsPaths[p] {
			report.DanglingIndexRows = append(report.DanglingIndexRows, p)
		}
	}

	if !report.Clean() {
		b.log.Warnf("bucket %s: reconcile found %d orphan fs paths, %d dangling index rows",
			b.uuid, len(report.OrphanFSPaths), len(report.DanglingIndexRows))
	}
	return report, nil
}
