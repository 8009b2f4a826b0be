// Package archive persists quality reports and migration records to object
// storage as JSON blobs, optionally snappy-compressed, for audit trails and
// downstream reporting. Archival is best-effort: a failed write never fails
// the validation run that produced the report.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/golang/snappy"

	dgerrors "github.com/driftgate/driftgate/internal/errors"
	"github.com/driftgate/driftgate/internal/report"
	"github.com/driftgate/driftgate/internal/storage"
	"github.com/driftgate/driftgate/pkg/types"
)

// Archiver writes reports and migration records to an object store under a
// stable, date-partitioned layout:
//
//	reports/<dataset>/<yyyy-mm-dd>/<reportID>.json[.sz]
//	migrations/<dataset>/v<NNNN>.json[.sz]
type Archiver struct {
	store    storage.ObjectStorage
	compress bool
}

// New creates an archiver over the given store.
func New(store storage.ObjectStorage, compress bool) *Archiver {
	return &Archiver{store: store, compress: compress}
}

// ArchiveReport persists a quality report and returns its object path.
func (a *Archiver) ArchiveReport(ctx context.Context, rep report.QualityReport) (string, error) {
	objectPath := path.Join(
		"reports", rep.Dataset,
		rep.GeneratedAt.UTC().Format("2006-01-02"),
		rep.ReportID+".json",
	)
	return a.put(ctx, objectPath, rep)
}

// ArchiveMigration persists a migration record and returns its object path.
func (a *Archiver) ArchiveMigration(ctx context.Context, rec types.MigrationRecord) (string, error) {
	objectPath := path.Join(
		"migrations", rec.Dataset,
		fmt.Sprintf("v%04d.json", rec.ToVersion),
	)
	return a.put(ctx, objectPath, rec)
}

// ReadReport loads an archived report back from its object path.
func (a *Archiver) ReadReport(ctx context.Context, objectPath string) (report.QualityReport, error) {
	var rep report.QualityReport
	data, err := a.get(ctx, objectPath)
	if err != nil {
		return rep, err
	}
	if err := json.Unmarshal(data, &rep); err != nil {
		return rep, dgerrors.NewStorageError(dgerrors.CodeArchiveFailed,
			fmt.Sprintf("failed to decode archived report %s", objectPath), err)
	}
	return rep, nil
}

// ListReports returns the object paths of all archived reports for a
// dataset, or all datasets when dataset is empty.
func (a *Archiver) ListReports(ctx context.Context, dataset string) ([]string, error) {
	prefix := "reports"
	if dataset != "" {
		prefix = path.Join(prefix, dataset)
	}
	return a.store.List(ctx, prefix)
}

func (a *Archiver) put(ctx context.Context, objectPath string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", dgerrors.NewStorageError(dgerrors.CodeArchiveFailed,
			fmt.Sprintf("failed to encode %s", objectPath), err)
	}
	if a.compress {
		data = snappy.Encode(nil, data)
		objectPath += ".sz"
	}
	if err := a.store.Put(ctx, objectPath, data); err != nil {
		return "", dgerrors.NewStorageError(dgerrors.CodeArchiveFailed,
			fmt.Sprintf("failed to store %s", objectPath), err)
	}
	return objectPath, nil
}

func (a *Archiver) get(ctx context.Context, objectPath string) ([]byte, error) {
	data, err := a.store.Get(ctx, objectPath)
	if err != nil {
		return nil, dgerrors.NewStorageError(dgerrors.CodeArchiveFailed,
			fmt.Sprintf("failed to read %s", objectPath), err)
	}
	if strings.HasSuffix(objectPath, ".sz") {
		decoded, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, dgerrors.NewStorageError(dgerrors.CodeArchiveFailed,
				fmt.Sprintf("failed to decompress %s", objectPath), err)
		}
		return decoded, nil
	}
	return data, nil
}
