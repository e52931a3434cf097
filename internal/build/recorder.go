package build

import (
	"context"

	"github.com/schererja/boardforge/internal/db"
	"github.com/schererja/boardforge/internal/upload"
)

// ledgerRecorder stores upload outcomes against one run.
type ledgerRecorder struct {
	ledger *db.DB
	runID  string
}

func (l *ledgerRecorder) RecordUpload(ctx context.Context, o upload.Outcome) error {
	u := &db.Upload{
		RunID:     l.runID,
		RemoteKey: o.Key,
		URL:       o.URL,
		LocalPath: o.LocalPath,
		SizeBytes: o.Size,
		Attempts:  o.Attempts,
		Status:    db.UploadSucceeded,
	}
	if o.Err != nil {
		u.Status = db.UploadFailed
		u.ErrorMessage = o.Err.Error()
	}
	return l.ledger.AddUpload(ctx, u)
}
