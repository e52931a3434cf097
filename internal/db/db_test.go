package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	run := &Run{ID: "run-1", Board: "rk3588", Bucket: "s3://images/nightly", Suffix: "beta", Clean: true, User: "ci", Host: "builder"}
	if err := db.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := db.SetPackages(ctx, "run-1", 42); err != nil {
		t.Fatalf("SetPackages: %v", err)
	}

	got, err := db.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != StatusRunning || got.ExitCode != nil || got.CompletedAt != nil || got.Packages != 42 || !got.Clean {
		t.Errorf("unexpected fresh run %+v", got)
	}

	if err := db.CompleteRun(ctx, "run-1", StatusBuildFailed, 2, 90*time.Second, "build exited with code 2"); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	got, err = db.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != StatusBuildFailed || got.ExitCode == nil || *got.ExitCode != 2 || got.CompletedAt == nil {
		t.Errorf("unexpected completed run %+v", got)
	}
	if got.DurationSeconds == nil || *got.DurationSeconds != 90 || got.ErrorMessage == "" {
		t.Errorf("duration or error not stored: %+v", got)
	}

	if err := db.CompleteRun(ctx, "missing", StatusSucceeded, 0, 0, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := db.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUploadsAndListRuns(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	base := time.Now().Add(-time.Hour)
	for i, board := range []string{"rk3588", "x86_64", "rk3588"} {
		run := &Run{ID: board + string(rune('a'+i)), Board: board, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := db.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	uploads := []*Upload{
		{RunID: "rk3588c", RemoteKey: "b", LocalPath: "/tmp/b", SizeBytes: 10, Attempts: 1, Status: UploadSucceeded},
		{RunID: "rk3588c", RemoteKey: "a", LocalPath: "/tmp/a", SizeBytes: 20, Attempts: 5, Status: UploadFailed, ErrorMessage: "timeout"},
		{RunID: "rk3588c", RemoteKey: "c", LocalPath: "/tmp/c", SizeBytes: 30, Attempts: 2, Status: UploadSucceeded},
	}
	for _, u := range uploads {
		if err := db.AddUpload(ctx, u); err != nil {
			t.Fatalf("AddUpload: %v", err)
		}
		if u.ID == 0 {
			t.Errorf("upload id not assigned")
		}
	}

	listed, err := db.ListUploads(ctx, "rk3588c")
	if err != nil {
		t.Fatalf("ListUploads: %v", err)
	}
	if len(listed) != 3 || listed[0].RemoteKey != "a" || listed[0].ErrorMessage != "timeout" {
		t.Errorf("unexpected uploads %+v", listed)
	}

	runs, err := db.ListRuns(ctx, "rk3588", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "rk3588c" {
		t.Fatalf("expected newest rk3588 run first, got %+v", runs)
	}
	if runs[0].UploadsSucceeded != 2 || runs[0].UploadsFailed != 1 {
		t.Errorf("upload counts = %d/%d, want 2/1", runs[0].UploadsSucceeded, runs[0].UploadsFailed)
	}

	all, err := db.ListRuns(ctx, "", 1)
	if err != nil || len(all) != 1 {
		t.Errorf("limit not applied: %v, %v", all, err)
	}

	if err := db.AddUpload(ctx, &Upload{RunID: "nope", RemoteKey: "x", LocalPath: "/x", Status: UploadFailed}); err == nil {
		t.Errorf("uploads must reference an existing run")
	}

	n, err := db.DeleteRunsBefore(ctx, base.Add(90*time.Second))
	if err != nil || n != 2 {
		t.Errorf("DeleteRunsBefore = %d, %v; want 2", n, err)
	}
	if left, _ := db.ListUploads(ctx, "rk3588c"); len(left) != 3 {
		t.Errorf("uploads of kept runs must survive pruning")
	}
}
