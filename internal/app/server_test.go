package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/roushou/stepwise/internal/adapter/inbox"
	"github.com/roushou/stepwise/internal/domain/workflow"
	"github.com/roushou/stepwise/internal/platform/config"
	"github.com/roushou/stepwise/internal/platform/logging"
)

func testConfig(t *testing.T, backend string) config.Config {
	t.Helper()
	stateDir := t.TempDir()
	return config.Config{
		ServerName:      "stepwise-test",
		LogLevel:        "info",
		StateDir:        stateDir,
		DefinitionsPath: filepath.Join(stateDir, "workflows.yaml"),
		InboxDir:        filepath.Join(stateDir, "inbox"),
		SessionBackend:  backend,
		SessionTTL:      time.Hour,
		RedisKeyPrefix:  "stepwise:",
		RedisLockTTL:    5 * time.Second,
		RunlogRetention: time.Hour,
		ShutdownTimeout: 2 * time.Second,
	}
}

func newTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	application, err := NewWithLogger(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(application.Close)
	for _, id := range []string{"a1", "a2"} {
		if err := application.Mailbox().Put(inbox.Message{ID: id, From: "bob@example.com", Subject: id}); err != nil {
			t.Fatalf("put message: %v", err)
		}
	}
	return application
}

func walkToCompletion(t *testing.T, application *App) string {
	t.Helper()
	ctx := context.Background()
	resp, err := application.Steps().Start(ctx, "unread-inbox")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if resp.Progress.Total != 2 {
		t.Fatalf("unexpected progress: %#v", resp.Progress)
	}
	token := resp.Token
	for i := 0; i < 2; i++ {
		resp, err = application.Steps().Continue(ctx, token, workflow.ActionRequest{Kind: workflow.ActionArchive})
		if err != nil {
			t.Fatalf("continue %d: %v", i, err)
		}
	}
	if !resp.Completed {
		t.Fatalf("expected completed session: %#v", resp)
	}
	return token
}

func TestAppFileBackendEndToEnd(t *testing.T) {
	cfg := testConfig(t, config.BackendFile)
	application := newTestApp(t, cfg)
	token := walkToCompletion(t, application)

	if _, err := os.Stat(filepath.Join(cfg.SessionDir(), token+".json")); err != nil {
		t.Fatalf("expected session record on disk: %v", err)
	}
	if _, err := os.Stat(cfg.DefinitionsPath); err != nil {
		t.Fatalf("expected seeded definitions document: %v", err)
	}
	records, err := application.Runlogs().List(context.Background())
	if err != nil {
		t.Fatalf("list runlog: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected two archive records, got %#v", records)
	}
	msg, err := application.Mailbox().Get("a1")
	if err != nil {
		t.Fatalf("get a1: %v", err)
	}
	if msg.Folder != inbox.FolderArchive {
		t.Fatalf("expected a1 archived: %#v", msg)
	}
}

func TestAppRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, config.BackendRedis)
	cfg.RedisAddr = mr.Addr()
	application := newTestApp(t, cfg)
	token := walkToCompletion(t, application)

	if !mr.Exists("stepwise:session:" + token) {
		t.Fatalf("expected session key in redis, keys=%v", mr.Keys())
	}
}

func TestAppRedisUnavailable(t *testing.T) {
	cfg := testConfig(t, config.BackendRedis)
	cfg.RedisAddr = "127.0.0.1:1"
	if _, err := NewWithLogger(cfg, logging.Discard()); err == nil {
		t.Fatal("expected redis connection error")
	}
}

func TestAppRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "sqlite")
	if _, err := NewWithLogger(cfg, logging.Discard()); err == nil {
		t.Fatal("expected config validation error")
	}
}

func TestSweepPrunesRunlogAndSessions(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.SessionTTL = 200 * time.Millisecond
	cfg.RunlogRetention = time.Millisecond
	application := newTestApp(t, cfg)

	ctx := context.Background()
	resp, err := application.Steps().Start(ctx, "unread-inbox")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := application.Steps().Continue(ctx, resp.Token, workflow.ActionRequest{Kind: workflow.ActionSkip}); err != nil {
		t.Fatalf("continue: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	result := application.Sweep(ctx)
	if result.SessionsRemoved != 1 {
		t.Fatalf("expected one expired session removed, got %#v", result)
	}
	if result.RunsPruned != 1 {
		t.Fatalf("expected one runlog record pruned, got %#v", result)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.CleanupInterval = 10 * time.Millisecond
	application := newTestApp(t, cfg)

	reader, writer := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- application.Serve(ctx, reader, io.Discard)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	_ = writer.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

func TestContextWithShutdownSignalCancel(t *testing.T) {
	ctx, cancel := ContextWithShutdownSignal(context.Background())
	cancel()
	<-ctx.Done()
	if ctx.Err() != context.Canceled {
		t.Fatalf("unexpected context error: %v", ctx.Err())
	}
}
