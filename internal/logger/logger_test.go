package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	return rec
}

func TestSlogHandler_AddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", InstanceID: "node-a"}, &buf)
	l := NewSlog(&zl)

	ctx := WithJobID(context.Background(), "job-1")
	ctx = WithComponent(ctx, "jobs")
	l.InfoContext(ctx, "job launched", "tiles", int64(42))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if rec["job_id"] != "job-1" || rec["component"] != "jobs" || rec["instance_id"] != "node-a" {
		t.Fatalf("missing context fields: %v", rec)
	}
	if rec["msg"] != "job launched" || rec["tiles"] != float64(42) {
		t.Fatalf("unexpected record: %v", rec)
	}
	if JobID(ctx) != "job-1" {
		t.Fatalf("JobID=%q", JobID(ctx))
	}
}

func TestWithHelpers_EmptyValuesIgnored(t *testing.T) {
	ctx := context.Background()
	if WithJobID(ctx, "") != ctx || WithInstanceID(ctx, "") != ctx || WithComponent(ctx, "") != ctx {
		t.Fatal("empty values must not wrap the context")
	}
	if id, _ := WithRequestID(ctx, "").Value(ctxReqIDKey).(string); len(id) != 16 {
		t.Fatalf("generated request id %q", id)
	}
}

func TestSlogHandler_TypedAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug"}, &buf)
	l := NewSlog(&zl).With("component", "seeder").WithGroup("render")

	l.Error("meta tile failed",
		"err", errors.New("upstream 500"),
		"took", 1500*time.Millisecond,
		slog.Group("tile", "z", 5, "x", int64(4)))

	rec := decodeLine(t, &buf)
	if rec["err"] != nil || rec["render.err"] != "upstream 500" {
		t.Fatalf("error attr must render its message under the group: %v", rec)
	}
	if rec["component"] != "seeder" || rec["level"] != "error" {
		t.Fatalf("record: %v", rec)
	}
	if rec["render.took"] != float64(1500) {
		t.Fatalf("duration in ms: %v", rec["render.took"])
	}
	if rec["render.tile.z"] != float64(5) || rec["render.tile.x"] != float64(4) {
		t.Fatalf("nested group: %v", rec)
	}
}

func TestSlogHandler_EnabledFollowsLevel(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	l := NewSlog(&zl)
	t.Cleanup(func() { Build(Config{Level: "debug"}, &bytes.Buffer{}) })

	if l.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info enabled at warn level")
	}
	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	l.Warn("kept")
	if decodeLine(t, &buf)["msg"] != "kept" {
		t.Fatalf("warn not written: %q", buf.String())
	}
}
