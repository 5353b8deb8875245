package redisstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/tile-seeder/internal/core/observability"
	"github.com/mohammed-shakir/tile-seeder/internal/metrics"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) *Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestSetMGetDel_HappyPath_AndMGetFiltersMissing(t *testing.T) {
	rc := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := rc.Set(ctx, "k1", []byte("v1"), 5*time.Minute)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	err = rc.Set(ctx, "k2", []byte("v2"), time.Minute)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := rc.MGet(ctx, []string{"k1", "k2", "missing"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("MGet size=%d want 2", len(got))
	}
	if string(got["k1"]) != "v1" || string(got["k2"]) != "v2" {
		t.Fatalf("unexpected values: %+v", got)
	}

	if err := rc.Del(ctx, "k1", "k2"); err != nil {
		t.Fatalf("Del: %v", err)
	}
}

func TestContextDeadline_IsRespected(t *testing.T) {
	rc := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rc.Set(ctx, "k", []byte("v"), time.Second); err == nil {
		t.Fatalf("expected error on Set with canceled context")
	}
	if _, err := rc.MGet(ctx, []string{"k"}); err == nil {
		t.Fatalf("expected error on MGet with canceled context")
	}
	if err := rc.Del(ctx, "k"); err == nil {
		t.Fatalf("expected error on Del with canceled context")
	}
}

func TestMSetWithTTL_AndSets(t *testing.T) {
	rc := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	kv := map[string][]byte{"t:1": []byte("a"), "t:2": []byte("b")}
	if err := rc.MSetWithTTL(ctx, kv, time.Minute); err != nil {
		t.Fatalf("MSetWithTTL: %v", err)
	}
	got, err := rc.MGet(ctx, []string{"t:1", "t:2"})
	if err != nil || len(got) != 2 {
		t.Fatalf("MGet=%v err=%v", got, err)
	}
	if err := rc.Del(ctx); err != nil {
		t.Fatalf("empty Del must be a no-op: %v", err)
	}

	if err := rc.SAdd(ctx, "params:l", "x", "y", "x"); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	members, err := rc.SMembers(ctx, "params:l")
	if err != nil {
		t.Fatalf("SMembers: %v", err)
	}
	sort.Strings(members)
	if strings.Join(members, ",") != "x,y" {
		t.Fatalf("members=%v", members)
	}
	if err := rc.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestMetrics_Incremented(t *testing.T) {
	p := metrics.Init(metrics.Config{})
	if err := observability.Init(p.Registerer()); err != nil {
		t.Fatalf("observability.Init: %v", err)
	}

	rc := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_ = rc.Set(ctx, "m1", []byte("x"), time.Minute)
	_, _ = rc.MGet(ctx, []string{"m1", "m2"})
	_ = rc.Del(ctx, "m1")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `tile_store_op_total{backend="redis",op="set"`) ||
		!strings.Contains(body, `tile_store_op_total{backend="redis",op="mget"`) ||
		!strings.Contains(body, `tile_store_op_total{backend="redis",op="del"`) {
		t.Fatalf("missing tile_store_op_total metrics; got:\n%s", body)
	}
	if !strings.Contains(body, `tile_store_operation_duration_seconds_bucket{backend="redis",op="set"`) {
		t.Fatalf("missing tile_store_operation_duration_seconds histogram; got:\n%s", body)
	}
	if !strings.Contains(body, `tile_store_lookups_total{backend="redis",outcome="miss"}`) {
		t.Fatalf("missing lookup counters; got:\n%s", body)
	}
}
