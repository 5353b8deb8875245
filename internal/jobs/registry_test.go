package jobs

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/tile-seeder/internal/tiling/model"
)

func scheduled(id string) model.CacheJobStatus {
	return model.CacheJobStatus{JobInfo: model.CacheJobInfo{ID: id}, Status: model.StatusScheduled}
}

func TestRegistry_AddGetDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(scheduled("a")); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(scheduled("a")); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("want ErrDuplicateJob, got %v", err)
	}
	if err := r.Add(scheduled("")); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("want ErrInvalidRequest for empty id, got %v", err)
	}
	st, ok := r.Get("a")
	if !ok || st.Status != model.StatusScheduled {
		t.Fatalf("Get: %v %v", st, ok)
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("unknown id must not be found")
	}
}

func TestRegistry_Lifecycle(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		path []model.Status
		want model.Status
	}{
		{"complete", []model.Status{model.StatusRunning, model.StatusComplete}, model.StatusComplete},
		{"fail", []model.Status{model.StatusRunning, model.StatusFailed}, model.StatusFailed},
		{"abort while running", []model.Status{model.StatusRunning, model.StatusAborting, model.StatusAborted}, model.StatusAborted},
		{"abort while scheduled", []model.Status{model.StatusAborting, model.StatusAborted}, model.StatusAborted},
		{"complete while aborting", []model.Status{model.StatusRunning, model.StatusAborting, model.StatusComplete}, model.StatusAborted},
		{"no restart after abort request", []model.Status{model.StatusAborting, model.StatusRunning}, model.StatusAborting},
		{"finished is terminal", []model.Status{model.StatusRunning, model.StatusComplete, model.StatusFailed, model.StatusRunning}, model.StatusComplete},
		{"aborting twice", []model.Status{model.StatusRunning, model.StatusAborting, model.StatusAborting}, model.StatusAborting},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := NewRegistry()
			if err := r.Add(scheduled("j")); err != nil {
				t.Fatal(err)
			}
			var st model.CacheJobStatus
			for _, s := range c.path {
				st, _ = r.Transition("j", s, "boom", at)
			}
			if st.Status != c.want {
				t.Fatalf("status=%s want %s", st.Status, c.want)
			}
		})
	}
}

func TestRegistry_TransitionTimestampsAndError(t *testing.T) {
	r := NewRegistry()
	_ = r.Add(scheduled("j"))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)

	st, _ := r.Transition("j", model.StatusRunning, "", start)
	if !st.Started.Equal(start) || !st.Finished.IsZero() {
		t.Fatalf("started=%v finished=%v", st.Started, st.Finished)
	}
	st, _ = r.Transition("j", model.StatusFailed, "disk full", end)
	if !st.Finished.Equal(end) || st.Error != "disk full" {
		t.Fatalf("finished=%v error=%q", st.Finished, st.Error)
	}
	if _, ok := r.Transition("missing", model.StatusRunning, "", start); ok {
		t.Fatal("unknown id must report false")
	}
}

func TestRegistry_ProgressFrozenWhenFinished(t *testing.T) {
	r := NewRegistry()
	_ = r.Add(scheduled("j"))
	inc := func(p *model.Progress) { p.MetaTilesDone++ }
	if !r.UpdateProgress("j", inc) {
		t.Fatal("progress update on live job rejected")
	}
	r.Transition("j", model.StatusAborted, "", time.Now())
	if r.UpdateProgress("j", inc) {
		t.Fatal("progress update on finished job accepted")
	}
	st, _ := r.Get("j")
	if st.Progress.MetaTilesDone != 1 {
		t.Fatalf("meta tiles done=%d", st.Progress.MetaTilesDone)
	}
}

func TestRegistry_PruneFinishedKeepsAlive(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"A", "B", "C"} {
		_ = r.Add(scheduled(id))
		r.Transition(id, model.StatusRunning, "", time.Now())
	}
	r.Transition("A", model.StatusComplete, "", time.Now())
	r.Transition("C", model.StatusComplete, "", time.Now())

	pruned := r.PruneFinished()
	if len(pruned) != 2 || pruned[0].JobID() != "A" || pruned[1].JobID() != "C" {
		t.Fatalf("pruned=%v", pruned)
	}
	all := r.All()
	if len(all) != 1 || all[0].JobID() != "B" || all[0].Status != model.StatusRunning {
		t.Fatalf("remaining=%v", all)
	}
	if n := len(r.PruneFinished()); n != 0 {
		t.Fatalf("second prune removed %d", n)
	}
}

func TestRegistry_LaunchOrderAndConcurrency(t *testing.T) {
	r := NewRegistry()
	const n = 200
	for i := range n {
		if err := r.Add(scheduled(fmt.Sprintf("job-%03d", i))); err != nil {
			t.Fatal(err)
		}
	}
	all := r.All()
	for i, st := range all {
		if want := fmt.Sprintf("job-%03d", i); st.JobID() != want {
			t.Fatalf("position %d: %s want %s", i, st.JobID(), want)
		}
	}

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.Transition(id, model.StatusRunning, "", time.Now())
			r.UpdateProgress(id, func(p *model.Progress) { p.TilesDone++ })
			r.Transition(id, model.StatusComplete, "", time.Now())
		}(fmt.Sprintf("job-%03d", i))
	}
	wg.Wait()
	if alive := r.Alive(); len(alive) != 0 {
		t.Fatalf("alive=%d", len(alive))
	}
	if pruned := r.PruneFinished(); len(pruned) != n || r.Len() != 0 {
		t.Fatalf("pruned=%d len=%d", len(pruned), r.Len())
	}
}
