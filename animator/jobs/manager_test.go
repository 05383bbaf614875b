package jobs

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func waitJob(t *testing.T, m *Manager, id string) Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := m.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait(%s): %v", id, err)
	}
	return job
}

func TestManagerCompletesJob(t *testing.T) {
	m := NewManager(nil, 1, nil)
	job, err := m.Submit("combine", func(ctx context.Context, progress func(int, string)) (string, error) {
		progress(50, "half way")
		return "combined_video.mp4", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != StatusPending || job.ID == "" {
		t.Errorf("submitted job = %+v", job)
	}

	done := waitJob(t, m, job.ID)
	if done.Status != StatusCompleted || done.Progress != 100 || done.Result != "combined_video.mp4" {
		t.Errorf("finished job = %+v", done)
	}
	if done.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestManagerRecordsErrorsVerbatim(t *testing.T) {
	m := NewManager(nil, 1, nil)
	job, _ := m.Submit("animation", func(ctx context.Context, progress func(int, string)) (string, error) {
		return "", errors.New("VOICEVOX synthesis error (500): boom")
	})
	done := waitJob(t, m, job.ID)
	if done.Status != StatusFailed || done.Error != "VOICEVOX synthesis error (500): boom" {
		t.Errorf("failed job = %+v", done)
	}
}

func TestManagerRecoversPanics(t *testing.T) {
	m := NewManager(nil, 1, nil)
	job, _ := m.Submit("animation", func(ctx context.Context, progress func(int, string)) (string, error) {
		var frames []int
		return "", errors.New(string(rune(frames[3])))
	})
	done := waitJob(t, m, job.ID)
	if done.Status != StatusFailed || !strings.HasPrefix(done.Error, "panic: ") || !strings.Contains(done.Error, "goroutine") {
		t.Errorf("panicking job = %+v", done)
	}
}

func TestManagerLimitsConcurrency(t *testing.T) {
	m := NewManager(nil, 2, nil)
	var running, peak int32
	var ids []string
	for i := 0; i < 6; i++ {
		job, err := m.Submit("animation", func(ctx context.Context, progress func(int, string)) (string, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return "", nil
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		waitJob(t, m, id)
	}
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestSubscribeReceivesProgress(t *testing.T) {
	m := NewManager(nil, 1, nil)
	release := make(chan struct{})
	job, _ := m.Submit("combine", func(ctx context.Context, progress func(int, string)) (string, error) {
		<-release
		progress(40, "layers")
		return "ok", nil
	})

	updates, cancel, ok := m.Subscribe(job.ID)
	if !ok {
		t.Fatal("job should be running")
	}
	defer cancel()
	close(release)

	var seen []int
	for u := range updates {
		seen = append(seen, u.Progress)
	}
	found := false
	for _, p := range seen {
		if p == 40 {
			found = true
		}
	}
	if !found {
		t.Errorf("progress updates = %v, want 40 among them", seen)
	}
	if final, _ := m.Get(context.Background(), job.ID); final.Status != StatusCompleted {
		t.Errorf("final = %+v", final)
	}
	if _, _, ok := m.Subscribe(job.ID); ok {
		t.Error("subscribed to a finished job")
	}
}

func TestGetUnknownJob(t *testing.T) {
	m := NewManager(nil, 1, nil)
	if _, err := m.Get(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}

func TestMemoryStoreListsNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		s.Save(ctx, Job{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}
	jobs, _ := s.List(ctx)
	if len(jobs) != 3 || jobs[0].ID != "c" || jobs[2].ID != "a" {
		t.Errorf("order = %+v", jobs)
	}
}

func TestShutdownRejectsNewJobs(t *testing.T) {
	m := NewManager(nil, 1, nil)
	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Submit("combine", func(context.Context, func(int, string)) (string, error) { return "", nil }); err == nil {
		t.Error("expected error after shutdown")
	}
}
