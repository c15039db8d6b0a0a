package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type countingTask struct {
	runs  atomic.Int32
	panic bool
}

func (t *countingTask) RunTick() {
	t.runs.Add(1)
	if t.panic {
		panic("boom")
	}
}

func TestNewScheduler_RegistersTick(t *testing.T) {
	t.Parallel()

	c := NewScheduler(Deps{AnnouncementJob: &countingTask{}}, zap.NewNop())
	if got := len(c.Entries()); got != 1 {
		t.Fatalf("expected 1 entry, got %d", got)
	}

	empty := NewScheduler(Deps{}, nil)
	if got := len(empty.Entries()); got != 0 {
		t.Fatalf("expected no entries without a job, got %d", got)
	}
}

func TestNewScheduler_RunsAndRecoversPanics(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	task := &countingTask{panic: true}
	c := NewScheduler(Deps{AnnouncementJob: task, TickSpec: "@every 1s"}, zap.New(core))
	c.Start()
	defer c.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for task.runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if task.runs.Load() < 2 {
		t.Fatalf("expected the tick to keep running after a panic, got %d runs", task.runs.Load())
	}
	if logs.FilterMessage("scheduler job panic recovered").Len() == 0 {
		t.Fatal("expected panic to be logged")
	}
}

func TestNewScheduler_InvalidSpecIsLogged(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	c := NewScheduler(Deps{AnnouncementJob: &countingTask{}, TickSpec: "every minute"}, zap.New(core))
	if got := len(c.Entries()); got != 0 {
		t.Fatalf("expected invalid spec to be skipped, got %d entries", got)
	}
	if logs.FilterMessage("register scheduler job failed").Len() != 1 {
		t.Fatal("expected registration failure to be logged")
	}
}

func TestValidateSpec(t *testing.T) {
	t.Parallel()

	for _, spec := range []string{DefaultTickSpec, "*/30 * * * * *", "@every 2m"} {
		if err := ValidateSpec(spec); err != nil {
			t.Fatalf("expected %q to be valid: %v", spec, err)
		}
	}
	for _, spec := range []string{"", "* * * * *", "61 * * * * *"} {
		if err := ValidateSpec(spec); err == nil {
			t.Fatalf("expected %q to be rejected", spec)
		}
	}
}
