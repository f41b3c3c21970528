package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type recorder struct {
	calls []string
}

func (r *recorder) step(name string, fail error) Step {
	return StepFunc{
		Name: StepID(name),
		ExecuteFunc: func(ctx context.Context, data SagaData) StepResult {
			r.calls = append(r.calls, "exec:"+name)
			if fail != nil {
				return Fail(fail)
			}
			return Ok(name + "-result")
		},
		CompensateFunc: func(ctx context.Context, data SagaData) error {
			r.calls = append(r.calls, "comp:"+name)
			return nil
		},
	}
}

func TestRunCompletes(t *testing.T) {
	rec := &recorder{}
	m := NewManager(zaptest.NewLogger(t))

	var events []string
	m.Observe(func(e SagaEvent) { events = append(events, e.Type) })

	def := NewDefinition("start", time.Second, rec.step("a", nil), rec.step("b", nil))
	instance, err := m.Run(context.Background(), def, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if instance.State != SagaStateCompleted {
		t.Errorf("State = %s, want completed", instance.State)
	}
	if instance.Data["b"] != "b-result" {
		t.Errorf("step result not stored in saga data: %v", instance.Data)
	}
	if len(rec.calls) != 2 {
		t.Errorf("calls = %v", rec.calls)
	}
	if events[0] != EventSagaStarted || events[len(events)-1] != EventSagaCompleted {
		t.Errorf("events = %v", events)
	}
	if last, ok := m.Last(); !ok || last.ID != instance.ID {
		t.Error("Last() should return the instance just run")
	}
}

func TestRunCompensatesInReverse(t *testing.T) {
	rec := &recorder{}
	m := NewManager(zaptest.NewLogger(t))
	boom := errors.New("boom")

	def := NewDefinition("start", 0, rec.step("a", nil), rec.step("b", nil), rec.step("c", boom))
	instance, err := m.Run(context.Background(), def, SagaData{})
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want boom", err)
	}

	want := []string{"exec:a", "exec:b", "exec:c", "comp:b", "comp:a"}
	if len(rec.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", rec.calls, want)
	}
	for i := range want {
		if rec.calls[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, rec.calls[i], want[i])
		}
	}

	if instance.State != SagaStateCompensated {
		t.Errorf("State = %s, want compensated", instance.State)
	}
	if instance.Steps[2].State != StepStateFailed {
		t.Errorf("failing step state = %s", instance.Steps[2].State)
	}
	if instance.Steps[0].State != StepStateCompensated {
		t.Errorf("first step state = %s", instance.Steps[0].State)
	}
	if instance.Error != "boom" {
		t.Errorf("Error = %q", instance.Error)
	}
}

func TestRunCancelledContext(t *testing.T) {
	rec := &recorder{}
	m := NewManager(zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Run(ctx, NewDefinition("start", 0, rec.step("a", nil)), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if len(rec.calls) != 0 {
		t.Errorf("no step should execute on a cancelled context, got %v", rec.calls)
	}
}
