package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager runs sagas step by step and compensates completed steps in reverse
// order when one of them fails.
type Manager struct {
	logger    *zap.Logger
	observers []func(SagaEvent)

	mu   sync.RWMutex
	last *SagaInstance
}

// NewManager creates a new saga manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger}
}

// Observe registers fn to receive every saga event. Not safe to call while a saga runs.
func (m *Manager) Observe(fn func(SagaEvent)) {
	m.observers = append(m.observers, fn)
}

// Run executes def synchronously. On failure every completed step is
// compensated and the failing step's error is returned.
func (m *Manager) Run(ctx context.Context, def SagaDefinition, data SagaData) (*SagaInstance, error) {
	if data == nil {
		data = SagaData{}
	}

	steps := def.Steps()
	execs := make([]StepExecution, len(steps))
	for i, step := range steps {
		execs[i] = StepExecution{ID: step.ID(), State: StepStatePending}
	}

	instance := &SagaInstance{
		ID:         SagaID(fmt.Sprintf("%s_%s", def.ID(), uuid.NewString())),
		Definition: def.ID(),
		State:      SagaStateStarted,
		Data:       data,
		Steps:      execs,
		StartedAt:  time.Now(),
	}
	m.setLast(instance)
	m.emit(SagaEvent{SagaID: instance.ID, Type: EventSagaStarted, Timestamp: instance.StartedAt})

	if timeout := def.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	m.update(func() { instance.State = SagaStateRunning })

	lastCompleted := -1
	var stepErr error
	for i, step := range steps {
		if err := m.executeStep(ctx, instance, i, step); err != nil {
			m.logger.Error("Step failed",
				zap.String("sagaID", string(instance.ID)),
				zap.String("stepID", string(step.ID())),
				zap.Error(err))
			stepErr = err
			break
		}
		lastCompleted = i
	}

	if stepErr != nil {
		m.logger.Info("Starting compensation", zap.String("sagaID", string(instance.ID)))
		// compensation must run even if the caller's context is already done
		m.compensate(context.WithoutCancel(ctx), instance, steps, lastCompleted)
		m.update(func() { instance.Error = stepErr.Error() })
		return instance, stepErr
	}

	m.complete(instance)
	return instance, nil
}

// Last returns the most recently started saga instance
func (m *Manager) Last() (*SagaInstance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.last != nil
}

func (m *Manager) executeStep(ctx context.Context, instance *SagaInstance, i int, step Step) error {
	now := time.Now()
	m.update(func() {
		instance.Steps[i].State = StepStateRunning
		instance.Steps[i].StartedAt = &now
	})
	m.emit(SagaEvent{SagaID: instance.ID, StepID: step.ID(), Type: EventStepStarted, Timestamp: now})

	if err := ctx.Err(); err != nil {
		m.failStep(instance, i, step, err)
		return err
	}

	result := step.Execute(ctx, instance.Data)
	if !result.Success {
		err := result.Error
		if err == nil {
			err = fmt.Errorf("step %s failed", step.ID())
		}
		m.failStep(instance, i, step, err)
		return err
	}

	now = time.Now()
	m.update(func() {
		if result.Data != nil {
			instance.Data[string(step.ID())] = result.Data
		}
		instance.Steps[i].State = StepStateCompleted
		instance.Steps[i].CompletedAt = &now
	})
	m.emit(SagaEvent{SagaID: instance.ID, StepID: step.ID(), Type: EventStepCompleted, Timestamp: now})

	m.logger.Debug("Step completed",
		zap.String("sagaID", string(instance.ID)),
		zap.String("stepID", string(step.ID())))
	return nil
}

func (m *Manager) failStep(instance *SagaInstance, i int, step Step, err error) {
	now := time.Now()
	m.update(func() {
		instance.Steps[i].State = StepStateFailed
		instance.Steps[i].Error = err.Error()
		instance.Steps[i].CompletedAt = &now
	})
	m.emit(SagaEvent{SagaID: instance.ID, StepID: step.ID(), Type: EventStepFailed, Timestamp: now, Error: err.Error()})
}

// compensate runs compensation for completed steps in reverse order
func (m *Manager) compensate(ctx context.Context, instance *SagaInstance, steps []Step, lastCompleted int) {
	for i := lastCompleted; i >= 0; i-- {
		step := steps[i]

		m.logger.Info("Compensating step",
			zap.String("sagaID", string(instance.ID)),
			zap.String("stepID", string(step.ID())))

		if err := step.Compensate(ctx, instance.Data); err != nil {
			m.logger.Error("Compensation failed",
				zap.String("sagaID", string(instance.ID)),
				zap.String("stepID", string(step.ID())),
				zap.Error(err))
			continue
		}

		m.update(func() { instance.Steps[i].State = StepStateCompensated })
		m.emit(SagaEvent{SagaID: instance.ID, StepID: step.ID(), Type: EventStepCompensated, Timestamp: time.Now()})
	}

	now := time.Now()
	m.update(func() {
		instance.State = SagaStateCompensated
		instance.CompletedAt = &now
	})
	m.emit(SagaEvent{SagaID: instance.ID, Type: EventSagaCompensated, Timestamp: now})
	m.logger.Info("Saga compensated", zap.String("sagaID", string(instance.ID)))
}

func (m *Manager) complete(instance *SagaInstance) {
	now := time.Now()
	m.update(func() {
		instance.State = SagaStateCompleted
		instance.CompletedAt = &now
	})
	m.emit(SagaEvent{SagaID: instance.ID, Type: EventSagaCompleted, Timestamp: now})
	m.logger.Info("Saga completed", zap.String("sagaID", string(instance.ID)))
}

func (m *Manager) setLast(instance *SagaInstance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = instance
}

func (m *Manager) update(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

func (m *Manager) emit(event SagaEvent) {
	for _, fn := range m.observers {
		fn(event)
	}
}

// NewDefinition builds a SagaDefinition from a fixed list of steps
func NewDefinition(name string, timeout time.Duration, steps ...Step) SagaDefinition {
	return &definition{name: name, steps: steps, timeout: timeout}
}

type definition struct {
	name    string
	steps   []Step
	timeout time.Duration
}

func (d *definition) ID() string             { return d.name }
func (d *definition) Steps() []Step          { return d.steps }
func (d *definition) Timeout() time.Duration { return d.timeout }

// StepFunc adapts a pair of functions to the Step interface
type StepFunc struct {
	Name           StepID
	ExecuteFunc    func(ctx context.Context, data SagaData) StepResult
	CompensateFunc func(ctx context.Context, data SagaData) error
}

func (s StepFunc) ID() StepID { return s.Name }

func (s StepFunc) Execute(ctx context.Context, data SagaData) StepResult {
	return s.ExecuteFunc(ctx, data)
}

func (s StepFunc) Compensate(ctx context.Context, data SagaData) error {
	if s.CompensateFunc == nil {
		return nil
	}
	return s.CompensateFunc(ctx, data)
}
