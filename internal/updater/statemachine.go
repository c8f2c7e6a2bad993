package updater

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	fsmutil "github.com/autopeer-io/fwagent/internal/pkg/util/fsm"
	"github.com/autopeer-io/fwagent/pkg/log"
)

// Phase is the lifecycle phase of an update attempt. NeedCompletion and
// Finalizing survive process restarts: an agent that comes back up with a
// pending version resumes the machine at NeedCompletion.
type Phase string

const (
	PhaseIdle           Phase = "Idle"
	PhaseInstalling     Phase = "Installing"
	PhaseNeedCompletion Phase = "NeedCompletion"
	PhaseFinalizing     Phase = "Finalizing"
	PhaseOk             Phase = "Ok"
	PhaseInstallFailed  Phase = "InstallFailed"
)

const (
	// EventStart begins a new install attempt.
	EventStart = "event_start"
	// EventStaged records that the engine accepted the full image.
	EventStaged = "event_staged"
	// EventFail terminates the attempt from any active phase.
	EventFail = "event_fail"
	// EventFinalize begins post-reboot verification.
	EventFinalize = "event_finalize"
	// EventConfirm records that the expected image is confirmed running.
	EventConfirm = "event_confirm"
	// EventRollback records that the bootloader fell back to the old image.
	EventRollback = "event_rollback"
)

// Attempt tracks the phase of a single update from first byte to confirmed
// boot. Illegal transitions surface as errors rather than silent state
// corruption.
type Attempt struct {
	*fsm.FSM

	log log.Logger
}

// NewAttempt creates an Attempt in the Idle phase.
func NewAttempt() *Attempt {
	return NewAttemptAt(PhaseIdle)
}

// NewAttemptAt resumes an Attempt at the given phase, used after a process
// restart with a pending version on record.
func NewAttemptAt(initial Phase) *Attempt {
	a := &Attempt{log: log.WithName("attempt")}

	events := fsm.Events{
		{Name: EventStart, Src: []string{string(PhaseIdle)}, Dst: string(PhaseInstalling)},
		{Name: EventStaged, Src: []string{string(PhaseInstalling)}, Dst: string(PhaseNeedCompletion)},
		{Name: EventFinalize, Src: []string{string(PhaseNeedCompletion)}, Dst: string(PhaseFinalizing)},
		{Name: EventConfirm, Src: []string{string(PhaseFinalizing)}, Dst: string(PhaseOk)},
		{Name: EventRollback, Src: []string{string(PhaseFinalizing)}, Dst: string(PhaseInstallFailed)},
		{Name: EventFail, Src: []string{string(PhaseInstalling), string(PhaseFinalizing)}, Dst: string(PhaseInstallFailed)},
	}

	callbacks := fsm.Callbacks{
		"after_event": fsmutil.WrapEvent(a.actionLogTransition),
	}

	a.FSM = fsm.NewFSM(string(initial), events, callbacks)
	return a
}

// Phase returns the current phase.
func (a *Attempt) Phase() Phase {
	return Phase(a.Current())
}

// Fire triggers an event, wrapping looplab's error with the offending
// event and phase for the caller's logs.
func (a *Attempt) Fire(ctx context.Context, event string, args ...any) error {
	if err := a.Event(ctx, event, args...); err != nil {
		return fmt.Errorf("event %s in phase %s: %w", event, a.Current(), err)
	}
	return nil
}

func (a *Attempt) actionLogTransition(ctx context.Context, e *fsm.Event) error {
	a.log.Info("Attempt phase transition", "event", e.Event, "from", e.Src, "to", e.Dst)
	return nil
}
