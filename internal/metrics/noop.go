package metrics

import (
	"context"
	"time"
)

// NoOp is a Recorder that does nothing.
type NoOp struct{}

func (NoOp) DeviceStarted(context.Context, int, string) {}
func (NoOp) DeviceCompleted(context.Context, int, bool, time.Duration) {}
func (NoOp) PhaseCompleted(context.Context, int) {}
func (NoOp) ExperimentFinished(context.Context, time.Duration) {}
func (NoOp) EmergencyTriggered(context.Context, int) {}
func (NoOp) RecordsIngested(context.Context, int) {}
func (NoOp) CommandRejected(context.Context, string, string) {}
func (NoOp) Close(context.Context) error { return nil }
