package rig

import (
	"context"
	"fmt"
	"time"

	"github.com/nvandessel/fluidrig/internal/affinity"
	"github.com/nvandessel/fluidrig/internal/completion"
	"github.com/nvandessel/fluidrig/internal/constants"
	"github.com/nvandessel/fluidrig/internal/models"
)

// DeviceStatus is a device plus its remaining run time.
type DeviceStatus struct {
	models.Device
	DisplayName string  `json:"name"`
	Remaining   float64 `json:"remaining_seconds"`
}

// Snapshot is everything a dashboard renders in one poll.
type Snapshot struct {
	RunID      string                   `json:"run_id"`
	Devices    []DeviceStatus           `json:"devices"`
	Valves     []models.Valve           `json:"valves"`
	Experiment models.Experiment        `json:"experiment"`
	Phases     []models.PhaseDescriptor `json:"phases"`
	Emergency  models.EmergencyState    `json:"emergency"`
	Notice     *models.Notice           `json:"notice,omitempty"`
	Log        []string                 `json:"log"`
	Records    int                      `json:"records"`
	LastKD     *models.KDResult         `json:"last_kd,omitempty"`
	LastUpdate string                   `json:"last_update"`
}

// DeviceState returns one device.
func (r *Rig) DeviceState(id int) (DeviceStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.registry.Get(id)
	if err != nil {
		return DeviceStatus{}, err
	}
	return status(d, r.now()), nil
}

// Devices returns every device in ID order.
func (r *Rig) Devices() []DeviceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.devices(r.now())
}

// Valves returns every valve in ID order.
func (r *Rig) Valves() []models.Valve {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.registry.Valves()
}

// ExperimentState returns the experiment timeline.
func (r *Rig) ExperimentState() models.Experiment {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.controller.Snapshot()
}

// Phases returns the phase list. Device-gated phases carry a detail line
// with the gating device's parameters once it has completed.
func (r *Rig) Phases() []models.PhaseDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.phases()
}

// EmergencyState returns the emergency override state.
func (r *Rig) EmergencyState() models.EmergencyState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.override.State()
}

// Log returns the newest n event log lines, newest first. n <= 0 returns
// the whole log.
func (r *Rig) Log(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.log.Lines(n)
}

// Notice returns the current notice and whether it is still inside its
// display window.
func (r *Rig) Notice() (models.Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.notice, r.notice.Visible(r.now())
}

// LastKD returns the most recent KD derivation, or nil.
func (r *Rig) LastKD() *models.KDResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastKD == nil {
		return nil
	}
	kd := *r.lastKD
	return &kd
}

// AffinityRanking ranks labels by descending mean affinity.
func (r *Rig) AffinityRanking(ctx context.Context) ([]affinity.Ranking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.analyzer.Rank(ctx)
}

// AffinityGroups returns per-label points and fitted curves.
func (r *Rig) AffinityGroups(ctx context.Context) ([]affinity.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.analyzer.Groups(ctx)
}

// AffinityRecords returns every ingested measurement.
func (r *Rig) AffinityRecords(ctx context.Context) ([]models.AffinityRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.analyzer.Records(ctx)
}

// Snapshot returns a consistent view of the whole rig.
func (r *Rig) Snapshot(ctx context.Context) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	count, err := r.analyzer.Count(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("counting records: %w", err)
	}

	s := Snapshot{
		RunID:      r.runID,
		Devices:    r.devices(now),
		Valves:     r.registry.Valves(),
		Experiment: r.controller.Snapshot(),
		Phases:     r.phases(),
		Emergency:  r.override.State(),
		Log:        r.log.Lines(0),
		Records:    count,
		LastUpdate: r.lastUpdate.Format(constants.LastUpdateLayout),
	}
	if r.notice.Visible(now) {
		n := r.notice
		s.Notice = &n
	}
	if r.lastKD != nil {
		kd := *r.lastKD
		s.LastKD = &kd
	}
	return s, nil
}

func (r *Rig) devices(now time.Time) []DeviceStatus {
	list := r.registry.List()
	out := make([]DeviceStatus, len(list))
	for i, d := range list {
		out[i] = status(d, now)
	}
	return out
}

func (r *Rig) phases() []models.PhaseDescriptor {
	phases := r.controller.Phases()
	for i, p := range phases {
		if p.Gating != models.GatingDevice {
			continue
		}
		d, err := r.registry.Get(p.DeviceID)
		if err != nil {
			continue
		}
		if d.Completed {
			phases[i].Detail = fmt.Sprintf("%s | %gμL/min | %gs", d.Name(), d.FlowRate, d.Duration)
		} else {
			phases[i].Detail = d.Name() + " | --μL/min | --s"
		}
	}
	return phases
}

func status(d models.Device, now time.Time) DeviceStatus {
	s := DeviceStatus{Device: d, DisplayName: d.Name()}
	if d.Running {
		s.Remaining = completion.Remaining(d, now).Seconds()
	}
	return s
}
