package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/fluidrig/internal/ingest"
	"github.com/nvandessel/fluidrig/internal/models"
	"github.com/nvandessel/fluidrig/internal/pathutil"
	"github.com/nvandessel/fluidrig/internal/ratelimit"
	"github.com/nvandessel/fluidrig/internal/rig"
	"github.com/nvandessel/fluidrig/internal/rigerr"
)

const (
	snapshotURI = "fluidrig://rig/snapshot"
	logURI      = "fluidrig://rig/log"
)

// registerTools registers every rig tool with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "rig_snapshot",
		Description: "Get the full rig state: devices, valves, experiment phase and progress, emergency state, notice and event log",
	}, s.handleSnapshot)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "rig_log",
		Description: "Get the newest event log lines, newest first",
	}, s.handleLog)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "rig_device_start",
		Description: "Start a timed run of a pump or detector",
	}, s.handleDeviceStart)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "rig_device_stop",
		Description: "Stop a device manually; a manual stop never completes its phase",
	}, s.handleDeviceStop)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "rig_device_params",
		Description: "Set flow rate and duration of an idle device",
	}, s.handleDeviceParams)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "rig_spectra_params",
		Description: "Set wavelength range, mode and scan interval of an idle spectrometer",
	}, s.handleSpectraParams)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "rig_camera_params",
		Description: "Set exposure and magnification of an idle camera",
	}, s.handleCameraParams)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "rig_valve_toggle",
		Description: "Open or close a valve",
	}, s.handleValveToggle)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "rig_begin",
		Description: "Begin the timed phases once every pump-gated phase is complete",
	}, s.handleBegin)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "rig_emergency",
		Description: "Trigger the emergency stop (halts every device) or resolve it (resets the experiment)",
	}, s.handleEmergency)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "affinity_upload",
		Description: "Ingest a measurement CSV (protein, concentration, affinity)",
	}, s.handleUpload)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "affinity_kd",
		Description: "Calculate KD from cells C2:E2 of an instrument export",
	}, s.handleKD)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "affinity_ranking",
		Description: "Rank labels by mean affinity, highest first",
	}, s.handleRanking)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "affinity_groups",
		Description: "Get per-label binding curve fits (Kd, Bmax)",
	}, s.handleGroups)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "affinity_clear",
		Description: "Delete all ingested measurements",
	}, s.handleClear)
}

// registerResources registers read-only views for auto-loading into
// context.
func (s *Server) registerResources() {
	s.server.AddResource(&sdk.Resource{
		URI:         snapshotURI,
		Name:        "fluidrig-snapshot",
		Description: "Current rig state as JSON.",
		MIMEType:    "application/json",
	}, s.handleSnapshotResource)

	s.server.AddResource(&sdk.Resource{
		URI:         logURI,
		Name:        "fluidrig-log",
		Description: "Operator event log, newest first.",
		MIMEType:    "text/plain",
	}, s.handleLogResource)
}

func (s *Server) handleSnapshotResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	out, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{URI: snapshotURI, MIMEType: "application/json", Text: string(data)},
		},
	}, nil
}

func (s *Server) handleLogResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{URI: logURI, MIMEType: "text/plain", Text: strings.Join(s.rig.Log(0), "\n") + "\n"},
		},
	}, nil
}

func (s *Server) handleSnapshot(ctx context.Context, req *sdk.CallToolRequest, args EmptyInput) (_ *sdk.CallToolResult, _ SnapshotOutput, retErr error) {
	start := time.Now()
	defer func() { s.auditTool("rig_snapshot", start, retErr, nil) }()

	if err := ratelimit.CheckLimit(s.toolLimiters, "rig_snapshot"); err != nil {
		return nil, SnapshotOutput{}, err
	}
	out, err := s.snapshot(ctx)
	return nil, out, err
}

func (s *Server) handleLog(ctx context.Context, req *sdk.CallToolRequest, args LogInput) (_ *sdk.CallToolResult, _ LogOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("rig_log", start, retErr, sanitizeToolParams(map[string]any{"n": args.N}))
	}()

	if args.N < 0 {
		return nil, LogOutput{}, rigerr.Validation("n must not be negative")
	}
	if err := ratelimit.CheckLimit(s.toolLimiters, "rig_log"); err != nil {
		return nil, LogOutput{}, err
	}
	return nil, LogOutput{Lines: s.rig.Log(args.N)}, nil
}

func (s *Server) handleDeviceStart(ctx context.Context, req *sdk.CallToolRequest, args DeviceInput) (_ *sdk.CallToolResult, _ CommandOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("rig_device_start", start, retErr, sanitizeToolParams(map[string]any{"device_id": args.DeviceID}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "rig_device_start"); err != nil {
		return nil, CommandOutput{}, err
	}
	return command(s.rig.StartDevice(ctx, args.DeviceID))
}

func (s *Server) handleDeviceStop(ctx context.Context, req *sdk.CallToolRequest, args DeviceInput) (_ *sdk.CallToolResult, _ CommandOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("rig_device_stop", start, retErr, sanitizeToolParams(map[string]any{"device_id": args.DeviceID}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "rig_device_stop"); err != nil {
		return nil, CommandOutput{}, err
	}
	return command(s.rig.StopDevice(ctx, args.DeviceID))
}

func (s *Server) handleDeviceParams(ctx context.Context, req *sdk.CallToolRequest, args ParamsInput) (_ *sdk.CallToolResult, _ CommandOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("rig_device_params", start, retErr, sanitizeToolParams(map[string]any{
			"device_id": args.DeviceID, "flow_rate": args.FlowRate, "duration": args.Duration,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "rig_device_params"); err != nil {
		return nil, CommandOutput{}, err
	}
	return command(s.rig.SetDeviceParams(ctx, args.DeviceID, args.FlowRate, args.Duration))
}

func (s *Server) handleSpectraParams(ctx context.Context, req *sdk.CallToolRequest, args SpectraInput) (_ *sdk.CallToolResult, _ CommandOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("rig_spectra_params", start, retErr, sanitizeToolParams(map[string]any{
			"device_id": args.DeviceID, "start_nm": args.StartNM, "end_nm": args.EndNM,
			"mode": args.Mode, "interval": args.Interval,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "rig_spectra_params"); err != nil {
		return nil, CommandOutput{}, err
	}
	return command(s.rig.SetSpectraParams(ctx, args.DeviceID, models.Spectra{
		StartNM:  args.StartNM,
		EndNM:    args.EndNM,
		Mode:     models.SpectraMode(args.Mode),
		Interval: args.Interval,
	}))
}

func (s *Server) handleCameraParams(ctx context.Context, req *sdk.CallToolRequest, args CameraInput) (_ *sdk.CallToolResult, _ CommandOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("rig_camera_params", start, retErr, sanitizeToolParams(map[string]any{
			"device_id": args.DeviceID, "exposure_ms": args.ExposureMS, "magnification": args.Magnification,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "rig_camera_params"); err != nil {
		return nil, CommandOutput{}, err
	}
	return command(s.rig.SetCameraParams(ctx, args.DeviceID, models.Camera{
		ExposureMS:    args.ExposureMS,
		Magnification: args.Magnification,
	}))
}

func (s *Server) handleValveToggle(ctx context.Context, req *sdk.CallToolRequest, args ValveInput) (_ *sdk.CallToolResult, _ CommandOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("rig_valve_toggle", start, retErr, sanitizeToolParams(map[string]any{"valve_id": args.ValveID}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "rig_valve_toggle"); err != nil {
		return nil, CommandOutput{}, err
	}
	return command(s.rig.ToggleValve(ctx, args.ValveID))
}

func (s *Server) handleBegin(ctx context.Context, req *sdk.CallToolRequest, args EmptyInput) (_ *sdk.CallToolResult, _ CommandOutput, retErr error) {
	start := time.Now()
	defer func() { s.auditTool("rig_begin", start, retErr, nil) }()

	if err := ratelimit.CheckLimit(s.toolLimiters, "rig_begin"); err != nil {
		return nil, CommandOutput{}, err
	}
	return command(s.rig.BeginExperiment(ctx))
}

// handleEmergency is never rate limited.
func (s *Server) handleEmergency(ctx context.Context, req *sdk.CallToolRequest, args EmergencyInput) (_ *sdk.CallToolResult, _ CommandOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("rig_emergency", start, retErr, sanitizeToolParams(map[string]any{"action": args.Action}))
	}()

	switch strings.ToLower(strings.TrimSpace(args.Action)) {
	case "trigger", "stop":
		return command(s.rig.EmergencyTrigger(ctx))
	case "resolve", "reset":
		return command(s.rig.EmergencyResolve(ctx))
	default:
		return nil, CommandOutput{}, rigerr.Validation("action must be trigger or resolve, got %q", args.Action)
	}
}

func (s *Server) handleUpload(ctx context.Context, req *sdk.CallToolRequest, args UploadInput) (_ *sdk.CallToolResult, _ CommandOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("affinity_upload", start, retErr, sanitizeToolParams(map[string]any{
			"source": args.Source, "csv": args.CSV,
		}))
	}()

	if strings.TrimSpace(args.CSV) == "" {
		return nil, CommandOutput{}, rigerr.Validation("csv is required")
	}
	if err := ratelimit.CheckLimit(s.toolLimiters, "affinity_upload"); err != nil {
		return nil, CommandOutput{}, err
	}
	return command(s.rig.IngestCSV(ctx, args.Source, strings.NewReader(args.CSV)))
}

func (s *Server) handleKD(ctx context.Context, req *sdk.CallToolRequest, args KDInput) (_ *sdk.CallToolResult, _ KDOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("affinity_kd", start, retErr, sanitizeToolParams(map[string]any{
			"path": args.Path, "csv": args.CSV,
		}))
	}()

	switch {
	case args.Path != "" && args.CSV != "":
		return nil, KDOutput{}, rigerr.Validation("give either path or csv, not both")
	case args.Path == "" && args.CSV == "":
		return nil, KDOutput{}, rigerr.Validation("path or csv is required")
	}
	if err := ratelimit.CheckLimit(s.toolLimiters, "affinity_kd"); err != nil {
		return nil, KDOutput{}, err
	}

	var cells [][]string
	var err error
	if args.Path != "" {
		var path string
		if path, err = pathutil.Confine(args.Path, s.allowedDirs); err != nil {
			return nil, KDOutput{}, rigerr.Validation("kd file: %v", err)
		}
		cells, err = ingest.ReadCells(path)
	} else {
		cells, err = ingest.DecodeCells(strings.NewReader(args.CSV), "inline.csv")
	}
	if err != nil {
		return nil, KDOutput{}, err
	}

	res, err := s.rig.IngestKD(ctx, cells)
	if err != nil {
		return nil, KDOutput{}, err
	}
	out := KDOutput{OK: res.OK, Message: res.Message}
	if kd := s.rig.LastKD(); kd != nil {
		out.KD, out.M1, out.M2, out.M1M2 = kd.KD, kd.M1, kd.M2, kd.M1M2
	}
	return nil, out, nil
}

func (s *Server) handleRanking(ctx context.Context, req *sdk.CallToolRequest, args EmptyInput) (_ *sdk.CallToolResult, _ RankingOutput, retErr error) {
	start := time.Now()
	defer func() { s.auditTool("affinity_ranking", start, retErr, nil) }()

	if err := ratelimit.CheckLimit(s.toolLimiters, "affinity_ranking"); err != nil {
		return nil, RankingOutput{}, err
	}
	ranking, err := s.rig.AffinityRanking(ctx)
	if err != nil {
		return nil, RankingOutput{}, err
	}

	out := RankingOutput{Rankings: make([]RankingItem, len(ranking))}
	for i, r := range ranking {
		out.Rankings[i] = RankingItem{Label: r.Label, Mean: r.Mean, StdDev: r.StdDev, Count: r.Count}
	}
	if len(ranking) > 0 {
		out.Top = ranking[0].Label
	}
	return nil, out, nil
}

func (s *Server) handleGroups(ctx context.Context, req *sdk.CallToolRequest, args EmptyInput) (_ *sdk.CallToolResult, _ GroupsOutput, retErr error) {
	start := time.Now()
	defer func() { s.auditTool("affinity_groups", start, retErr, nil) }()

	if err := ratelimit.CheckLimit(s.toolLimiters, "affinity_groups"); err != nil {
		return nil, GroupsOutput{}, err
	}
	groups, err := s.rig.AffinityGroups(ctx)
	if err != nil {
		return nil, GroupsOutput{}, err
	}

	out := GroupsOutput{Groups: make([]GroupSummary, len(groups))}
	for i, g := range groups {
		gs := GroupSummary{Label: g.Label, Points: len(g.Points), FitError: g.FitError}
		if g.Fit != nil {
			kd, bmax := g.Fit.Kd, g.Fit.Bmax
			gs.Kd, gs.Bmax = &kd, &bmax
		}
		out.Groups[i] = gs
	}
	return nil, out, nil
}

func (s *Server) handleClear(ctx context.Context, req *sdk.CallToolRequest, args ClearInput) (_ *sdk.CallToolResult, _ CommandOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("affinity_clear", start, retErr, sanitizeToolParams(map[string]any{"confirm": args.Confirm}))
	}()

	if !args.Confirm {
		return nil, CommandOutput{}, rigerr.Validation("set confirm to true to delete all measurements")
	}
	if err := ratelimit.CheckLimit(s.toolLimiters, "affinity_clear"); err != nil {
		return nil, CommandOutput{}, err
	}
	return command(s.rig.ClearAffinityData(ctx))
}

// command converts a rig command outcome to tool output. Rejected
// commands become tool errors carrying the rig's message.
func command(res rig.Result, err error) (*sdk.CallToolResult, CommandOutput, error) {
	if err != nil {
		return nil, CommandOutput{}, err
	}
	return nil, CommandOutput{OK: res.OK, Message: res.Message}, nil
}

func (s *Server) snapshot(ctx context.Context) (SnapshotOutput, error) {
	snap, err := s.rig.Snapshot(ctx)
	if err != nil {
		return SnapshotOutput{}, err
	}

	exp := snap.Experiment
	out := SnapshotOutput{
		RunID:      snap.RunID,
		Procedure:  exp.Procedure,
		Phase:      exp.CurrentPhase,
		Progress:   exp.Progress,
		Running:    exp.Running,
		Finished:   exp.Finished,
		Halted:     exp.Halted,
		Remaining:  exp.RemainingText,
		Emergency:  snap.Emergency.Active,
		Devices:    make([]DeviceSummary, len(snap.Devices)),
		Valves:     make([]ValveSummary, len(snap.Valves)),
		Phases:     make([]PhaseSummary, len(snap.Phases)),
		Log:        snap.Log,
		Records:    snap.Records,
		LastUpdate: snap.LastUpdate,
	}
	for i, d := range snap.Devices {
		out.Devices[i] = DeviceSummary{
			ID:               d.ID,
			Name:             d.DisplayName,
			Kind:             string(d.Kind),
			Label:            d.Label,
			FlowRate:         d.FlowRate,
			Duration:         d.Duration,
			PhaseGating:      d.PhaseGating,
			Running:          d.Running,
			Completed:        d.Completed,
			RemainingSeconds: d.Remaining,
		}
		switch {
		case d.Spectra != nil:
			out.Devices[i].Acquisition = d.Spectra.Summary()
		case d.Camera != nil:
			out.Devices[i].Acquisition = d.Camera.Summary()
			out.Devices[i].Captured = d.Camera.Captured
		}
	}
	for i, v := range snap.Valves {
		out.Valves[i] = ValveSummary{ID: v.ID, Description: v.Description, State: v.State()}
	}
	for i, p := range snap.Phases {
		out.Phases[i] = PhaseSummary{
			Number:    p.Number,
			Label:     p.Label,
			Gating:    string(p.Gating),
			Detail:    p.Detail,
			Completed: exp.CompletedPhases[p.Number],
		}
	}
	if snap.Notice != nil {
		out.Notice = snap.Notice.Text
		out.NoticeKind = string(snap.Notice.Kind)
	}
	if snap.LastKD != nil {
		kd := snap.LastKD.KD
		out.LastKD = &kd
	}
	return out, nil
}
