package mcp

// EmptyInput is the input of tools that take no arguments.
type EmptyInput struct{}

// CommandOutput is the outcome of a rig command.
type CommandOutput struct {
	OK      bool   `json:"ok" jsonschema:"Whether the command was accepted"`
	Message string `json:"message" jsonschema:"Operator-facing result message"`
}

// DeviceInput selects one device.
type DeviceInput struct {
	DeviceID int `json:"device_id" jsonschema:"Device id (pumps 1-3, detectors 4-5 in the default rig)"`
}

// ParamsInput sets device parameters.
type ParamsInput struct {
	DeviceID int     `json:"device_id" jsonschema:"Device id"`
	FlowRate float64 `json:"flow_rate" jsonschema:"Flow rate in μL/min"`
	Duration float64 `json:"duration" jsonschema:"Run time in configured seconds, scaled by the rig time scale"`
}

// SpectraInput sets spectrometer acquisition settings.
type SpectraInput struct {
	DeviceID int    `json:"device_id" jsonschema:"Spectrometer device id"`
	StartNM  int    `json:"start_nm" jsonschema:"Start wavelength in nm (300-1000)"`
	EndNM    int    `json:"end_nm" jsonschema:"End wavelength in nm (300-1000), above start_nm"`
	Mode     string `json:"mode" jsonschema:"absorbance, fluorescence or transmittance"`
	Interval int    `json:"interval" jsonschema:"Seconds between scans (1-300)"`
}

// CameraInput sets camera acquisition settings.
type CameraInput struct {
	DeviceID      int    `json:"device_id" jsonschema:"Camera device id"`
	ExposureMS    int    `json:"exposure_ms" jsonschema:"Exposure in ms (1-1000)"`
	Magnification string `json:"magnification" jsonschema:"10x, 20x or 40x"`
}

// ValveInput selects one valve.
type ValveInput struct {
	ValveID int `json:"valve_id" jsonschema:"Valve id"`
}

// EmergencyInput triggers or resolves the emergency stop.
type EmergencyInput struct {
	Action string `json:"action" jsonschema:"Either trigger or resolve"`
}

// LogInput limits the event log tail.
type LogInput struct {
	N int `json:"n,omitempty" jsonschema:"Number of newest lines to return, 0 for all"`
}

// LogOutput is the event log, newest first.
type LogOutput struct {
	Lines []string `json:"lines" jsonschema:"Log lines formatted [HH:MM:SS] message, newest first"`
}

// UploadInput carries a measurement CSV.
type UploadInput struct {
	Source string `json:"source" jsonschema:"File name the data came from; a name can only be ingested once until the data is cleared"`
	CSV    string `json:"csv" jsonschema:"CSV text with protein (or label), concentration and affinity columns"`
}

// KDInput names a KD cell block, either as a local file or inline CSV.
type KDInput struct {
	Path string `json:"path,omitempty" jsonschema:"Path to an .xlsx or .csv instrument export inside a directory the server allows"`
	CSV  string `json:"csv,omitempty" jsonschema:"Inline CSV cell grid; cells C2:E2 are read"`
}

// KDOutput is a KD derivation.
type KDOutput struct {
	OK      bool    `json:"ok"`
	Message string  `json:"message"`
	KD      float64 `json:"kd"`
	M1      float64 `json:"m1"`
	M2      float64 `json:"m2"`
	M1M2    float64 `json:"m1m2"`
}

// ClearInput guards the destructive clear.
type ClearInput struct {
	Confirm bool `json:"confirm" jsonschema:"Must be true to delete all measurements"`
}

// DeviceSummary is one device in a snapshot.
type DeviceSummary struct {
	ID               int     `json:"id"`
	Name             string  `json:"name"`
	Kind             string  `json:"kind"`
	Label            string  `json:"label"`
	FlowRate         float64 `json:"flow_rate"`
	Duration         float64 `json:"duration"`
	PhaseGating      bool    `json:"phase_gating"`
	Running          bool    `json:"running"`
	Completed        bool    `json:"completed"`
	RemainingSeconds float64 `json:"remaining_seconds"`
	Acquisition      string  `json:"acquisition,omitempty"`
	Captured         bool    `json:"captured,omitempty"`
}

// ValveSummary is one valve in a snapshot.
type ValveSummary struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
	State       string `json:"state"`
}

// PhaseSummary is one phase in a snapshot.
type PhaseSummary struct {
	Number    int    `json:"number"`
	Label     string `json:"label"`
	Gating    string `json:"gating"`
	Detail    string `json:"detail,omitempty"`
	Completed bool   `json:"completed"`
}

// SnapshotOutput is the whole rig state.
type SnapshotOutput struct {
	RunID      string          `json:"run_id"`
	Procedure  string          `json:"procedure"`
	Phase      int             `json:"phase" jsonschema:"Current phase number, 0 before anything ran"`
	Progress   int             `json:"progress" jsonschema:"Percent complete"`
	Running    bool            `json:"running"`
	Finished   bool            `json:"finished"`
	Halted     bool            `json:"halted"`
	Remaining  string          `json:"remaining"`
	Emergency  bool            `json:"emergency"`
	Devices    []DeviceSummary `json:"devices"`
	Valves     []ValveSummary  `json:"valves"`
	Phases     []PhaseSummary  `json:"phases"`
	Notice     string          `json:"notice,omitempty"`
	NoticeKind string          `json:"notice_kind,omitempty"`
	Log        []string        `json:"log"`
	Records    int             `json:"records"`
	LastKD     *float64        `json:"last_kd,omitempty"`
	LastUpdate string          `json:"last_update"`
}

// RankingItem is one ranked label.
type RankingItem struct {
	Label  string  `json:"label"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Count  int     `json:"count"`
}

// RankingOutput ranks labels by mean affinity.
type RankingOutput struct {
	Rankings []RankingItem `json:"rankings"`
	Top      string        `json:"top,omitempty" jsonschema:"Label with the highest mean affinity"`
}

// GroupSummary is one label's fit.
type GroupSummary struct {
	Label    string   `json:"label"`
	Points   int      `json:"points"`
	Kd       *float64 `json:"kd,omitempty"`
	Bmax     *float64 `json:"bmax,omitempty"`
	FitError string   `json:"fit_error,omitempty"`
}

// GroupsOutput lists per-label fits.
type GroupsOutput struct {
	Groups []GroupSummary `json:"groups"`
}
