// Package constants provides named constants used throughout fluidrig.
// This centralizes magic numbers for better maintainability and documentation.
package constants

import "time"

// Simulation timing constants
const (
	// DefaultTimeScale is the multiplier applied to a device's configured
	// duration to obtain its effective run time. The rig is a demo
	// simulation, so a configured 10 s pump run completes after 2 s.
	DefaultTimeScale = 0.2

	// DefaultTickInterval is how often the scheduler polls the rig when
	// running as a server.
	DefaultTickInterval = 500 * time.Millisecond

	// NoticeTTL is how long a transient operator notice stays visible.
	NoticeTTL = 5 * time.Second
)

// Device parameter bounds
const (
	// MinFlowRate is the lowest accepted pump flow rate in μL/min.
	MinFlowRate = 0.0

	// MaxFlowRate is the highest accepted pump flow rate in μL/min.
	MaxFlowRate = 1000.0

	// MinDuration is the shortest accepted device run time in seconds.
	MinDuration = 1.0

	// MaxDuration is the longest accepted device run time in seconds.
	MaxDuration = 3600.0
)

// Detector acquisition bounds
const (
	// MinWavelength is the shortest spectrometer wavelength in nm.
	MinWavelength = 300

	// MaxWavelength is the longest spectrometer wavelength in nm.
	MaxWavelength = 1000

	// MinSpectraInterval and MaxSpectraInterval bound the seconds between
	// spectrometer scans.
	MinSpectraInterval = 1
	MaxSpectraInterval = 300

	// MinExposure and MaxExposure bound the camera exposure in ms.
	MinExposure = 1
	MaxExposure = 1000
)

// Magnifications lists the objective magnifications a camera accepts.
var Magnifications = []string{"10x", "20x", "40x"}

// Event log constants
const (
	// LogCapacity is the number of entries the operator event log retains.
	// Older entries are evicted first.
	LogCapacity = 50

	// LogTimeLayout is the timestamp layout of an event log line.
	LogTimeLayout = "15:04:05"

	// LastUpdateLayout is the layout of the "last update" timestamp.
	LastUpdateLayout = "2006-01-02 15:04:05"
)

// Affinity analysis constants
const (
	// MinFitPoints is the minimum group size for attempting a curve fit.
	// Smaller groups are shown as raw points only.
	MinFitPoints = 3

	// InitialKd is the starting dissociation constant for the binding fit.
	InitialKd = 1.0

	// InitialBmax is the starting saturation level for the binding fit.
	InitialBmax = 100.0

	// MaxFitEvaluations bounds the number of objective evaluations per fit.
	MaxFitEvaluations = 10000

	// CurveSamples is the number of points sampled along a fitted curve.
	CurveSamples = 100

	// ExperimentIDPrefix prefixes every synthetic experiment identifier.
	ExperimentIDPrefix = "EXP"

	// ExperimentIDDateLayout is the date layout embedded in experiment IDs.
	ExperimentIDDateLayout = "060102"
)

// KD cell block layout (1-based spreadsheet coordinates, C2:E2).
const (
	// KDRow is the spreadsheet row holding the KD inputs.
	KDRow = 2

	// KDFirstColumn is the column of the first KD input.
	KDFirstColumn = 3

	// KDLastColumn is the column of the last KD input (the m1m2 cell).
	KDLastColumn = 5
)
