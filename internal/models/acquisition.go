package models

import "fmt"

// SpectraMode is the spectrometer measurement mode.
type SpectraMode string

const (
	SpectraAbsorbance    SpectraMode = "absorbance"
	SpectraFluorescence  SpectraMode = "fluorescence"
	SpectraTransmittance SpectraMode = "transmittance"
)

// Valid returns true if the mode is a recognized value.
func (m SpectraMode) Valid() bool {
	switch m {
	case SpectraAbsorbance, SpectraFluorescence, SpectraTransmittance:
		return true
	}
	return false
}

// Spectra holds the acquisition settings of a spectrometer.
type Spectra struct {
	StartNM  int         `json:"start_nm" yaml:"start_nm"`
	EndNM    int         `json:"end_nm" yaml:"end_nm"`
	Mode     SpectraMode `json:"mode" yaml:"mode"`
	Interval int         `json:"interval" yaml:"interval"` // seconds between scans
}

// Summary renders the settings for the event log, e.g.
// "400-700nm, absorbance mode".
func (s Spectra) Summary() string {
	return fmt.Sprintf("%d-%dnm, %s mode", s.StartNM, s.EndNM, s.Mode)
}

// Camera holds the acquisition settings of an imaging detector. Captured
// is set once a capture run completes.
type Camera struct {
	ExposureMS    int    `json:"exposure_ms" yaml:"exposure_ms"`
	Magnification string `json:"magnification" yaml:"magnification"`
	Captured      bool   `json:"captured" yaml:"-"`
}

// Summary renders the settings for the event log, e.g.
// "20x, 50ms exposure".
func (c Camera) Summary() string {
	return fmt.Sprintf("%s, %dms exposure", c.Magnification, c.ExposureMS)
}
