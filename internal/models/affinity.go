package models

import (
	"time"
)

// AffinityRecord is one ingested measurement. Records are immutable once
// ingested.
type AffinityRecord struct {
	Label         string    `json:"label"`
	Concentration float64   `json:"concentration"`
	Value         float64   `json:"affinity"`
	ExperimentID  string    `json:"experiment_id"`
	Source        string    `json:"source,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// KDResult is a dissociation constant derived from a spreadsheet cell block.
type KDResult struct {
	M1           float64   `json:"m1"`
	M2           float64   `json:"m2"`
	M1M2         float64   `json:"m1m2"`
	KD           float64   `json:"kd"`
	CalculatedAt time.Time `json:"calculated_at"`
}
