package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version" yaml:"schema_version,omitempty"`
	CodecVersion  int `json:"codec_version" yaml:"codec_version,omitempty"`
}

type LinkRecord struct {
	Target int     `json:"target" yaml:"target"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// CellControl mirrors the fixed mutation-scaling parameters of a cell.
type CellControl struct {
	LinkWeightCenter       float64 `json:"link_weight_center" yaml:"link_weight_center"`
	InternalSpread         float64 `json:"internal_spread" yaml:"internal_spread"`
	BroadcastSpread        float64 `json:"broadcast_spread" yaml:"broadcast_spread"`
	LinkWeightSpread       float64 `json:"link_weight_spread" yaml:"link_weight_spread"`
	DecayRateSpread        float64 `json:"decay_rate_spread" yaml:"decay_rate_spread"`
	RefractoryPeriodSpread int     `json:"refractory_period_spread" yaml:"refractory_period_spread"`
	BroadcastSignFlipFreq  float64 `json:"broadcast_sign_flip_freq" yaml:"broadcast_sign_flip_freq"`
	LinkSignFlipFreq       float64 `json:"link_sign_flip_freq" yaml:"link_sign_flip_freq"`
}

type CellRecord struct {
	Index            int          `json:"index" yaml:"index"`
	Control          CellControl  `json:"control" yaml:"control"`
	InternalCoeff    float64      `json:"internal_coeff" yaml:"internal_coeff"`
	BroadcastCoeff   float64      `json:"broadcast_coeff" yaml:"broadcast_coeff"`
	DecayRate        float64      `json:"decay_rate" yaml:"decay_rate"`
	RefractoryPeriod int          `json:"refractory_period" yaml:"refractory_period"`
	Links            []LinkRecord `json:"links" yaml:"links"`
}

type NetRecord struct {
	VersionedRecord `yaml:",inline"`
	ID              string       `json:"id" yaml:"id"`
	Fitness         float64      `json:"fitness" yaml:"fitness,omitempty"`
	Cells           []CellRecord `json:"cells" yaml:"cells"`
}

// Population is a snapshot of every net after a given cycle.
type Population struct {
	VersionedRecord
	ID          string      `json:"id"`
	Cycle       int         `json:"cycle"`
	InputCells  int         `json:"input_cells"`
	OutputCells int         `json:"output_cells"`
	Nets        []NetRecord `json:"nets"`
}

type RunRecord struct {
	VersionedRecord
	ID           string    `json:"id"`
	Population   string    `json:"population"`
	Seed         int64     `json:"seed"`
	Cycles       int       `json:"cycles"`
	NetCount     int       `json:"net_count"`
	TotalCells   int       `json:"total_cells"`
	Reproduction string    `json:"reproduction"`
	BestFitness  float64   `json:"best_fitness"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

type CycleDiagnostics struct {
	Cycle                int     `json:"cycle"`
	BestFitness          float64 `json:"best_fitness"`
	MeanFitness          float64 `json:"mean_fitness"`
	WorstFitness         float64 `json:"worst_fitness"`
	FingerprintDiversity int     `json:"fingerprint_diversity"`
	MeanLinkCount        float64 `json:"mean_link_count"`
	StructuralMutations  int     `json:"structural_mutations"`
	ParametricMutations  int     `json:"parametric_mutations"`
	Rows                 []int   `json:"rows,omitempty"`
}

type LineageRecord struct {
	VersionedRecord
	NetID       string   `json:"net_id"`
	ParentIDs   []string `json:"parent_ids,omitempty"`
	Cycle       int      `json:"cycle"`
	Position    int      `json:"position"`
	Operation   string   `json:"operation"`
	Mutations   []string `json:"mutations,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
}
