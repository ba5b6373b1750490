package models

// EntityObservation is one thing noticed in a sampled frame.
type EntityObservation struct {
	EntityType  string  `json:"entity_type"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// FrameObservations groups the observations for one sampled frame.
// FrameIndex is the sampling order index, not a timestamp.
type FrameObservations struct {
	FrameIndex   int                 `json:"frame_index"`
	Observations []EntityObservation `json:"observations"`
}

// FrameObservationSet is the committed output of the frame observation stage.
type FrameObservationSet struct {
	Frames  []FrameObservations `json:"frames"`
	Summary *string             `json:"summary,omitempty"`
}

// ReportSynthesis is the structured incident report produced by the synthesis stage.
// Empty lists are valid.
type ReportSynthesis struct {
	Overview   string   `json:"overview"`
	Timeline   []string `json:"timeline"`
	Entities   []string `json:"entities"`
	Actions    []string `json:"actions"`
	Conclusion string   `json:"conclusion"`
}
