package core

import "github.com/google/uuid"

// Observation is one complete act of perception: a document scan or a
// validated answer, carrying the meta and the engrams it produced.
type Observation struct {
	ID         string   `json:"id"`
	ParentID   string   `json:"parent_id,omitempty"`
	TrackingID string   `json:"tracking_id,omitempty"`
	Meta       Meta     `json:"meta"`
	EngramList []Engram `json:"engram_list"`
	CreatedAt  int64    `json:"created_at"`
}

// NewObservation builds an observation with a fresh id and timestamp.
func NewObservation(meta Meta, engrams []Engram) Observation {
	return Observation{
		ID:         uuid.NewString(),
		Meta:       meta,
		EngramList: engrams,
		CreatedAt:  NowUnix(),
	}
}

// Validate checks every engram in the observation.
func (o *Observation) Validate() error {
	for i := range o.EngramList {
		if err := o.EngramList[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
