package fleet

import (
	"github.com/dlorp/synapse-engine-sub002/domain/query"
)

// Overrides carries the optional runtime overrides admin operations may
// apply to a Model Descriptor.
type Overrides struct {
	GPULayers    *int  `json:"gpuLayers,omitempty"`
	ContextSize  *int  `json:"contextSize,omitempty"`
	Threads      *int  `json:"threads,omitempty"`
	BatchSize    *int  `json:"batchSize,omitempty"`
	ThinkingMode *bool `json:"thinkingMode,omitempty"`
}

// Descriptor is the identity and declared configuration of one model.
// Created on disk scan, mutated only by admin operations, removed only by
// rescan when its backing file vanishes.
type Descriptor struct {
	ID            string       `json:"id"`
	DisplayName   string       `json:"displayName"`
	FileRef       string       `json:"fileRef"`
	Quantization  Quantization `json:"quantization"`
	ParamCount    int64        `json:"paramCount"`
	Tier          query.Tier   `json:"tier"`
	Port          int          `json:"port"`
	Enabled       bool         `json:"enabled"`
	Overrides     Overrides    `json:"overrides,omitempty"`
	ContextWindow int          `json:"contextWindow"`
}

// RegistryDocument is the persisted form of the Fleet Manager's model
// registry: an ordered list of Descriptors plus a reserved port range.
type RegistryDocument struct {
	Models       []Descriptor `json:"models"`
	PortRangeLow int          `json:"portRangeLow"`
	PortRangeHi  int          `json:"portRangeHi"`
}
