package coordinator

import (
	"github.com/dlorp/synapse-engine-sub002/domain/dialogue"
	"github.com/dlorp/synapse-engine-sub002/domain/query"
)

// Response is the Coordinator's per-request result, cached verbatim on
// successful completion and returned to the caller either fresh or from
// the Response Cache.
type Response struct {
	QueryID           string          `json:"queryId"`
	Tier              query.Tier      `json:"tier"`
	ModelID           string          `json:"modelId"`
	Turns             []dialogue.Turn `json:"turns"`
	Completed         bool            `json:"completed"`
	InterjectionCount int             `json:"interjectionCount,omitempty"`
	Analysis          string          `json:"analysis,omitempty"`
	FromCache         bool            `json:"fromCache"`
}
