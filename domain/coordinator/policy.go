package coordinator

import "time"

const (
	defaultOverallTimeout   = 120 * time.Second
	defaultRetrievalTimeout = 5 * time.Second
	defaultDialogueTimeout  = 90 * time.Second
	defaultCacheTTL         = 30 * time.Minute
	defaultTokenBudget      = 2000
)

// AdmissionPolicy layers the per-step deadlines that sum to the overall
// request deadline, and the fallback token budget handed to CGRAG
// retrieval when a request does not specify max-tokens.
type AdmissionPolicy struct {
	OverallTimeout   time.Duration
	RetrievalTimeout time.Duration
	DialogueTimeout  time.Duration
	CacheTTL         time.Duration
	DefaultTokens    int
}

// DefaultAdmissionPolicy returns sane per-step timeouts summing to
// comfortably under the overall budget.
func DefaultAdmissionPolicy() AdmissionPolicy {
	return AdmissionPolicy{
		OverallTimeout:   defaultOverallTimeout,
		RetrievalTimeout: defaultRetrievalTimeout,
		DialogueTimeout:  defaultDialogueTimeout,
		CacheTTL:         defaultCacheTTL,
		DefaultTokens:    defaultTokenBudget,
	}
}

func (p AdmissionPolicy) overallTimeout() time.Duration {
	if p.OverallTimeout > 0 {
		return p.OverallTimeout
	}
	return defaultOverallTimeout
}

func (p AdmissionPolicy) retrievalTimeout() time.Duration {
	if p.RetrievalTimeout > 0 {
		return p.RetrievalTimeout
	}
	return defaultRetrievalTimeout
}

func (p AdmissionPolicy) dialogueTimeout() time.Duration {
	if p.DialogueTimeout > 0 {
		return p.DialogueTimeout
	}
	return defaultDialogueTimeout
}

func (p AdmissionPolicy) cacheTTL() time.Duration {
	if p.CacheTTL > 0 {
		return p.CacheTTL
	}
	return defaultCacheTTL
}

func (p AdmissionPolicy) tokenBudget(requested int) int {
	if requested > 0 {
		return requested
	}
	if p.DefaultTokens > 0 {
		return p.DefaultTokens
	}
	return defaultTokenBudget
}
