package dialogue

import "time"

// Turn is one exchange in a dialogue: a model's response, or a synthetic
// moderator interjection.
type Turn struct {
	Seq        int       `json:"seq"`
	Speaker    string    `json:"speaker"` // a model id, or the literal "MODERATOR"
	Persona    Persona   `json:"persona"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	TokensUsed int       `json:"tokensUsed"`
}

// Result is the Dialogue Engine's output: an ordered, non-empty-unless-T-is-
// zero sequence of Turns plus interjection accounting and optional post-hoc
// analysis. Completed is false whenever termination was forced by a
// debater failure that could not be re-selected, or by cancellation — the
// transcript up to that point is still returned.
type Result struct {
	Turns             []Turn `json:"turns"`
	Completed         bool   `json:"completed"`
	InterjectionCount int    `json:"interjectionCount"`
	Analysis          string `json:"analysis,omitempty"`
}
