package dialogue

// Persona is the role label a speaker carries for one turn.
type Persona string

const (
	// PersonaAssistant labels the single turn of a Standard-mode dialogue.
	PersonaAssistant Persona = "ASSISTANT"
	// PersonaPRO and PersonaCON label the two sides of a Debate/Council dialogue.
	PersonaPRO Persona = "PRO"
	PersonaCON Persona = "CON"
	// PersonaModerator labels a synthetic interjection or post-hoc analysis turn.
	PersonaModerator Persona = "MODERATOR"
)
