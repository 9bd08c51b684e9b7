package tools

// Parameter shapes for the dispatchable tools. Field names follow the
// wire format. Required index fields use pointers so a missing field
// is tellable from a legitimate zero index.

// CreateSessionParams configures a new browser session. Omitted fields
// fall back to the registry defaults.
type CreateSessionParams struct {
	SessionID          string   `json:"session_id"`
	Headless           *bool    `json:"headless"`
	AllowedDomains     []string `json:"allowed_domains"`
	WaitBetweenActions *float64 `json:"wait_between_actions"`
}

// SessionOnlyParams is shared by tools that only target a session.
type SessionOnlyParams struct {
	SessionID string `json:"session_id"`
}

type NavigateParams struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	NewTab    bool   `json:"new_tab"`
}

type ClickParams struct {
	SessionID string `json:"session_id"`
	Index     *int   `json:"index"`
}

type TypeParams struct {
	SessionID string `json:"session_id"`
	Index     *int   `json:"index"`
	Text      string `json:"text"`
}

type KeyParams struct {
	SessionID string `json:"session_id"`
	Key       string `json:"key"`
}

type ScrollParams struct {
	SessionID string `json:"session_id"`
	Direction string `json:"direction"`
}

type GetStateParams struct {
	SessionID         string `json:"session_id"`
	IncludeScreenshot bool   `json:"include_screenshot"`
}

type ExtractParams struct {
	SessionID    string `json:"session_id"`
	Query        string `json:"query"`
	ExtractLinks bool   `json:"extract_links"`
}

type TabParams struct {
	SessionID string `json:"session_id"`
	TabIndex  *int   `json:"tab_index"`
}

type SelectOptionParams struct {
	SessionID string `json:"session_id"`
	Index     *int   `json:"index"`
	Text      string `json:"text"`
}

type BrowseAgentParams struct {
	SessionID string `json:"session_id"`
	Task      string `json:"task"`
	MaxSteps  int    `json:"max_steps"`
	Model     string `json:"model"`
}

// RetryAgentParams accepts a session_id for wire compatibility, but a
// retry always runs in a fresh ad-hoc session.
type RetryAgentParams struct {
	SessionID      string   `json:"session_id"`
	Task           string   `json:"task"`
	MaxSteps       int      `json:"max_steps"`
	Model          string   `json:"model"`
	AllowedDomains []string `json:"allowed_domains"`
	UseVision      bool     `json:"use_vision"`
}

type TaskStatusParams struct {
	TaskID string `json:"task_id"`
}

type CredentialParams struct {
	SessionID string `json:"session_id"`
	Website   string `json:"website"`
	Email     string `json:"email"`
}
