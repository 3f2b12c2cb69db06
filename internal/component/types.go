// Package component implements the task-answering components a solver
// node exposes: solving, refining, summarizing, aggregating, feedback
// analysis, playbook updates from human feedback, and internet search.
package component

// Component names accepted by the runner.
const (
	Complete       = "complete"
	Refine         = "refine"
	Feedback       = "feedback"
	HumanFeedback  = "human_feedback"
	InternetSearch = "internet_search"
	Summary        = "summary"
	Aggregate      = "aggregate"
)

// InputItem is one task input: a query plus an optional working
// artifact attached to it.
type InputItem struct {
	Query    string `json:"query"`
	Artifact string `json:"artifact,omitempty"`
}

// OutputData is the {reply, artifact} contract every component
// produces. Artifact is "no update" when the component did not touch
// the working document.
type OutputData struct {
	Reply    string `json:"reply"`
	Artifact string `json:"artifact"`
}

// PreviousOutput carries an earlier component's result into a chained
// request.
type PreviousOutput struct {
	Component string     `json:"component"`
	Task      string     `json:"task"`
	Output    OutputData `json:"output"`
}

// Request is the unified component request.
type Request struct {
	ConversationID  string           `json:"conversation_id"`
	Task            string           `json:"task"`
	Input           []InputItem      `json:"input"`
	PreviousOutputs []PreviousOutput `json:"previous_outputs,omitempty"`
	UseHistory      bool             `json:"use_history,omitempty"`
	UsePlaybook     bool             `json:"use_playbook,omitempty"`
	Engine          string           `json:"engine,omitempty"`
	Model           string           `json:"model,omitempty"`
}

// Response is the unified component response.
type Response struct {
	ConversationID string      `json:"conversation_id"`
	Task           string      `json:"task"`
	Input          []InputItem `json:"input"`
	Output         OutputData  `json:"output"`
	Component      string      `json:"component"`
	FromStore      bool        `json:"from_store,omitempty"`
}
