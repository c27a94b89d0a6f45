package remote

import "context"

// Message roles used on threads.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type RunStatus string

const (
	StatusQueued     RunStatus = "queued"
	StatusInProgress RunStatus = "in_progress"
	StatusCompleted  RunStatus = "completed"
	StatusFailed     RunStatus = "failed"
	StatusCancelled  RunStatus = "cancelled"
)

// Terminal reports whether a run has finished processing, successfully
// or not.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type Agent struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Model         string           `json:"model"`
	Instructions  string           `json:"instructions"`
	Tools         []ToolDefinition `json:"tools,omitempty"`
	ToolResources *ToolResources   `json:"tool_resources,omitempty"`
}

type Thread struct {
	ID string `json:"id"`
}

type Run struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Status    RunStatus `json:"status"`
	LastError string    `json:"last_error,omitempty"`
}

// ContentBlock is one element of a message body. Only text blocks carry a
// usable value; other block types (images, annotations) are opaque here.
type ContentBlock struct {
	Type string    `json:"type"`
	Text TextValue `json:"text,omitempty"`
}

type TextValue struct {
	Value string `json:"value"`
}

type Message struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"thread_id"`
	Role      string         `json:"role"`
	Content   []ContentBlock `json:"content"`
	CreatedAt int64          `json:"created_at"`
}

type File struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

type VectorStore struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ToolDefinition struct {
	Type string `json:"type"`
}

type ToolResources struct {
	FileSearch *FileSearchResources `json:"file_search,omitempty"`
}

type FileSearchResources struct {
	VectorStoreIDs []string `json:"vector_store_ids"`
}

// FileSearchTool returns the tool definition and resources that attach a
// vector store to an agent.
func FileSearchTool(vectorStoreID string) ([]ToolDefinition, *ToolResources) {
	return []ToolDefinition{{Type: "file_search"}}, &ToolResources{
		FileSearch: &FileSearchResources{VectorStoreIDs: []string{vectorStoreID}},
	}
}

type AgentParams struct {
	Name          string           `json:"name"`
	Model         string           `json:"model"`
	Instructions  string           `json:"instructions"`
	Tools         []ToolDefinition `json:"tools,omitempty"`
	ToolResources *ToolResources   `json:"tool_resources,omitempty"`
}

// AgentService is the remote assistants protocol the orchestration core
// runs against. Implementations must be safe for concurrent use.
type AgentService interface {
	CreateAgent(ctx context.Context, params AgentParams) (*Agent, error)
	UpdateAgent(ctx context.Context, agentID string, tools []ToolDefinition, resources *ToolResources) (*Agent, error)
	CreateThread(ctx context.Context) (*Thread, error)
	CreateMessage(ctx context.Context, threadID, role, content string) (*Message, error)
	ListMessages(ctx context.Context, threadID string) ([]Message, error)
	CreateRun(ctx context.Context, threadID, agentID string) (*Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)
	UploadFile(ctx context.Context, path string) (*File, error)
	CreateVectorStore(ctx context.Context, name string, fileIDs []string) (*VectorStore, error)
}
