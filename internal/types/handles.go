package types

// ConversationHandle tracks the chat conversation of a virtual user.
// MessageID is only meaningful while ConversationID is set.
type ConversationHandle struct {
	ConversationID string
	MessageID      string
}

// Active returns true if a conversation is open
func (h ConversationHandle) Active() bool {
	return h.ConversationID != ""
}

// HasMessage returns true if a message id is known for the open conversation
func (h ConversationHandle) HasMessage() bool {
	return h.ConversationID != "" && h.MessageID != ""
}

// Clear forgets the conversation
func (h *ConversationHandle) Clear() {
	h.ConversationID = ""
	h.MessageID = ""
}

// WorkflowRunHandle tracks the last workflow run started by a virtual user
type WorkflowRunHandle struct {
	WorkflowRunID string
	TaskID        string
}

// ClearTask forgets the task id after the run was stopped
func (h *WorkflowRunHandle) ClearTask() {
	h.TaskID = ""
}

// KnowledgeHandle tracks the dataset, document and segment created by a virtual user.
// Fields are filled progressively; deletions clear the dependent ones.
type KnowledgeHandle struct {
	DatasetID  string
	DocumentID string
	SegmentID  string
	BatchID    string
}

// ClearDocument forgets the document and its segment
func (h *KnowledgeHandle) ClearDocument() {
	h.DocumentID = ""
	h.SegmentID = ""
}

// ClearAll forgets everything, used after the dataset is deleted
func (h *KnowledgeHandle) ClearAll() {
	*h = KnowledgeHandle{}
}

// FileCategory is the logical kind of an uploaded file
type FileCategory string

const (
	FileDocument FileCategory = "document"
	FileImage    FileCategory = "image"
	FileAudio    FileCategory = "audio"
)

// FileRegistry maps file categories to server-assigned upload ids
type FileRegistry map[FileCategory]string

// Set records the id of an uploaded file
func (r FileRegistry) Set(category FileCategory, id string) {
	r[category] = id
}

// Get returns the uploaded file id for a category
func (r FileRegistry) Get(category FileCategory) (string, bool) {
	id, ok := r[category]
	return id, ok && id != ""
}
