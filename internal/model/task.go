package model

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// FileType describes how Task.FileData should be interpreted.
type FileType string

const (
	FileTypeJSONContent    FileType = "json_content"
	FileTypeBlobStorageURL FileType = "blob_storage_url"
)

// TaskType tells the orchestrator whether to reuse a previous report.
type TaskType string

const (
	TaskTypeStartOver TaskType = "start_over"
	TaskTypeResume    TaskType = "resume"
)

// DistributorName identifies a supported distributor storefront.
type DistributorName string

const (
	DistributorSting   DistributorName = "sting"
	DistributorPhoenix DistributorName = "phoenix"
)

// KnownDistributors is the closed set of distributors a task may request.
var KnownDistributors = []DistributorName{DistributorSting, DistributorPhoenix}

// Valid reports whether d is one of KnownDistributors.
func (d DistributorName) Valid() bool {
	for _, k := range KnownDistributors {
		if d == k {
			return true
		}
	}
	return false
}

// Status is the coarse lifecycle state of a task.
type Status string

const (
	StatusInProgress Status = "in progress"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Terminal reports whether no further updates may follow s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// TaskStatus is the nested status object carried by tasks and update messages.
type TaskStatus struct {
	Status               Status `json:"status"`
	Message              string `json:"message"`
	Progress             int    `json:"progress"`
	DetailedErrorMessage string `json:"detailed_error_message"`
}

// Task is a single comparison-shopping request as it travels through the
// inbound queue and the task document store.
type Task struct {
	ID           string            `json:"id"`
	AccountID    string            `json:"account_id"`
	FileName     string            `json:"file_name"`
	FileData     json.RawMessage   `json:"file_data"`
	FileType     FileType          `json:"file_type"`
	PharmacyID   string            `json:"pharmacy_id"`
	Distributors []DistributorName `json:"distributors"`
	TaskType     TaskType          `json:"task_type"`
	DateCreated  string            `json:"date_created"`
	DateUpdated  string            `json:"date_updated"`
	Status       TaskStatus        `json:"status"`
	Report       *Report           `json:"report"`
	ImageURLs    []string          `json:"image_urls"`
}

// DecodeTask parses a queue message body into a Task. The document store
// uses "_id" for the primary key; it is accepted as a fallback for "id".
func DecodeTask(body []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, InputError("task", eris.Wrap(err, "model: decode task"))
	}
	if t.ID == "" {
		var alt struct {
			ID string `json:"_id"`
		}
		if err := json.Unmarshal(body, &alt); err == nil {
			t.ID = alt.ID
		}
	}
	return &t, nil
}

// Validate checks the invariants a task must satisfy before any browser
// session is opened.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.AccountID) == "" {
		return InputError("task", eris.New("account id must not be empty"))
	}
	if strings.TrimSpace(t.PharmacyID) == "" {
		return InputError("task", eris.New("pharmacy_id must not be empty"))
	}
	if len(t.FileData) == 0 || string(t.FileData) == "null" || string(t.FileData) == `""` {
		return InputError("task", eris.New("file data must not be empty"))
	}
	switch t.FileType {
	case FileTypeJSONContent, FileTypeBlobStorageURL:
	default:
		return InputError("task", eris.Errorf("unsupported file type %q", t.FileType))
	}
	switch t.TaskType {
	case TaskTypeStartOver, TaskTypeResume, "":
	default:
		return InputError("task", eris.Errorf("unsupported task type %q", t.TaskType))
	}
	if len(t.Distributors) == 0 {
		return ConfigurationError("task", eris.New("at least one distributor is required"))
	}
	for _, d := range t.Distributors {
		if !d.Valid() {
			return ConfigurationError("task", eris.Errorf("unknown distributor %q", d))
		}
	}
	return nil
}

// FileURL returns FileData as a plain string when it holds a JSON string.
func (t *Task) FileURL() string {
	var s string
	if err := json.Unmarshal(t.FileData, &s); err == nil {
		return s
	}
	return string(t.FileData)
}

// UpdateMessage is the outbound progress/report envelope.
type UpdateMessage struct {
	AccountID string     `json:"account_id"`
	TaskID    string     `json:"task_id"`
	Status    TaskStatus `json:"status"`
	Report    *Report    `json:"report"`
	ImageURLs []string   `json:"image_urls"`
}

// Update builds the outbound envelope for the task's current state.
func (t *Task) Update() UpdateMessage {
	return UpdateMessage{
		AccountID: t.AccountID,
		TaskID:    t.ID,
		Status:    t.Status,
		Report:    t.Report,
		ImageURLs: t.ImageURLs,
	}
}
