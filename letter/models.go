package letter

import (
	"time"

	"disputeflow/directory"
)

// Status of a stored letter.
type Status string

const (
	StatusDraft Status = "draft"
	StatusSent  Status = "sent"
)

// Letter is the correspondence generated for one dispute execution.
type Letter struct {
	ID               string         `json:"id"`
	ExecutionID      string         `json:"execution_id"`
	RecipientType    directory.Kind `json:"recipient_type"`
	RecipientName    string         `json:"recipient_name"`
	RecipientAddress string         `json:"recipient_address"`
	Subject          string         `json:"subject"`
	Body             string         `json:"body"`
	Citations        []string       `json:"citations"`
	Enhanced         bool           `json:"enhanced"`
	Status           Status         `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	SentAt           *time.Time     `json:"sent_at,omitempty"`
}

// Rendered is the output of the template engine before it is persisted.
type Rendered struct {
	TemplateID string   `json:"template_id" yaml:"template_id"`
	Subject    string   `json:"subject" yaml:"subject"`
	Body       string   `json:"body" yaml:"body"`
	Citations  []string `json:"citations" yaml:"citations"`
	Enhanced   bool     `json:"enhanced" yaml:"enhanced"`
}
