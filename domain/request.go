// Package domain holds the cross-cutting request/classification/metric types
// shared by the Classifier, Guard, Policy, Predictor and Pipeline. Keeping
// them in one leaf package avoids import cycles between those components.
package domain

import "time"

// Attachment is a file attached to a Request. Declared content type and size
// are always trusted over sniffing the bytes, matching how the Classifier's
// attachment heuristics are specified.
type Attachment struct {
	Filename    string
	ContentType string
	SizeBytes   int
	Bytes       []byte
}

// ResponseFormat optionally constrains the shape of the model's output.
// Type "json_schema" makes Pipeline use Guard.InspectResponseWithSchema to
// validate the upstream's
// content against Schema, treating a violation as a critical anomaly.
type ResponseFormat struct {
	Type   string
	Schema []byte
}

// Hints are optional caller-supplied routing hints. A zero value for any
// field means "let the Classifier/Policy decide".
type Hints struct {
	UseCase        string
	Complexity     Complexity
	Priority       Priority
	Budget         float64
	MaxTokens      int
	Temperature    float64
	ResponseFormat ResponseFormat
}

// Request is the immutable unit of work entering the pipeline.
type Request struct {
	ID          string
	CallerID    string
	Content     string
	Attachments []Attachment
	Hints       Hints
	ArrivedAt   time.Time
}

// TotalAttachmentBytes sums the size of every attachment.
func (r Request) TotalAttachmentBytes() int {
	total := 0
	for _, a := range r.Attachments {
		total += a.SizeBytes
	}
	return total
}
