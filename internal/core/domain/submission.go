package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// SessionSubmission is one ended session as delivered by a sample source:
// its identity, the raw per connection samples and, optionally, the path of
// the raw dump file to archive.
type SessionSubmission struct {
	SessionMetadata

	Stats map[ConnectionGroupID]SessionRecord `json:"stats"`

	DumpPath string `json:"-"`
}

// DecodeSubmission reads one submission document. Anything that is not a
// well formed submission is reported as ErrMalformedSample.
func DecodeSubmission(r io.Reader) (SessionSubmission, error) {
	var sub SessionSubmission
	if err := json.NewDecoder(r).Decode(&sub); err != nil {
		if errors.Is(err, ErrMalformedSample) {
			return SessionSubmission{}, err
		}
		return SessionSubmission{}, fmt.Errorf("%w: %v", ErrMalformedSample, err)
	}
	return sub, nil
}

// FillDefaults assigns a client id to anonymous uploads and attributes the
// session to app, the authenticated uploader, when the document names none.
func (s *SessionSubmission) FillDefaults(app string) {
	if s.ClientID == "" {
		s.ClientID = uuid.NewString()
	}
	if s.App == "" {
		s.App = app
	}
}

// ProcessResult is what the pipeline did with one submission.
type ProcessResult struct {
	Persist    PersistResult                        `json:"persist"`
	Aggregates map[ConnectionGroupID]SessionSummary `json:"aggregates"`
	Archived   bool                                 `json:"archived"`
	ArchiveErr error                                `json:"-"`
}

// SubmissionReceipt is returned to the uploader once a session is stored.
type SubmissionReceipt struct {
	ClientID     string                               `json:"clientId"`
	DumpID       string                               `json:"dumpId"`
	Attempts     int                                  `json:"attempts"`
	Archived     bool                                 `json:"archived"`
	ArchiveError string                               `json:"archiveError,omitempty"`
	Aggregates   map[ConnectionGroupID]SessionSummary `json:"aggregates"`
}

// Receipt summarizes a stored result for the uploader.
func (r ProcessResult) Receipt() SubmissionReceipt {
	receipt := SubmissionReceipt{
		ClientID:   r.Persist.ClientID,
		DumpID:     r.Persist.DumpID,
		Attempts:   r.Persist.Attempts,
		Archived:   r.Archived,
		Aggregates: r.Aggregates,
	}
	if r.ArchiveErr != nil {
		receipt.ArchiveError = r.ArchiveErr.Error()
	}
	return receipt
}

// BatchItemResult is the outcome of one session of a batch upload. Index is
// the position of the session in the uploaded array; exactly one of Receipt
// and Error is set.
type BatchItemResult struct {
	Index   int                `json:"index"`
	Receipt *SubmissionReceipt `json:"receipt,omitempty"`
	Error   string             `json:"error,omitempty"`
	Message string             `json:"message,omitempty"`
}

// BatchReceipt answers a batch upload, one item per uploaded session.
type BatchReceipt struct {
	Sessions []BatchItemResult `json:"sessions"`
}

// SessionListing is every record stored under one base client id.
type SessionListing struct {
	BaseDumpID string               `json:"baseDumpId"`
	Sessions   []*PersistedMetadata `json:"sessions"`
}
