package domain

import "time"

// SessionEventType names what happened to a submitted session.
type SessionEventType string

const (
	EventSessionStored        SessionEventType = "session.stored"
	EventSessionArchiveFailed SessionEventType = "session.archive_failed"
	EventSessionRejected      SessionEventType = "session.rejected"
)

// SessionEvent is published after a session leaves the pipeline.
type SessionEvent struct {
	Type         SessionEventType `json:"type"`
	InstanceID   string           `json:"instanceId,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
	ClientID     string           `json:"clientId"`
	DumpID       string           `json:"dumpId,omitempty"`
	ConferenceID string           `json:"conferenceId,omitempty"`
	App          string           `json:"app,omitempty"`
	Outcome      PersistOutcome   `json:"outcome"`
	Attempts     int              `json:"attempts"`
	Error        string           `json:"error,omitempty"`
}

// NewSessionEvent derives the event for a processed session. err is the
// error Process returned, if any.
func NewSessionEvent(meta SessionMetadata, result ProcessResult, err error) SessionEvent {
	event := SessionEvent{
		Type:         EventSessionStored,
		ClientID:     result.Persist.ClientID,
		DumpID:       result.Persist.DumpID,
		ConferenceID: meta.ConferenceID,
		App:          meta.App,
		Outcome:      result.Persist.Outcome,
		Attempts:     result.Persist.Attempts,
	}
	if event.ClientID == "" {
		event.ClientID = meta.ClientID
	}

	switch {
	case err != nil:
		event.Type = EventSessionRejected
		event.DumpID = ""
		event.Error = err.Error()
	case result.ArchiveErr != nil:
		event.Type = EventSessionArchiveFailed
		event.Error = result.ArchiveErr.Error()
	}
	return event
}
