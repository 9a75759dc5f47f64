package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ConnectionGroupID identifies one peer connection inside a session dump.
type ConnectionGroupID string

// ConnectionSample is the time series of a single media track. Every series
// holds cumulative counters, so the last element is the running total.
type ConnectionSample struct {
	MediaType           string   `json:"mediaType"`
	PacketsSent         []uint64 `json:"packetsSent,omitempty"`
	PacketsSentLost     []uint64 `json:"packetsSentLost,omitempty"`
	PacketsReceived     []uint64 `json:"packetsReceived,omitempty"`
	PacketsReceivedLost []uint64 `json:"packetsReceivedLost,omitempty"`
}

// TransportSample holds the round trip time observations (milliseconds) of a
// connection's transport.
type TransportSample struct {
	RTTs []float64 `json:"rtts,omitempty"`
}

// SessionRecord is everything collected for one connection group.
type SessionRecord struct {
	Tracks      map[string]ConnectionSample
	Transport   TransportSample
	IsP2P       bool
	DTLSErrors  int
	DTLSFailure bool
}

// Keys of a serialized connection group that are not tracks.
const (
	recordKeyTransport   = "transport"
	recordKeyIsP2P       = "isP2P"
	recordKeyDTLSErrors  = "dtlsErrors"
	recordKeyDTLSFailure = "dtlsFailure"
)

// UnmarshalJSON decodes the loosely shaped connection group document. Entries
// that carry a mediaType are tracks, anything else that is not a known key is
// ignored. Counters that are negative or fractional are rejected.
func (r *SessionRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSample, err)
	}

	*r = SessionRecord{Tracks: make(map[string]ConnectionSample)}

	for key, value := range raw {
		switch key {
		case recordKeyTransport:
			if err := json.Unmarshal(value, &r.Transport); err != nil {
				return fmt.Errorf("%w: transport: %v", ErrMalformedSample, err)
			}
			for _, rtt := range r.Transport.RTTs {
				if rtt < 0 {
					return fmt.Errorf("%w: transport: negative rtt %v", ErrMalformedSample, rtt)
				}
			}
		case recordKeyIsP2P:
			if err := json.Unmarshal(value, &r.IsP2P); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrMalformedSample, key, err)
			}
		case recordKeyDTLSErrors:
			if err := json.Unmarshal(value, &r.DTLSErrors); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrMalformedSample, key, err)
			}
		case recordKeyDTLSFailure:
			if err := json.Unmarshal(value, &r.DTLSFailure); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrMalformedSample, key, err)
			}
		default:
			if !isTrackShaped(value) {
				continue
			}
			var track ConnectionSample
			if err := json.Unmarshal(value, &track); err != nil {
				return fmt.Errorf("%w: track %s: %v", ErrMalformedSample, key, err)
			}
			r.Tracks[key] = track
		}
	}

	return nil
}

// MarshalJSON writes the record back in the same flat shape it is read from.
func (r SessionRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Tracks)+4)
	for id, track := range r.Tracks {
		out[id] = track
	}
	out[recordKeyTransport] = r.Transport
	out[recordKeyIsP2P] = r.IsP2P
	out[recordKeyDTLSErrors] = r.DTLSErrors
	out[recordKeyDTLSFailure] = r.DTLSFailure
	return json.Marshal(out)
}

func isTrackShaped(value json.RawMessage) bool {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return false
	}
	_, ok := probe["mediaType"]
	return ok
}

// TrackAggregates summarizes packet loss over every track of a connection group.
type TrackAggregates struct {
	TotalPacketsSent         uint64 `json:"totalPacketsSent" bson:"totalPacketsSent"`
	TotalSentPacketsLost     uint64 `json:"totalSentPacketsLost" bson:"totalSentPacketsLost"`
	SentPacketsLostPct       int    `json:"sentPacketsLostPct" bson:"sentPacketsLostPct"`
	TotalPacketsReceived     uint64 `json:"totalPacketsReceived" bson:"totalPacketsReceived"`
	TotalReceivedPacketsLost uint64 `json:"totalReceivedPacketsLost" bson:"totalReceivedPacketsLost"`
	ReceivedPacketsLostPct   int    `json:"receivedPacketsLostPct" bson:"receivedPacketsLostPct"`
}

type TransportAggregates struct {
	MeanRTT float64 `json:"meanRtt" bson:"meanRtt"`
}

// SessionSummary is the aggregated view of one connection group.
type SessionSummary struct {
	IsP2P               bool                `json:"isP2P" bson:"isP2P"`
	DTLSErrors          int                 `json:"dtlsErrors" bson:"dtlsErrors"`
	DTLSFailure         bool                `json:"dtlsFailure" bson:"dtlsFailure"`
	TrackAggregates     TrackAggregates     `json:"trackAggregates" bson:"trackAggregates"`
	TransportAggregates TransportAggregates `json:"transportAggregates" bson:"transportAggregates"`
}

// SessionMetadata is the caller supplied identity of an ended session.
type SessionMetadata struct {
	ClientID      string                 `json:"clientId" bson:"clientId"`
	ConferenceID  string                 `json:"conferenceId" bson:"conferenceId"`
	ConferenceURL string                 `json:"conferenceUrl,omitempty" bson:"conferenceUrl,omitempty"`
	UserID        string                 `json:"userId,omitempty" bson:"userId,omitempty"`
	App           string                 `json:"app,omitempty" bson:"app,omitempty"`
	SessionID     string                 `json:"sessionId,omitempty" bson:"sessionId,omitempty"`
	StartDate     time.Time              `json:"startDate" bson:"startDate"`
	EndDate       time.Time              `json:"endDate" bson:"endDate"`
	Extra         map[string]interface{} `json:"extra,omitempty" bson:"extra,omitempty"`

	Aggregates map[ConnectionGroupID]SessionSummary `json:"aggregates,omitempty" bson:"aggregates,omitempty"`
}

// PersistedMetadata is the document written to the metadata store.
type PersistedMetadata struct {
	SessionMetadata `bson:",inline"`

	BaseDumpID string `json:"baseDumpId" bson:"baseDumpId"`
	DumpID     string `json:"dumpId" bson:"dumpId"`
}

// UniqueKey returns the composite key the store enforces uniqueness over, in
// index order.
func (p *PersistedMetadata) UniqueKey() []string {
	return []string{
		p.ConferenceID,
		p.ConferenceURL,
		p.DumpID,
		p.BaseDumpID,
		p.UserID,
		p.App,
		p.SessionID,
		p.StartDate.UTC().Format(time.RFC3339Nano),
		p.EndDate.UTC().Format(time.RFC3339Nano),
	}
}

// CompositeKey encodes UniqueKey as one string. Every field is length
// prefixed, so no field content can make two different tuples encode alike.
func (p *PersistedMetadata) CompositeKey() string {
	var b strings.Builder
	for _, field := range p.UniqueKey() {
		b.WriteString(strconv.Itoa(len(field)))
		b.WriteByte(':')
		b.WriteString(field)
	}
	return b.String()
}

// UniqueIndexFields lists the document fields of the composite unique index.
var UniqueIndexFields = []string{
	"conferenceId",
	"conferenceUrl",
	"dumpId",
	"baseDumpId",
	"userId",
	"app",
	"sessionId",
	"startDate",
	"endDate",
}
