package collector

import (
	"context"
	"strconv"
	"sync"
	"time"

	"rtcstats/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// StatsSource is anything that can produce a stats report on demand.
// *webrtc.PeerConnection satisfies it.
type StatsSource interface {
	GetStats() webrtc.StatsReport
}

// Recorder turns periodic WebRTC stats reports and RTCP receiver reports into
// the cumulative series consumed by the aggregation engine. One SessionRecord
// is kept per peer connection.
type Recorder struct {
	records map[domain.ConnectionGroupID]*domain.SessionRecord
	mu      sync.Mutex

	logger *zap.SugaredLogger
}

// NewRecorder creates an empty recorder
func NewRecorder(logger *zap.SugaredLogger) *Recorder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Recorder{
		records: make(map[domain.ConnectionGroupID]*domain.SessionRecord),
		logger:  logger,
	}
}

// RecordStats appends the counters found in report to the connection's series.
func (r *Recorder) RecordStats(pcID domain.ConnectionGroupID, report webrtc.StatsReport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record := r.recordLocked(pcID)
	for _, stat := range report {
		switch s := stat.(type) {
		case webrtc.OutboundRTPStreamStats:
			appendOutbound(record, s)
		case *webrtc.OutboundRTPStreamStats:
			appendOutbound(record, *s)
		case webrtc.RemoteInboundRTPStreamStats:
			appendRemoteInbound(record, s)
		case *webrtc.RemoteInboundRTPStreamStats:
			appendRemoteInbound(record, *s)
		case webrtc.InboundRTPStreamStats:
			appendInbound(record, s)
		case *webrtc.InboundRTPStreamStats:
			appendInbound(record, *s)
		case webrtc.ICECandidatePairStats:
			appendCandidatePair(record, s)
		case *webrtc.ICECandidatePairStats:
			appendCandidatePair(record, *s)
		case webrtc.TransportStats:
			markTransport(record, s)
		case *webrtc.TransportStats:
			markTransport(record, *s)
		}
	}
}

// RecordReceiverReport appends the cumulative loss the remote side reported
// for each of our outgoing SSRCs.
func (r *Recorder) RecordReceiverReport(pcID domain.ConnectionGroupID, rr *rtcp.ReceiverReport) {
	if rr == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record := r.recordLocked(pcID)
	for _, report := range rr.Reports {
		key := trackKey(report.SSRC)
		track := record.Tracks[key]
		track.PacketsSentLost = append(track.PacketsSentLost, uint64(report.TotalLost))
		record.Tracks[key] = track
	}
}

// RecordRTCP feeds a batch of RTCP packets, keeping only receiver reports.
func (r *Recorder) RecordRTCP(pcID domain.ConnectionGroupID, packets []rtcp.Packet) {
	for _, packet := range packets {
		if rr, ok := packet.(*rtcp.ReceiverReport); ok {
			r.RecordReceiverReport(pcID, rr)
		}
	}
}

// RecordDTLSError counts a DTLS error on the connection.
func (r *Recorder) RecordDTLSError(pcID domain.ConnectionGroupID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordLocked(pcID).DTLSErrors++
}

// MarkDTLSFailure flags the connection as having failed its DTLS handshake.
func (r *Recorder) MarkDTLSFailure(pcID domain.ConnectionGroupID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordLocked(pcID).DTLSFailure = true
}

// SetP2P marks whether the connection is peer to peer.
func (r *Recorder) SetP2P(pcID domain.ConnectionGroupID, isP2P bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordLocked(pcID).IsP2P = isP2P
}

// Snapshot returns a deep copy of every recorded connection.
func (r *Recorder) Snapshot() map[domain.ConnectionGroupID]domain.SessionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[domain.ConnectionGroupID]domain.SessionRecord, len(r.records))
	for id, record := range r.records {
		out[id] = copyRecord(record)
	}
	return out
}

// Remove drops a connection and returns what was recorded for it.
func (r *Recorder) Remove(pcID domain.ConnectionGroupID) (domain.SessionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[pcID]
	if !ok {
		return domain.SessionRecord{}, false
	}
	delete(r.records, pcID)
	return copyRecord(record), true
}

// Poll samples source every interval until ctx is done.
func (r *Recorder) Poll(ctx context.Context, pcID domain.ConnectionGroupID, source StatsSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RecordStats(pcID, source.GetStats())
		}
	}
}

// WatchSender reads RTCP from sender until it is closed and records every
// receiver report the remote side sends back.
func (r *Recorder) WatchSender(pcID domain.ConnectionGroupID, sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			r.logger.Debugw("stopped reading RTCP",
				"pc_id", pcID,
				"error", err,
			)
			return
		}
		r.RecordRTCP(pcID, packets)
	}
}

func (r *Recorder) recordLocked(pcID domain.ConnectionGroupID) *domain.SessionRecord {
	record, ok := r.records[pcID]
	if !ok {
		record = &domain.SessionRecord{Tracks: make(map[string]domain.ConnectionSample)}
		r.records[pcID] = record
	}
	return record
}

func appendOutbound(record *domain.SessionRecord, s webrtc.OutboundRTPStreamStats) {
	key := trackKey(uint32(s.SSRC))
	track := withKind(record.Tracks[key], s.Kind)
	track.PacketsSent = append(track.PacketsSent, uint64(s.PacketsSent))
	record.Tracks[key] = track
}

func appendRemoteInbound(record *domain.SessionRecord, s webrtc.RemoteInboundRTPStreamStats) {
	key := trackKey(uint32(s.SSRC))
	track := withKind(record.Tracks[key], s.Kind)
	track.PacketsSentLost = append(track.PacketsSentLost, clampLost(s.PacketsLost))
	record.Tracks[key] = track
}

func appendInbound(record *domain.SessionRecord, s webrtc.InboundRTPStreamStats) {
	key := trackKey(uint32(s.SSRC))
	track := withKind(record.Tracks[key], s.Kind)
	track.PacketsReceived = append(track.PacketsReceived, uint64(s.PacketsReceived))
	track.PacketsReceivedLost = append(track.PacketsReceivedLost, clampLost(s.PacketsLost))
	record.Tracks[key] = track
}

// appendCandidatePair records the RTT of the nominated pair in milliseconds.
func appendCandidatePair(record *domain.SessionRecord, s webrtc.ICECandidatePairStats) {
	if !s.Nominated || s.CurrentRoundTripTime <= 0 {
		return
	}
	record.Transport.RTTs = append(record.Transport.RTTs, s.CurrentRoundTripTime*1000)
}

func markTransport(record *domain.SessionRecord, s webrtc.TransportStats) {
	if s.DTLSState == webrtc.DTLSTransportStateFailed {
		record.DTLSFailure = true
	}
}

func withKind(track domain.ConnectionSample, kind string) domain.ConnectionSample {
	if track.MediaType == "" {
		track.MediaType = kind
	}
	return track
}

// clampLost maps the signed loss counter onto the non-negative series.
// Duplicated packets can make the reported value negative.
func clampLost(lost int32) uint64 {
	if lost < 0 {
		return 0
	}
	return uint64(lost)
}

func trackKey(ssrc uint32) string {
	return strconv.FormatUint(uint64(ssrc), 10)
}

func copyRecord(record *domain.SessionRecord) domain.SessionRecord {
	out := domain.SessionRecord{
		Tracks:      make(map[string]domain.ConnectionSample, len(record.Tracks)),
		Transport:   domain.TransportSample{RTTs: append([]float64(nil), record.Transport.RTTs...)},
		IsP2P:       record.IsP2P,
		DTLSErrors:  record.DTLSErrors,
		DTLSFailure: record.DTLSFailure,
	}
	for key, track := range record.Tracks {
		out.Tracks[key] = domain.ConnectionSample{
			MediaType:           track.MediaType,
			PacketsSent:         append([]uint64(nil), track.PacketsSent...),
			PacketsSentLost:     append([]uint64(nil), track.PacketsSentLost...),
			PacketsReceived:     append([]uint64(nil), track.PacketsReceived...),
			PacketsReceivedLost: append([]uint64(nil), track.PacketsReceivedLost...),
		}
	}
	return out
}
