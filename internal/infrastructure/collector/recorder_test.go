package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"rtcstats/internal/core/domain"
	"rtcstats/internal/core/services"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pc1 = domain.ConnectionGroupID("PC_0")

func TestRecorder_RecordStats(t *testing.T) {
	r := NewRecorder(nil)

	r.RecordStats(pc1, webrtc.StatsReport{
		"out":  webrtc.OutboundRTPStreamStats{SSRC: 1, Kind: "video", PacketsSent: 100},
		"rin":  webrtc.RemoteInboundRTPStreamStats{SSRC: 1, Kind: "video", PacketsLost: 2},
		"in":   webrtc.InboundRTPStreamStats{SSRC: 2, Kind: "audio", PacketsReceived: 50, PacketsLost: -1},
		"pair": webrtc.ICECandidatePairStats{Nominated: true, CurrentRoundTripTime: 0.025},
	})
	r.RecordStats(pc1, webrtc.StatsReport{
		"out":  &webrtc.OutboundRTPStreamStats{SSRC: 1, Kind: "video", PacketsSent: 200},
		"in":   &webrtc.InboundRTPStreamStats{SSRC: 2, Kind: "audio", PacketsReceived: 120, PacketsLost: 6},
		"pair": webrtc.ICECandidatePairStats{Nominated: false, CurrentRoundTripTime: 0.5},
	})

	snapshot := r.Snapshot()
	require.Contains(t, snapshot, pc1)
	record := snapshot[pc1]

	video := record.Tracks["1"]
	assert.Equal(t, "video", video.MediaType)
	assert.Equal(t, []uint64{100, 200}, video.PacketsSent)
	assert.Equal(t, []uint64{2}, video.PacketsSentLost)

	audio := record.Tracks["2"]
	assert.Equal(t, "audio", audio.MediaType)
	assert.Equal(t, []uint64{50, 120}, audio.PacketsReceived)
	assert.Equal(t, []uint64{0, 6}, audio.PacketsReceivedLost)

	require.Len(t, record.Transport.RTTs, 1)
	assert.InDelta(t, 25.0, record.Transport.RTTs[0], 1e-9)
}

func TestRecorder_ReceiverReport(t *testing.T) {
	r := NewRecorder(nil)

	r.RecordRTCP(pc1, []rtcp.Packet{
		&rtcp.ReceiverReport{Reports: []rtcp.ReceptionReport{{SSRC: 7, TotalLost: 3}}},
		&rtcp.PictureLossIndication{MediaSSRC: 7},
	})
	r.RecordReceiverReport(pc1, &rtcp.ReceiverReport{Reports: []rtcp.ReceptionReport{{SSRC: 7, TotalLost: 5}}})
	r.RecordReceiverReport(pc1, nil)

	record := r.Snapshot()[pc1]
	assert.Equal(t, []uint64{3, 5}, record.Tracks["7"].PacketsSentLost)
}

func TestRecorder_Flags(t *testing.T) {
	r := NewRecorder(nil)

	r.SetP2P(pc1, true)
	r.RecordDTLSError(pc1)
	r.RecordDTLSError(pc1)
	r.RecordStats("PC_1", webrtc.StatsReport{
		"t": webrtc.TransportStats{DTLSState: webrtc.DTLSTransportStateFailed},
	})
	r.MarkDTLSFailure(pc1)

	snapshot := r.Snapshot()
	assert.True(t, snapshot[pc1].IsP2P)
	assert.Equal(t, 2, snapshot[pc1].DTLSErrors)
	assert.True(t, snapshot[pc1].DTLSFailure)
	assert.True(t, snapshot["PC_1"].DTLSFailure)
	assert.False(t, snapshot["PC_1"].IsP2P)
}

func TestRecorder_SnapshotIsCopy(t *testing.T) {
	r := NewRecorder(nil)
	r.RecordStats(pc1, webrtc.StatsReport{
		"out": webrtc.OutboundRTPStreamStats{SSRC: 1, Kind: "video", PacketsSent: 10},
	})

	snapshot := r.Snapshot()
	track := snapshot[pc1].Tracks["1"]
	track.PacketsSent[0] = 999

	assert.Equal(t, []uint64{10}, r.Snapshot()[pc1].Tracks["1"].PacketsSent)
}

func TestRecorder_Remove(t *testing.T) {
	r := NewRecorder(nil)
	r.SetP2P(pc1, true)

	record, ok := r.Remove(pc1)
	require.True(t, ok)
	assert.True(t, record.IsP2P)

	_, ok = r.Remove(pc1)
	assert.False(t, ok)
	assert.Empty(t, r.Snapshot())
}

func TestRecorder_FeedsAggregation(t *testing.T) {
	r := NewRecorder(nil)
	r.RecordStats(pc1, webrtc.StatsReport{
		"out":  webrtc.OutboundRTPStreamStats{SSRC: 1, Kind: "video", PacketsSent: 200},
		"rin":  webrtc.RemoteInboundRTPStreamStats{SSRC: 1, Kind: "video", PacketsLost: 10},
		"pair": webrtc.ICECandidatePairStats{Nominated: true, CurrentRoundTripTime: 0.010},
	})
	r.RecordStats(pc1, webrtc.StatsReport{
		"pair": webrtc.ICECandidatePairStats{Nominated: true, CurrentRoundTripTime: 0.020},
	})

	summaries := services.NewStatsAggregator().CalculateAggregates(r.Snapshot())
	summary := summaries[pc1]

	assert.Equal(t, uint64(200), summary.TrackAggregates.TotalPacketsSent)
	assert.Equal(t, uint64(10), summary.TrackAggregates.TotalSentPacketsLost)
	assert.Equal(t, 5, summary.TrackAggregates.SentPacketsLostPct)
	assert.InDelta(t, 15.0, summary.TransportAggregates.MeanRTT, 1e-9)
}

type fakeStatsSource struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeStatsSource) GetStats() webrtc.StatsReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return webrtc.StatsReport{
		"out": webrtc.OutboundRTPStreamStats{SSRC: 1, Kind: "audio", PacketsSent: uint32(f.calls * 10)},
	}
}

func TestRecorder_Poll(t *testing.T) {
	r := NewRecorder(nil)
	source := &fakeStatsSource{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Poll(ctx, pc1, source, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(r.Snapshot()[pc1].Tracks["1"].PacketsSent) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	sent := r.Snapshot()[pc1].Tracks["1"].PacketsSent
	assert.Equal(t, uint64(10), sent[0])
	assert.Equal(t, uint64(20), sent[1])
}
