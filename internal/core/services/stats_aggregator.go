package services

import (
	"math"

	"rtcstats/internal/core/domain"
)

// StatsAggregator reduces raw connection group samples into session summaries.
// It holds no state and is safe for concurrent use.
type StatsAggregator struct{}

func NewStatsAggregator() *StatsAggregator {
	return &StatsAggregator{}
}

// CalculateAggregates returns exactly one summary per connection group of the
// input. Missing or anomalous data yields zeroed aggregates, never an error.
func (a *StatsAggregator) CalculateAggregates(records map[domain.ConnectionGroupID]domain.SessionRecord) map[domain.ConnectionGroupID]domain.SessionSummary {
	result := make(map[domain.ConnectionGroupID]domain.SessionSummary, len(records))

	for id, record := range records {
		result[id] = domain.SessionSummary{
			IsP2P:               record.IsP2P,
			DTLSErrors:          record.DTLSErrors,
			DTLSFailure:         record.DTLSFailure,
			TrackAggregates:     a.calculateTrackAggregates(record),
			TransportAggregates: a.calculateTransportAggregates(record),
		}
	}

	return result
}

func (a *StatsAggregator) calculateTrackAggregates(record domain.SessionRecord) domain.TrackAggregates {
	var agg domain.TrackAggregates

	// Series are cumulative, the last sample of each is the track total.
	for _, track := range record.Tracks {
		if len(track.PacketsSent) > 0 && len(track.PacketsSentLost) > 0 {
			agg.TotalPacketsSent += last(track.PacketsSent)
			agg.TotalSentPacketsLost += last(track.PacketsSentLost)
		}
		if len(track.PacketsReceived) > 0 && len(track.PacketsReceivedLost) > 0 {
			agg.TotalPacketsReceived += last(track.PacketsReceived)
			agg.TotalReceivedPacketsLost += last(track.PacketsReceivedLost)
		}
	}

	agg.SentPacketsLostPct = lossPercent(agg.TotalSentPacketsLost, agg.TotalPacketsSent)
	agg.ReceivedPacketsLostPct = lossPercent(agg.TotalReceivedPacketsLost, agg.TotalPacketsReceived)

	return agg
}

func (a *StatsAggregator) calculateTransportAggregates(record domain.SessionRecord) domain.TransportAggregates {
	rtts := record.Transport.RTTs

	var sum float64
	for _, rtt := range rtts {
		sum += rtt
	}

	count := len(rtts)
	if count == 0 {
		count = 1
	}

	return domain.TransportAggregates{
		MeanRTT: roundTo(sum/float64(count), 2),
	}
}

// lossPercent is zero unless 0 < lost < total. Loss at or above the total is
// treated as bad telemetry rather than reported as 100%.
func lossPercent(lost, total uint64) int {
	if total == 0 || lost == 0 || lost >= total {
		return 0
	}
	return int(math.Round(float64(lost) / float64(total) * 100))
}

func roundTo(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}

func last(series []uint64) uint64 {
	return series[len(series)-1]
}
