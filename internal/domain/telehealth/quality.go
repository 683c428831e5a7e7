package telehealth

// QualityTier is the discrete connection quality shown on the live badge and
// recorded on the session.
type QualityTier string

const (
	TierExcellent QualityTier = "excellent"
	TierGood      QualityTier = "good"
	TierFair      QualityTier = "fair"
	TierPoor      QualityTier = "poor"
)

// QualitySample is one network measurement reported by a client. Jitter and
// bandwidth are captured for display but do not influence classification.
type QualitySample struct {
	PacketLossPercent float64 `json:"packet_loss_percent"`
	LatencyMs         float64 `json:"latency_ms"`
	JitterMs          float64 `json:"jitter_ms,omitempty"`
	BandwidthKbps     float64 `json:"bandwidth_kbps,omitempty"`
}

// Classify maps a sample to a tier. Bands are evaluated top-down and the
// first band whose loss AND latency thresholds both hold wins, so a sample
// with low loss but high latency falls through to a lower band.
func Classify(s QualitySample) QualityTier {
	switch {
	case s.PacketLossPercent < 1 && s.LatencyMs < 100:
		return TierExcellent
	case s.PacketLossPercent < 3 && s.LatencyMs < 200:
		return TierGood
	case s.PacketLossPercent < 5 && s.LatencyMs < 300:
		return TierFair
	default:
		return TierPoor
	}
}
