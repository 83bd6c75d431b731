package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/vigilsec/sentinel/domain/entity"
)

// DefaultIndicators returns the built-in indicator seed set used when
// no external feed is configured.
func DefaultIndicators() []*entity.ThreatIndicator {
	now := time.Now().UTC()

	seed := func(t entity.IndicatorType, value string, threat entity.ThreatType, severity entity.Severity, confidence float64, actor, campaign string, ttps []string) *entity.ThreatIndicator {
		return &entity.ThreatIndicator{
			ID:         uuid.New(),
			Type:       t,
			Value:      value,
			ThreatType: threat,
			Severity:   severity,
			Confidence: confidence,
			Actor:      actor,
			Campaign:   campaign,
			TTPs:       ttps,
			Source:     "builtin",
			FirstSeen:  now.Add(-30 * 24 * time.Hour),
			LastSeen:   now,
		}
	}

	return []*entity.ThreatIndicator{
		// Malicious IPs
		seed(entity.IndicatorTypeIP, "185.220.101.45", entity.ThreatTypeCommandControl, entity.SeverityCritical, 0.95,
			"APT-Karakurt", "OP-HollowAnchor", []string{"T1071.001", "T1090"}),
		seed(entity.IndicatorTypeIP, "91.240.118.172", entity.ThreatTypeBotnet, entity.SeverityHigh, 0.85,
			"APT-Karakurt", "OP-HollowAnchor", []string{"T1583.005"}),
		seed(entity.IndicatorTypeIP, "45.155.205.233", entity.ThreatTypeScanning, entity.SeverityMedium, 0.7,
			"", "", []string{"T1595.001"}),
		seed(entity.IndicatorTypeIP, "194.26.29.156", entity.ThreatTypeRansomware, entity.SeverityCritical, 0.9,
			"GoldVein", "OP-LockedGate", []string{"T1486", "T1490"}),

		// Malicious domains
		seed(entity.IndicatorTypeDomain, "update-checker.xyz", entity.ThreatTypeCommandControl, entity.SeverityHigh, 0.9,
			"APT-Karakurt", "OP-HollowAnchor", []string{"T1071.004", "T1568.002"}),
		seed(entity.IndicatorTypeDomain, "secure-login-portal.top", entity.ThreatTypePhishing, entity.SeverityHigh, 0.85,
			"", "", []string{"T1566.002"}),
		seed(entity.IndicatorTypeDomain, "cdn-telemetry.online", entity.ThreatTypeMalware, entity.SeverityMedium, 0.75,
			"GoldVein", "OP-LockedGate", []string{"T1105"}),

		// Malicious file hashes
		seed(entity.IndicatorTypeFileHash, "e3b7a1f2c4d5869b0aa14be6dd0e92f14c8a2d7b9e360f14ab52c6d98e01f374", entity.ThreatTypeRansomware, entity.SeverityCritical, 0.95,
			"GoldVein", "OP-LockedGate", []string{"T1486"}),
		seed(entity.IndicatorTypeFileHash, "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08", entity.ThreatTypeMalware, entity.SeverityHigh, 0.8,
			"APT-Karakurt", "", []string{"T1204.002"}),
	}
}
