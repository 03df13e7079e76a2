package guard

import (
	"strings"

	"github.com/agrichain-api/internal/domain"
)

// DetectSessionHijacking compares a request's origin against the session's
// original origin. Both IP and user-agent family changing together indicates
// likely token theft (critical); an IP change to an address already flagged
// as suspicious is also treated as hijacking (high). IP or UA drift alone is
// tolerated; mobile networks reassign addresses constantly.
func (g *Guard) DetectSessionHijacking(sessionID, currentIP, currentUA, originalIP, originalUA string) bool {
	ipChanged := currentIP != "" && originalIP != "" && currentIP != originalIP
	uaChanged := currentUA != "" && originalUA != "" && uaFingerprint(currentUA) != uaFingerprint(originalUA)

	switch {
	case ipChanged && uaChanged:
		g.audit.Log(domain.AuditLogEntry{
			Action:    domain.EventSessionHijack,
			IPAddress: currentIP,
			UserAgent: currentUA,
			Severity:  domain.SeverityCritical,
			Details: map[string]string{
				"session_id":  sessionID,
				"original_ip": originalIP,
				"original_ua": uaFingerprint(originalUA),
				"current_ua":  uaFingerprint(currentUA),
			},
		})
		return true
	case ipChanged && g.IsSuspiciousIP(currentIP):
		g.audit.Log(domain.AuditLogEntry{
			Action:    domain.EventSessionHijack,
			IPAddress: currentIP,
			UserAgent: currentUA,
			Severity:  domain.SeverityHigh,
			Details: map[string]string{
				"session_id":  sessionID,
				"original_ip": originalIP,
				"reason":      "ip moved to suspicious address",
			},
		})
		return true
	default:
		return false
	}
}

// uaFingerprint reduces a user-agent string to a coarse browser-family/OS
// bucket. Version churn and minor build strings must not count as a change.
func uaFingerprint(ua string) string {
	return uaFamily(ua) + "/" + uaOS(ua)
}

func uaFamily(ua string) string {
	switch {
	case strings.Contains(ua, "Edg/"), strings.Contains(ua, "Edge/"):
		return "edge"
	case strings.Contains(ua, "OPR/"), strings.Contains(ua, "Opera"):
		return "opera"
	case strings.Contains(ua, "Firefox/"):
		return "firefox"
	case strings.Contains(ua, "Chrome/"), strings.Contains(ua, "CriOS/"):
		return "chrome"
	case strings.Contains(ua, "Safari/"):
		return "safari"
	case strings.Contains(ua, "curl/"):
		return "curl"
	default:
		return "other"
	}
}

func uaOS(ua string) string {
	switch {
	case strings.Contains(ua, "Windows"):
		return "windows"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"):
		return "ios"
	case strings.Contains(ua, "Mac OS X"), strings.Contains(ua, "Macintosh"):
		return "macos"
	case strings.Contains(ua, "Android"):
		return "android"
	case strings.Contains(ua, "Linux"):
		return "linux"
	default:
		return "other"
	}
}
