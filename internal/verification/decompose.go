package verification

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/fathomlabs/fathom/internal/sources"
)

// ParseClaims decodes decomposition output into atomic claims. The structured
// source_ids field is authoritative; when a claim arrives without it, inline
// citation markers in the claim text are parsed as a fallback. Returns nil for
// output with no recoverable claims.
func ParseClaims(text string, registeredSources int) []AtomicClaim {
	raw := extractJSONArray(text)
	if raw == "" {
		return nil
	}
	var decoded []struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		Type      string `json:"type"`
		Value     string `json:"value"`
		Unit      string `json:"unit"`
		SourceIDs []int  `json:"source_ids"`
	}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil
	}

	claims := make([]AtomicClaim, 0, len(decoded))
	for _, d := range decoded {
		if strings.TrimSpace(d.Text) == "" {
			continue
		}
		c := AtomicClaim{
			ID:        d.ID,
			Text:      d.Text,
			Type:      normalizeClaimType(d.Type),
			Value:     d.Value,
			Unit:      d.Unit,
			SourceIDs: d.SourceIDs,
		}
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if len(c.SourceIDs) == 0 {
			c.SourceIDs = sources.ParseCitationMarkers(c.Text, registeredSources)
		}
		claims = append(claims, c)
	}
	if len(claims) == 0 {
		return nil
	}
	return claims
}

func normalizeClaimType(t string) ClaimType {
	switch ClaimType(strings.ToLower(strings.TrimSpace(t))) {
	case ClaimFactual:
		return ClaimFactual
	case ClaimNumerical:
		return ClaimNumerical
	case ClaimAnalytical:
		return ClaimAnalytical
	case ClaimSpeculative:
		return ClaimSpeculative
	default:
		return ClaimFactual
	}
}

// extractJSONArray returns the first balanced [...] span in text.
func extractJSONArray(text string) string {
	start := strings.Index(text, "[")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
