package places

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ternarybob/gusto/internal/models"
)

// Fingerprint derives the cache identity of a provider request: SHA-256
// hex over the normalized mapping. Participants are exactly the fields
// that change what the upstream returns: text query, search language,
// region, bias circle, rank preference, field mask, max results, and
// pipeline version. Assistant language and the raw city hint stay out;
// the resolved bias circle already captures the city.
func Fingerprint(mapping *models.RouteMapping) string {
	var b strings.Builder

	b.WriteString(strings.Join(strings.Fields(strings.ToLower(mapping.TextQuery)), " "))
	b.WriteString("|")
	b.WriteString(strings.ToLower(mapping.LanguageCode))
	b.WriteString("|")
	b.WriteString(strings.ToUpper(mapping.RegionCode))
	b.WriteString("|")
	if mapping.Bias != nil {
		fmt.Fprintf(&b, "%.4f,%.4f,%d", mapping.Bias.Latitude, mapping.Bias.Longitude, mapping.Bias.RadiusMeters)
	}
	b.WriteString("|")
	if mapping.RankByDistance {
		b.WriteString("distance")
	}
	b.WriteString("|")
	b.WriteString(mapping.FieldMask)
	b.WriteString("|")
	fmt.Fprintf(&b, "%d", mapping.MaxResults)
	b.WriteString("|")
	b.WriteString(mapping.PipelineVersion)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
