package places

import "github.com/ternarybob/gusto/internal/models"

// DefaultFieldMask is the X-Goog-FieldMask sent when the mapping carries
// none. Every field the post-filter and ranking stages read must appear
// here; asking for more inflates upstream cost.
const DefaultFieldMask = "places.id,places.displayName,places.formattedAddress,places.location," +
	"places.rating,places.userRatingCount,places.priceLevel,places.types,places.businessStatus," +
	"places.currentOpeningHours.openNow,places.photos.name,places.googleMapsUri,nextPageToken"

// searchRequest is the Places API text search request body
type searchRequest struct {
	TextQuery      string        `json:"textQuery"`
	LanguageCode   string        `json:"languageCode,omitempty"`
	RegionCode     string        `json:"regionCode,omitempty"`
	MaxResultCount int           `json:"maxResultCount,omitempty"`
	RankPreference string        `json:"rankPreference,omitempty"`
	LocationBias   *locationBias `json:"locationBias,omitempty"`
	PageToken      string        `json:"pageToken,omitempty"`
}

type locationBias struct {
	Circle *circle `json:"circle,omitempty"`
}

type circle struct {
	Center latLng  `json:"center"`
	Radius float64 `json:"radius"`
}

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// searchResponse is the Places API text search response body
type searchResponse struct {
	Places        []placePayload `json:"places,omitempty"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

// placePayload is one place as the upstream returns it
type placePayload struct {
	ID                  string                `json:"id"`
	DisplayName         *localizedText        `json:"displayName,omitempty"`
	FormattedAddress    string                `json:"formattedAddress,omitempty"`
	Location            *latLng               `json:"location,omitempty"`
	Rating              float64               `json:"rating,omitempty"`
	UserRatingCount     int                   `json:"userRatingCount,omitempty"`
	PriceLevel          string                `json:"priceLevel,omitempty"`
	Types               []string              `json:"types,omitempty"`
	BusinessStatus      string                `json:"businessStatus,omitempty"`
	CurrentOpeningHours *currentOpeningHours  `json:"currentOpeningHours,omitempty"`
	Photos              []photoResourcePayload `json:"photos,omitempty"`
	GoogleMapsURI       string                `json:"googleMapsUri,omitempty"`
}

type localizedText struct {
	Text         string `json:"text,omitempty"`
	LanguageCode string `json:"languageCode,omitempty"`
}

// currentOpeningHours carries the live open signal. OpenNow is a pointer:
// the upstream omits the whole block for places without hours, and absence
// must surface as UNKNOWN rather than CLOSED.
type currentOpeningHours struct {
	OpenNow *bool `json:"openNow,omitempty"`
}

// photoResourcePayload holds the canonical photo resource name
// ("places/{placeId}/photos/{photoId}")
type photoResourcePayload struct {
	Name string `json:"name,omitempty"`
}

// geocodeResponse is the Geocoding API response body
type geocodeResponse struct {
	Results []geocodeResult `json:"results,omitempty"`
	Status  string          `json:"status"`
}

type geocodeResult struct {
	Geometry geocodeGeometry `json:"geometry"`
}

type geocodeGeometry struct {
	Location geocodeLatLng `json:"location"`
}

type geocodeLatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// priceLevelValues maps the upstream price enum to the 0-4 scale clients
// see. Unspecified and free both read as 0 (unknown/no signal).
var priceLevelValues = map[string]int{
	"PRICE_LEVEL_UNSPECIFIED":    0,
	"PRICE_LEVEL_FREE":           0,
	"PRICE_LEVEL_INEXPENSIVE":    1,
	"PRICE_LEVEL_MODERATE":       2,
	"PRICE_LEVEL_EXPENSIVE":      3,
	"PRICE_LEVEL_VERY_EXPENSIVE": 4,
}

// toPlace converts an upstream payload into the domain Place
func (p *placePayload) toPlace() models.Place {
	place := models.Place{
		ID:             p.ID,
		Address:        p.FormattedAddress,
		Rating:         p.Rating,
		ReviewCount:    p.UserRatingCount,
		PriceLevel:     priceLevelValues[p.PriceLevel],
		Types:          p.Types,
		BusinessStatus: p.BusinessStatus,
		OpenNow:        models.OpenNowUnknown,
		MapsURI:        p.GoogleMapsURI,
	}
	if p.DisplayName != nil {
		place.Name = p.DisplayName.Text
	}
	if p.Location != nil {
		place.Latitude = p.Location.Latitude
		place.Longitude = p.Location.Longitude
	}
	if p.CurrentOpeningHours != nil && p.CurrentOpeningHours.OpenNow != nil {
		if *p.CurrentOpeningHours.OpenNow {
			place.OpenNow = models.OpenNowOpen
		} else {
			place.OpenNow = models.OpenNowClosed
		}
	}
	if len(p.Photos) > 0 {
		place.PhotoRef = p.Photos[0].Name
	}
	return place
}
