package models

// OpenNowState is the tri-state open-now signal. Providers frequently omit
// current opening hours, so absence is first-class rather than false.
type OpenNowState string

const (
	OpenNowOpen    OpenNowState = "OPEN"
	OpenNowClosed  OpenNowState = "CLOSED"
	OpenNowUnknown OpenNowState = "UNKNOWN"
)

// Business status values as reported by the upstream provider
const (
	BusinessStatusOperational       = "OPERATIONAL"
	BusinessStatusClosedTemporarily = "CLOSED_TEMPORARILY"
	BusinessStatusClosedPermanently = "CLOSED_PERMANENTLY"
)

// Place is the provider-agnostic domain object flowing through the
// post-filter and ranking stages. PhotoRef is the canonical
// "places/{placeId}/photos/{photoId}" reference consumed by the photo proxy.
type Place struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Address        string       `json:"address,omitempty"`
	Street         string       `json:"street,omitempty"`
	Latitude       float64      `json:"latitude,omitempty"`
	Longitude      float64      `json:"longitude,omitempty"`
	Rating         float64      `json:"rating,omitempty"`
	ReviewCount    int          `json:"review_count,omitempty"`
	PriceLevel     int          `json:"price_level,omitempty"` // 0 = unknown, 1-4 = $ to $$$$
	Types          []string     `json:"types,omitempty"`
	BusinessStatus string       `json:"business_status,omitempty"`
	OpenNow        OpenNowState `json:"open_now,omitempty"`
	PhotoRef       string       `json:"photo_ref,omitempty"`
	MapsURI        string       `json:"maps_uri,omitempty"`

	// DistanceMeters is computed against the user location when one exists;
	// zero otherwise (ranking forces the distance weight to zero in that case).
	DistanceMeters float64 `json:"distance_meters,omitempty"`
}

// IsPermanentlyClosed reports whether the place should be dropped before
// caching or ranking.
func (p *Place) IsPermanentlyClosed() bool {
	return p.BusinessStatus == BusinessStatusClosedPermanently
}

// PlaceResult is the client-facing projection of a ranked Place
type PlaceResult struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Address        string       `json:"address,omitempty"`
	Latitude       float64      `json:"latitude,omitempty"`
	Longitude      float64      `json:"longitude,omitempty"`
	Rating         float64      `json:"rating,omitempty"`
	ReviewCount    int          `json:"reviewCount,omitempty"`
	PriceLevel     int          `json:"priceLevel,omitempty"`
	Types          []string     `json:"types,omitempty"`
	OpenNow        OpenNowState `json:"openNow"`
	PhotoURL       string       `json:"photoUrl,omitempty"` // proxied; never the upstream URL
	MapsURI        string       `json:"mapsUri,omitempty"`
	DistanceMeters float64      `json:"distanceMeters,omitempty"`
	Score          float64      `json:"score"`
}
