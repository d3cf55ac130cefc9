package fspiop

import (
	"net/http"
	"time"
)

const (
	HeaderSource        = "FSPIOP-Source"
	HeaderDestination   = "FSPIOP-Destination"
	HeaderSignature     = "FSPIOP-Signature"
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderDate          = "Date"
)

// ContentType returns the versioned media type of a resource.
func ContentType(resource string) string {
	return "application/vnd.interoperability." + resource + "+json;version=1.0"
}

// SetHeaders writes the protocol headers shared by requests and callbacks.
// Empty destination and correlation values are omitted.
func SetHeaders(h http.Header, resource, source, destination, correlationID string, now time.Time) {
	h.Set("Content-Type", ContentType(resource))
	h.Set("Accept", ContentType(resource))
	h.Set(HeaderDate, now.UTC().Format(http.TimeFormat))
	h.Set(HeaderSource, source)
	if destination != "" {
		h.Set(HeaderDestination, destination)
	}
	if correlationID != "" {
		h.Set(HeaderCorrelationID, correlationID)
	}
}
