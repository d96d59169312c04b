// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by bridge, progress and API spans.
const (
	SessionIDKey   = "keewacker.session.id"
	ProviderKey    = "keewacker.provider"
	OriginKey      = "keewacker.origin"
	MediaTypeKey   = "keewacker.media_type"
	ContentKeyKey  = "keewacker.content_key"
	MessageKindKey = "keewacker.message.kind"
	OutcomeKey     = "keewacker.message.outcome"
	StoreKey       = "keewacker.store"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// SessionAttributes describes the playback session a span belongs to.
func SessionAttributes(sessionID, provider, mediaType string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if sessionID != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, sessionID))
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(ProviderKey, provider))
	}
	if mediaType != "" {
		attrs = append(attrs, attribute.String(MediaTypeKey, mediaType))
	}
	return attrs
}

// MessageAttributes describes one inbound bridge message.
func MessageAttributes(kind, origin, outcome string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(MessageKindKey, kind),
		attribute.String(OriginKey, origin),
		attribute.String(OutcomeKey, outcome),
	}
}

// ProgressAttributes describes a progress write.
func ProgressAttributes(store, contentKey string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(StoreKey, store),
		attribute.String(ContentKeyKey, contentKey),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
