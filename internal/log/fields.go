// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field names shared by every component.
const (
	FieldComponent  = "component"
	FieldEvent      = "event"
	FieldRequestID  = "request_id"
	FieldSessionID  = "session_id"
	FieldProvider   = "provider"
	FieldContentKey = "content_key"
	FieldMediaType  = "media_type"
	FieldOrigin     = "origin"
	FieldKind       = "kind"
	FieldStore      = "store"
)
