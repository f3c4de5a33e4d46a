package core

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// AuditKind tags an audit entry and selects its payload variant.
type AuditKind string

const (
	KindProfileClaim          AuditKind = "profile_claim"
	KindClaimRejected         AuditKind = "claim_rejected"
	KindResourceCreated       AuditKind = "resource_created"
	KindResourceHealthChecked AuditKind = "resource_health_checked"
	KindValidationPerformed   AuditKind = "validation_performed"
)

// Payload is the typed body of an audit entry.
type Payload interface {
	AuditKind() AuditKind
}

// ClaimPayload records an accepted claim. Field is empty when no routing
// rule matched.
type ClaimPayload struct {
	Claim  Claim  `json:"claim"`
	Field  string `json:"field,omitempty"`
	Routed bool   `json:"routed"`
}

func (ClaimPayload) AuditKind() AuditKind { return KindProfileClaim }

// RejectedClaimPayload records a claim dropped before routing.
type RejectedClaimPayload struct {
	Claim  Claim  `json:"claim"`
	Reason string `json:"reason"`
}

func (RejectedClaimPayload) AuditKind() AuditKind { return KindClaimRejected }

// ValidationPayload records one validation run.
type ValidationPayload struct {
	Ref    string           `json:"ref"`
	Result ValidationResult `json:"result"`
}

func (ValidationPayload) AuditKind() AuditKind { return KindValidationPerformed }

// ResourceCreatedPayload records a committed resource.
type ResourceCreatedPayload struct {
	ResourceID string         `json:"resourceId"`
	Config     ResourceConfig `json:"config"`
}

func (ResourceCreatedPayload) AuditKind() AuditKind { return KindResourceCreated }

// HealthCheckedPayload records one live health read.
type HealthCheckedPayload struct {
	ResourceID string `json:"resourceId"`
	Health     Health `json:"health"`
}

func (HealthCheckedPayload) AuditKind() AuditKind { return KindResourceHealthChecked }

// MalformedPayload stands in for a stored payload that could not be decoded.
// Readers see it through Query instead of having the entry silently skipped.
type MalformedPayload struct {
	Kind AuditKind       `json:"kind"`
	Raw  json.RawMessage `json:"raw,omitempty"`
	Err  string          `json:"error"`
}

func (m MalformedPayload) AuditKind() AuditKind { return m.Kind }

// AuditEntry is an immutable record of one claim-ingestion or action event.
type AuditEntry struct {
	ID        string
	Namespace Namespace
	Kind      AuditKind
	Payload   Payload
	Timestamp time.Time
}

// Clone returns a copy of e that shares no slices or pointers with it.
func (e AuditEntry) Clone() AuditEntry {
	switch p := e.Payload.(type) {
	case ValidationPayload:
		p.Result = p.Result.Clone()
		e.Payload = p
	case MalformedPayload:
		p.Raw = slices.Clone(p.Raw)
		e.Payload = p
	}
	return e
}

// Malformed reports whether the payload failed to decode.
func (e AuditEntry) Malformed() bool {
	_, ok := e.Payload.(MalformedPayload)
	return ok
}

// Subject returns the resource id or ref the entry is about, or "".
func (e AuditEntry) Subject() string {
	switch p := e.Payload.(type) {
	case ResourceCreatedPayload:
		return p.ResourceID
	case HealthCheckedPayload:
		return p.ResourceID
	case ValidationPayload:
		return p.Ref
	}
	return ""
}

// Text is the free-text form of the entry used for similarity search.
func (e AuditEntry) Text() string {
	raw, err := EncodePayload(e.Payload)
	if err != nil {
		raw = nil
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if id := e.Subject(); id != "" {
		b.WriteString(" ")
		b.WriteString(id)
	}
	if len(raw) > 0 {
		b.WriteString(" ")
		b.Write(raw)
	}
	return b.String()
}

// EncodePayload serializes a payload variant.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("nil payload")
	}
	if m, ok := p.(MalformedPayload); ok {
		// Keep what was stored so a malformed entry round-trips unchanged.
		if len(m.Raw) == 0 {
			return []byte("null"), nil
		}
		return m.Raw, nil
	}
	return json.Marshal(p)
}

// DecodePayload restores the payload variant for kind. It never fails:
// unknown kinds and undecodable bodies come back as MalformedPayload.
func DecodePayload(kind AuditKind, raw []byte) Payload {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindProfileClaim:
		var v ClaimPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindClaimRejected:
		var v RejectedClaimPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindValidationPerformed:
		var v ValidationPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindResourceCreated:
		var v ResourceCreatedPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case KindResourceHealthChecked:
		var v HealthCheckedPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		err = fmt.Errorf("unknown audit kind %q", kind)
	}
	if err != nil {
		return MalformedPayload{Kind: kind, Raw: append(json.RawMessage(nil), raw...), Err: err.Error()}
	}
	return p
}

type auditEnvelope struct {
	ID        string          `json:"id"`
	Namespace Namespace       `json:"namespace"`
	Kind      AuditKind       `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

func (e AuditEntry) MarshalJSON() ([]byte, error) {
	raw, err := EncodePayload(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if !json.Valid(raw) {
		// Malformed payloads may hold arbitrary bytes.
		if raw, err = json.Marshal(string(raw)); err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}
	return json.Marshal(auditEnvelope{
		ID:        e.ID,
		Namespace: e.Namespace,
		Kind:      e.Kind,
		Payload:   raw,
		Timestamp: e.Timestamp,
	})
}

func (e *AuditEntry) UnmarshalJSON(data []byte) error {
	var env auditEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode audit entry: %w", err)
	}
	*e = AuditEntry{
		ID:        env.ID,
		Namespace: env.Namespace,
		Kind:      env.Kind,
		Payload:   DecodePayload(env.Kind, env.Payload),
		Timestamp: env.Timestamp,
	}
	return nil
}
