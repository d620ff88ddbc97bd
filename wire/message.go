// Package wire defines the transport-agnostic message record shared by the
// session client, topic processor, response cache, command executor,
// command invoker, and telemetry endpoints, along with the reserved user
// property keys and HTTP-style status codes used on the wire.
package wire

import "time"

// PayloadFormat indicates whether Payload should be interpreted as opaque
// bytes or as UTF-8 text, mirroring the MQTT v5 Payload Format Indicator.
type PayloadFormat byte

const (
	PayloadFormatBytes PayloadFormat = 0
	PayloadFormatUTF8  PayloadFormat = 1
)

// QoS is the MQTT quality of service level. Only 0 and 1 are supported by
// this framework; QoS 2 is an explicit non-goal.
type QoS byte

const (
	QoS0 QoS = 0
	QoS1 QoS = 1
)

// Message is the wire-format record described in the data model: a PUBLISH
// carrying the reserved user properties this framework relies on, plus any
// user-supplied metadata.
type Message struct {
	Topic            string
	Payload          []byte
	QoS              QoS
	Retain           bool
	ContentType      string
	PayloadFormat    PayloadFormat
	MessageExpiry    time.Duration // resolution: whole seconds on the wire
	CorrelationData  []byte
	ResponseTopic    string
	UserProperties   PropertyList
}

// PropertyList is an ordered list of key/value user properties. MQTT v5
// permits duplicate keys, so this is a slice of pairs rather than a map.
type PropertyList []Property

// Property is a single MQTT v5 user property.
type Property struct {
	Key   string
	Value string
}

// Get returns the first value for key, if present.
func (p PropertyList) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// GetAll returns every value recorded for key, in insertion order.
func (p PropertyList) GetAll(key string) []string {
	var out []string
	for _, kv := range p {
		if kv.Key == key {
			out = append(out, kv.Value)
		}
	}
	return out
}

// Set appends a key/value pair. Callers that need replace-not-append
// semantics should use WithoutKey followed by Set.
func (p PropertyList) Set(key, value string) PropertyList {
	return append(p, Property{Key: key, Value: value})
}

// WithoutKey returns a copy of the list with all entries for key removed.
func (p PropertyList) WithoutKey(key string) PropertyList {
	out := make(PropertyList, 0, len(p))
	for _, kv := range p {
		if kv.Key != key {
			out = append(out, kv)
		}
	}
	return out
}

// ToMap collapses the list to a map, keeping the last value for each key.
// Use only where duplicate keys are not semantically significant.
func (p PropertyList) ToMap() map[string]string {
	m := make(map[string]string, len(p))
	for _, kv := range p {
		m[kv.Key] = kv.Value
	}
	return m
}

// ReservedPrefix marks user-property keys controlled exclusively by the
// core framework; user code may never set a key with this prefix.
const ReservedPrefix = "__"

// Reserved user-property keys, per the wire format table.
const (
	UserPropTimestamp               = "__ts"
	UserPropSourceID                = "__srcId"
	UserPropProtocolVersion         = "__protVer"
	UserPropSupportedMajorVersions  = "__supProtMajVer"
	UserPropRequestProtocolVersion  = "__requestProtVer"
	UserPropStatusMessage           = "__stMsg"
	UserPropStatus                  = "__stat"
	UserPropIsApplicationError      = "__apErr"
	UserPropInvalidPropertyName     = "__invalidPropertyName"
	UserPropInvalidPropertyValue    = "__invalidPropertyValue"
)

// Status is the HTTP-style status code carried in the __stat user property
// of every command response.
type Status int

const (
	StatusOK                  Status = 200
	StatusBadRequest          Status = 400
	StatusRequestTimeout      Status = 408
	StatusUnsupportedMedia    Status = 415
	StatusInvocationError     Status = 422
	StatusInternalServerError Status = 500
	StatusNotSupportedVersion Status = 505
)

// IsReservedKey reports whether key is controlled by the core framework and
// therefore off-limits to user-supplied metadata.
func IsReservedKey(key string) bool {
	return len(key) >= len(ReservedPrefix) && key[:len(ReservedPrefix)] == ReservedPrefix
}

// ProtocolVersion is the "<major>.<minor>" pair carried in __protVer.
type ProtocolVersion struct {
	Major int
	Minor int
}

// CurrentProtocolVersion is the version this module's executor/invoker
// implement.
var CurrentProtocolVersion = ProtocolVersion{Major: 1, Minor: 0}
