// Package objects holds the payload types that travel inside operation
// requests and responses. They are opaque to the protocol: each one only
// registers a wire name and a pair of handlers with the codec registry.
package objects

import (
	"fmt"
	"strings"
)

// Well-known attribute and object class names.
const (
	NameAttribute     = "__NAME__"
	UidAttribute      = "__UID__"
	PasswordAttribute = "__PASSWORD__"
	AccountClass      = "__ACCOUNT__"
	GroupClass        = "__GROUP__"
)

// ResultsHandler receives streamed results one at a time. Returning false
// asks the producer to stop.
type ResultsHandler func(obj any) bool

// ConnectorKey identifies a connector implementation hosted by a server.
type ConnectorKey struct {
	BundleName    string
	BundleVersion string
	ConnectorName string
}

func (k *ConnectorKey) String() string {
	if k == nil {
		return ""
	}
	return k.BundleName + ":" + k.BundleVersion + ":" + k.ConnectorName
}

// Uid is the identifier a connector assigns to an object.
type Uid struct {
	Value    string
	Revision string
}

func (u *Uid) String() string {
	if u == nil {
		return "<nil>"
	}
	if u.Revision == "" {
		return u.Value
	}
	return u.Value + "@" + u.Revision
}

// ObjectClass names the kind of object an operation targets.
type ObjectClass struct {
	Name string
}

func (o *ObjectClass) Is(name string) bool {
	return o != nil && strings.EqualFold(o.Name, name)
}

// Attribute is a named, multi-valued property of an object.
type Attribute struct {
	Name   string
	Values []any
}

// NewAttribute builds an attribute from its values.
func NewAttribute(name string, values ...any) *Attribute {
	return &Attribute{Name: name, Values: values}
}

// SingleValue returns the only value of the attribute, or nil when it has
// none. It fails when there is more than one.
func (a *Attribute) SingleValue() (any, error) {
	switch len(a.Values) {
	case 0:
		return nil, nil
	case 1:
		return a.Values[0], nil
	default:
		return nil, fmt.Errorf("attribute %s has %d values", a.Name, len(a.Values))
	}
}

// FindAttribute returns the attribute named name, matched case-insensitively.
func FindAttribute(attrs []*Attribute, name string) *Attribute {
	for _, a := range attrs {
		if a != nil && strings.EqualFold(a.Name, name) {
			return a
		}
	}
	return nil
}

// ConnectorObject is a single object returned by a connector.
type ConnectorObject struct {
	ObjectClass *ObjectClass
	Attributes  []*Attribute
}

// Uid returns the object's __UID__ attribute as a Uid.
func (o *ConnectorObject) Uid() *Uid {
	a := FindAttribute(o.Attributes, UidAttribute)
	if a == nil {
		return nil
	}
	v, _ := a.SingleValue()
	s, _ := v.(string)
	return &Uid{Value: s}
}

// Name returns the object's __NAME__ value.
func (o *ConnectorObject) Name() string {
	a := FindAttribute(o.Attributes, NameAttribute)
	if a == nil {
		return ""
	}
	v, _ := a.SingleValue()
	s, _ := v.(string)
	return s
}

// SyncToken marks a position in a connector's change log.
type SyncToken struct {
	Value any
}

// Locale is the caller's locale, sent during the handshake.
type Locale struct {
	Language string
	Country  string
	Variant  string
}

func (l *Locale) String() string {
	if l == nil {
		return ""
	}
	parts := []string{l.Language}
	if l.Country != "" || l.Variant != "" {
		parts = append(parts, l.Country)
	}
	if l.Variant != "" {
		parts = append(parts, l.Variant)
	}
	return strings.Join(parts, "_")
}

// ParseLocale parses tags such as "en", "en_US" or "en-US".
func ParseLocale(tag string) *Locale {
	parts := strings.FieldsFunc(tag, func(r rune) bool { return r == '_' || r == '-' })
	l := &Locale{}
	if len(parts) > 0 {
		l.Language = strings.ToLower(parts[0])
	}
	if len(parts) > 1 {
		l.Country = strings.ToUpper(parts[1])
	}
	if len(parts) > 2 {
		l.Variant = parts[2]
	}
	return l
}

// RemoteConnectorInfo describes a connector a server offers.
type RemoteConnectorInfo struct {
	Key            *ConnectorKey
	DisplayNameKey string
	CategoryKey    string
	DefaultConfig  *APIConfiguration
}

// APIConfiguration carries the caller's configuration of a connector.
type APIConfiguration struct {
	// ProducerBufferSize is the number of streamed results a server sends
	// before pausing for the consumer. Zero leaves the server default.
	ProducerBufferSize int32
	// Timeouts maps operation names to timeouts in milliseconds.
	Timeouts   map[string]any
	Properties *ConfigurationProperties
}

// Timeout returns the configured timeout for operation, in milliseconds, or
// zero when none is set.
func (c *APIConfiguration) Timeout(operation string) int64 {
	if c == nil {
		return 0
	}
	switch v := c.Timeouts[operation].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	}
	return 0
}
