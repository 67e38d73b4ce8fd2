package objects

import (
	"fmt"
	"sort"
)

// ConfigurationProperty is one configuration value of a connector. It has no
// reference to its owning ConfigurationProperties; callers go through the
// owner by name.
type ConfigurationProperty struct {
	Order        int32
	Name         string
	HelpKey      string
	DisplayKey   string
	Value        any
	Confidential bool
	Required     bool
}

// ConfigurationProperties owns a connector's properties keyed by name.
type ConfigurationProperties struct {
	props map[string]*ConfigurationProperty
}

// NewConfigurationProperties builds a property set from props.
func NewConfigurationProperties(props ...*ConfigurationProperty) *ConfigurationProperties {
	c := &ConfigurationProperties{props: make(map[string]*ConfigurationProperty, len(props))}
	for _, p := range props {
		c.Add(p)
	}
	return c
}

// Add inserts or replaces a property.
func (c *ConfigurationProperties) Add(p *ConfigurationProperty) {
	if c.props == nil {
		c.props = make(map[string]*ConfigurationProperty)
	}
	c.props[p.Name] = p
}

// Property returns the named property, or nil.
func (c *ConfigurationProperties) Property(name string) *ConfigurationProperty {
	if c == nil {
		return nil
	}
	return c.props[name]
}

// Value returns the value of the named property, or nil.
func (c *ConfigurationProperties) Value(name string) any {
	if p := c.Property(name); p != nil {
		return p.Value
	}
	return nil
}

// SetValue updates the value of an existing property.
func (c *ConfigurationProperties) SetValue(name string, value any) error {
	p := c.Property(name)
	if p == nil {
		return fmt.Errorf("configuration property %q does not exist", name)
	}
	p.Value = value
	return nil
}

// Names lists property names by Order, then name.
func (c *ConfigurationProperties) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.props))
	for name := range c.props {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := c.props[names[i]], c.props[names[j]]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.Name < b.Name
	})
	return names
}

// Validate reports the first required property that has no value.
func (c *ConfigurationProperties) Validate() error {
	for _, name := range c.Names() {
		p := c.props[name]
		if p.Required && p.Value == nil {
			return fmt.Errorf("configuration property %q is required", name)
		}
	}
	return nil
}
