// Package memconn is an identity connector that keeps its objects in memory.
// The connector server binary hosts it, and the end-to-end tests run against
// it.
package memconn

import (
	"context"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"connector-rpc/exception"
	"connector-rpc/objects"
)

// Key is the connector key memconn registers under.
var Key = &objects.ConnectorKey{
	BundleName:    "connector-rpc.memconn",
	BundleVersion: "1.0",
	ConnectorName: "memconn.Connector",
}

// Property names understood by the connector.
const (
	// PropertyReadOnly rejects every write with PermissionDeniedException.
	PropertyReadOnly = "readOnly"
	// PropertyBroken makes Test fail with ConnectionFailedException.
	PropertyBroken = "broken"
)

// Info describes the connector for the hello exchange.
func Info() *objects.RemoteConnectorInfo {
	return &objects.RemoteConnectorInfo{
		Key:            Key,
		DisplayNameKey: "memconn.display",
		CategoryKey:    "memconn.category",
		DefaultConfig: &objects.APIConfiguration{
			Properties: objects.NewConfigurationProperties(
				&objects.ConfigurationProperty{Order: 1, Name: PropertyReadOnly, Value: false, HelpKey: "readOnly.help", DisplayKey: "readOnly.display"},
				&objects.ConfigurationProperty{Order: 2, Name: PropertyBroken, Value: false, HelpKey: "broken.help", DisplayKey: "broken.display"},
			),
		},
	}
}

type entry struct {
	uid      string
	revision int
	attrs    map[string]*objects.Attribute // lower-case name → attribute
}

// Store holds the objects of every connector instance created from it.
type Store struct {
	mu      sync.RWMutex
	classes map[string]map[string]*entry // class → uid → object
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{classes: make(map[string]map[string]*entry)}
}

// Factory returns a connector factory bound to the store, suitable for
// server.RegisterConnector.
func (s *Store) Factory() func(*objects.APIConfiguration) (any, error) {
	return func(cfg *objects.APIConfiguration) (any, error) {
		c := &Connector{store: s}
		if cfg != nil && cfg.Properties != nil {
			if err := cfg.Properties.Validate(); err != nil {
				return nil, exception.Wrap(exception.KindConfiguration, err, "invalid configuration")
			}
			c.readOnly, _ = cfg.Properties.Value(PropertyReadOnly).(bool)
			c.broken, _ = cfg.Properties.Value(PropertyBroken).(bool)
		}
		return c, nil
	}
}

// Len returns the number of objects of class.
func (s *Store) Len(class string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.classes[strings.ToLower(class)])
}

// Connector is one configured view of a Store. The server creates one per
// call.
type Connector struct {
	store    *Store
	readOnly bool
	broken   bool
}

func className(oclass *objects.ObjectClass) (string, error) {
	if oclass == nil || oclass.Name == "" {
		return "", exception.New(exception.KindConnector, "object class is required")
	}
	return strings.ToLower(oclass.Name), nil
}

func (c *Connector) writable() error {
	if c.readOnly {
		return exception.New(exception.KindPermissionDenied, "connector is read only")
	}
	return nil
}

// Create adds an object and returns its new Uid. A second object of the same
// class with the same __NAME__ fails with AlreadyExistsException.
func (c *Connector) Create(ctx context.Context, oclass *objects.ObjectClass, attrs []*objects.Attribute, options map[string]any) (*objects.Uid, error) {
	class, err := className(oclass)
	if err != nil {
		return nil, err
	}
	if err := c.writable(); err != nil {
		return nil, err
	}
	name := objects.FindAttribute(attrs, objects.NameAttribute)
	if name == nil || len(name.Values) == 0 {
		return nil, exception.New(exception.KindConnector, "__NAME__ is required")
	}

	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	objs := s.classes[class]
	if objs == nil {
		objs = make(map[string]*entry)
		s.classes[class] = objs
	}
	for _, e := range objs {
		if n := e.attrs[strings.ToLower(objects.NameAttribute)]; n != nil && sameValues(n.Values, name.Values) {
			return nil, exception.AlreadyExists(&objects.Uid{Value: e.uid})
		}
	}

	e := &entry{uid: uuid.NewString(), revision: 1, attrs: make(map[string]*objects.Attribute)}
	e.set(attrs)
	objs[e.uid] = e
	return e.id(), nil
}

// Update replaces the given attributes of an object.
func (c *Connector) Update(ctx context.Context, oclass *objects.ObjectClass, uid *objects.Uid, attrs []*objects.Attribute, options map[string]any) (*objects.Uid, error) {
	class, err := className(oclass)
	if err != nil {
		return nil, err
	}
	if err := c.writable(); err != nil {
		return nil, err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookup(class, uid)
	if err != nil {
		return nil, err
	}
	e.set(attrs)
	e.revision++
	return e.id(), nil
}

// Delete removes an object.
func (c *Connector) Delete(ctx context.Context, oclass *objects.ObjectClass, uid *objects.Uid, options map[string]any) error {
	class, err := className(oclass)
	if err != nil {
		return err
	}
	if err := c.writable(); err != nil {
		return err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookup(class, uid); err != nil {
		return err
	}
	delete(s.classes[class], uid.Value)
	return nil
}

// GetObject returns one object by Uid.
func (c *Connector) GetObject(ctx context.Context, oclass *objects.ObjectClass, uid *objects.Uid, options map[string]any) (*objects.ConnectorObject, error) {
	class, err := className(oclass)
	if err != nil {
		return nil, err
	}
	s := c.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, err := s.lookup(class, uid)
	if err != nil {
		return nil, err
	}
	return e.object(oclass), nil
}

// Search streams the objects of a class whose __NAME__ starts with prefix,
// in name order, until handler returns false or ctx is done.
func (c *Connector) Search(ctx context.Context, oclass *objects.ObjectClass, prefix string, handler objects.ResultsHandler, options map[string]any) error {
	class, err := className(oclass)
	if err != nil {
		return err
	}

	// Snapshot so the handler runs without the lock held.
	s := c.store
	s.mu.RLock()
	var matches []*objects.ConnectorObject
	for _, e := range s.classes[class] {
		obj := e.object(oclass)
		if strings.HasPrefix(strings.ToLower(obj.Name()), strings.ToLower(prefix)) {
			matches = append(matches, obj)
		}
	}
	s.mu.RUnlock()
	sort.Slice(matches, func(i, j int) bool { return matches[i].Name() < matches[j].Name() })

	for _, obj := range matches {
		if err := ctx.Err(); err != nil {
			return exception.Wrap(exception.KindOperationTimeout, err, "search interrupted")
		}
		if !handler(obj) {
			return nil
		}
	}
	return nil
}

// Test checks the connector configuration.
func (c *Connector) Test(ctx context.Context) error {
	if c.broken {
		return exception.New(exception.KindConnectionFailed, "target system is unreachable")
	}
	return nil
}

func (s *Store) lookup(class string, uid *objects.Uid) (*entry, error) {
	if uid == nil || uid.Value == "" {
		return nil, exception.New(exception.KindConnector, "uid is required")
	}
	e, ok := s.classes[class][uid.Value]
	if !ok {
		return nil, exception.UnknownUID(uid)
	}
	return e, nil
}

func (e *entry) set(attrs []*objects.Attribute) {
	for _, a := range attrs {
		if a == nil || strings.EqualFold(a.Name, objects.UidAttribute) {
			continue
		}
		values := make([]any, len(a.Values))
		copy(values, a.Values)
		e.attrs[strings.ToLower(a.Name)] = &objects.Attribute{Name: a.Name, Values: values}
	}
}

func (e *entry) id() *objects.Uid {
	return &objects.Uid{Value: e.uid, Revision: strconv.Itoa(e.revision)}
}

func (e *entry) object(oclass *objects.ObjectClass) *objects.ConnectorObject {
	names := make([]string, 0, len(e.attrs))
	for k := range e.attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	obj := &objects.ConnectorObject{
		ObjectClass: &objects.ObjectClass{Name: oclass.Name},
		Attributes:  []*objects.Attribute{objects.NewAttribute(objects.UidAttribute, e.uid)},
	}
	for _, k := range names {
		a := e.attrs[k]
		values := make([]any, len(a.Values))
		copy(values, a.Values)
		obj.Attributes = append(obj.Attributes, &objects.Attribute{Name: a.Name, Values: values})
	}
	return obj
}

func sameValues(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		sa, aok := a[i].(string)
		sb, bok := b[i].(string)
		if aok && bok {
			if !strings.EqualFold(sa, sb) {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}
