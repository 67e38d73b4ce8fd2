package client

import (
	"context"
	"fmt"

	"connector-rpc/objects"
)

// Operation names sent in OperationRequest.Operation.
const (
	OpCreate    = "Create"
	OpUpdate    = "Update"
	OpDelete    = "Delete"
	OpGetObject = "GetObject"
	OpSearch    = "Search"
	OpTest      = "Test"
)

// Facade is a typed view of one configured remote connector.
type Facade struct {
	client *Client
	key    *objects.ConnectorKey
	config *objects.APIConfiguration
}

// Facade returns a Facade for the connector identified by key, configured
// with cfg.
func (c *Client) Facade(key *objects.ConnectorKey, cfg *objects.APIConfiguration) *Facade {
	return &Facade{client: c, key: key, config: cfg}
}

func (f *Facade) invoke(ctx context.Context, op, method string, args ...any) (any, error) {
	return f.client.Invoke(ctx, f.key, f.config, op, method, args...)
}

// Create creates an object and returns the Uid the connector assigned.
func (f *Facade) Create(ctx context.Context, oclass *objects.ObjectClass, attrs []*objects.Attribute, options map[string]any) (*objects.Uid, error) {
	v, err := f.invoke(ctx, OpCreate, "create", oclass, attrs, options)
	if err != nil {
		return nil, err
	}
	return asUid(v)
}

// Update changes attributes of an object and returns its, possibly new, Uid.
func (f *Facade) Update(ctx context.Context, oclass *objects.ObjectClass, uid *objects.Uid, attrs []*objects.Attribute, options map[string]any) (*objects.Uid, error) {
	v, err := f.invoke(ctx, OpUpdate, "update", oclass, uid, attrs, options)
	if err != nil {
		return nil, err
	}
	return asUid(v)
}

// Delete deletes an object.
func (f *Facade) Delete(ctx context.Context, oclass *objects.ObjectClass, uid *objects.Uid, options map[string]any) error {
	_, err := f.invoke(ctx, OpDelete, "delete", oclass, uid, options)
	return err
}

// GetObject fetches one object, or returns nil when the connector found
// none.
func (f *Facade) GetObject(ctx context.Context, oclass *objects.ObjectClass, uid *objects.Uid, options map[string]any) (*objects.ConnectorObject, error) {
	v, err := f.invoke(ctx, OpGetObject, "getObject", oclass, uid, options)
	if err != nil || v == nil {
		return nil, err
	}
	obj, ok := v.(*objects.ConnectorObject)
	if !ok {
		return nil, fmt.Errorf("client: GetObject returned %T", v)
	}
	return obj, nil
}

// Search streams matching objects into handler until it returns false.
func (f *Facade) Search(ctx context.Context, oclass *objects.ObjectClass, query string, handler func(*objects.ConnectorObject) bool, options map[string]any) error {
	results := objects.ResultsHandler(func(v any) bool {
		obj, ok := v.(*objects.ConnectorObject)
		if !ok {
			return true
		}
		return handler(obj)
	})
	_, err := f.invoke(ctx, OpSearch, "search", oclass, query, results, options)
	return err
}

// Test asks the connector to check its configuration.
func (f *Facade) Test(ctx context.Context) error {
	_, err := f.invoke(ctx, OpTest, "test")
	return err
}

func asUid(v any) (*objects.Uid, error) {
	uid, ok := v.(*objects.Uid)
	if !ok {
		return nil, fmt.Errorf("client: expected a Uid, got %T", v)
	}
	return uid, nil
}
