package memconn

import (
	"context"
	"errors"
	"testing"

	"connector-rpc/exception"
	"connector-rpc/objects"
)

var account = &objects.ObjectClass{Name: objects.AccountClass}

func newConnector(t *testing.T, store *Store, props ...*objects.ConfigurationProperty) *Connector {
	t.Helper()
	cfg := &objects.APIConfiguration{Properties: objects.NewConfigurationProperties(props...)}
	c, err := store.Factory()(cfg)
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	return c.(*Connector)
}

func TestCreateGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	c := newConnector(t, store)

	uid, err := c.Create(ctx, account, []*objects.Attribute{
		objects.NewAttribute(objects.NameAttribute, "alice"),
		objects.NewAttribute("mail", "alice@example.com"),
	}, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if uid.Value == "" || uid.Revision != "1" {
		t.Fatalf("unexpected uid %v", uid)
	}

	obj, err := c.GetObject(ctx, account, uid, nil)
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	if obj.Name() != "alice" || obj.Uid().Value != uid.Value {
		t.Errorf("got object %q / %v", obj.Name(), obj.Uid())
	}

	uid2, err := c.Update(ctx, account, uid, []*objects.Attribute{objects.NewAttribute("mail", "a@example.org")}, nil)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if uid2.Revision != "2" {
		t.Errorf("revision after update: got %q, want 2", uid2.Revision)
	}
	obj, _ = c.GetObject(ctx, account, uid, nil)
	if v, _ := objects.FindAttribute(obj.Attributes, "mail").SingleValue(); v != "a@example.org" {
		t.Errorf("mail after update: got %v", v)
	}

	if err := c.Delete(ctx, account, uid, nil); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if store.Len(objects.AccountClass) != 0 {
		t.Errorf("store still holds %d objects", store.Len(objects.AccountClass))
	}
	err = c.Delete(ctx, account, uid, nil)
	if !errors.Is(err, exception.ErrUnknownUID) {
		t.Fatalf("second Delete: expected UnknownUidException, got %v", err)
	}
	if got := exception.UIDOf(err); got == nil || got.Value != uid.Value {
		t.Errorf("error uid: got %v", got)
	}
}

func TestCreateDuplicateName(t *testing.T) {
	ctx := context.Background()
	c := newConnector(t, NewStore())

	first, err := c.Create(ctx, account, []*objects.Attribute{objects.NewAttribute(objects.NameAttribute, "bob")}, nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, err = c.Create(ctx, account, []*objects.Attribute{objects.NewAttribute(objects.NameAttribute, "BOB")}, nil)
	if !exception.IsKind(err, exception.KindAlreadyExists) {
		t.Fatalf("expected AlreadyExistsException, got %v", err)
	}
	if got := exception.UIDOf(err); got == nil || got.Value != first.Value {
		t.Errorf("duplicate should name the existing uid, got %v", got)
	}
}

func TestSearchStopsWhenHandlerDeclines(t *testing.T) {
	ctx := context.Background()
	c := newConnector(t, NewStore())
	for _, name := range []string{"carol", "chuck", "craig", "dave"} {
		if _, err := c.Create(ctx, account, []*objects.Attribute{objects.NewAttribute(objects.NameAttribute, name)}, nil); err != nil {
			t.Fatalf("Create %s failed: %v", name, err)
		}
	}

	var names []string
	err := c.Search(ctx, account, "c", func(v any) bool {
		names = append(names, v.(*objects.ConnectorObject).Name())
		return true
	}, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(names) != 3 || names[0] != "carol" || names[2] != "craig" {
		t.Errorf("search results: got %v", names)
	}

	count := 0
	err = c.Search(ctx, account, "", func(v any) bool {
		count++
		return count < 2
	}, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if count != 2 {
		t.Errorf("handler calls after decline: got %d, want 2", count)
	}
}

func TestReadOnlyAndBroken(t *testing.T) {
	ctx := context.Background()
	c := newConnector(t, NewStore(),
		&objects.ConfigurationProperty{Name: PropertyReadOnly, Value: true},
		&objects.ConfigurationProperty{Name: PropertyBroken, Value: true},
	)

	_, err := c.Create(ctx, account, []*objects.Attribute{objects.NewAttribute(objects.NameAttribute, "eve")}, nil)
	if !errors.Is(err, exception.ErrSecurity) {
		t.Errorf("read only create: expected a security error, got %v", err)
	}
	if err := c.Test(ctx); !errors.Is(err, exception.ErrConnectorIO) {
		t.Errorf("broken test: expected a ConnectorIO error, got %v", err)
	}
}

func TestFactoryRejectsMissingRequiredProperty(t *testing.T) {
	cfg := &objects.APIConfiguration{Properties: objects.NewConfigurationProperties(
		&objects.ConfigurationProperty{Name: "host", Required: true},
	)}
	_, err := NewStore().Factory()(cfg)
	if !exception.IsKind(err, exception.KindConfiguration) {
		t.Fatalf("expected ConfigurationException, got %v", err)
	}
}
