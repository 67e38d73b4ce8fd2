package objects

import (
	"reflect"
	"testing"

	"connector-rpc/codec"
)

func newRegistry() *codec.Registry {
	reg := codec.NewRegistry()
	RegisterHandlers(reg)
	return reg
}

func TestPayloadRoundTrip(t *testing.T) {
	reg := newRegistry()
	props := NewConfigurationProperties(
		&ConfigurationProperty{Order: 2, Name: "host", Value: "ldap.example.com", Required: true},
		&ConfigurationProperty{Order: 1, Name: "port", Value: int32(389)},
		&ConfigurationProperty{Order: 3, Name: "password", Value: []byte("secret"), Confidential: true},
	)

	cases := []struct {
		name  string
		value any
	}{
		{"key", &ConnectorKey{BundleName: "bundle", BundleVersion: "1.0", ConnectorName: "Memory"}},
		{"uid", &Uid{Value: "abc"}},
		{"uid with revision", &Uid{Value: "abc", Revision: "3"}},
		{"object class", &ObjectClass{Name: AccountClass}},
		{"attribute", NewAttribute("mail", "a@example.com", "b@example.com")},
		{"empty attribute", &Attribute{Name: "empty", Values: []any{}}},
		{"connector object", &ConnectorObject{
			ObjectClass: &ObjectClass{Name: AccountClass},
			Attributes: []*Attribute{
				NewAttribute(NameAttribute, "jdoe"),
				NewAttribute("age", int32(42)),
			},
		}},
		{"sync token", &SyncToken{Value: int64(17)}},
		{"locale", &Locale{Language: "en", Country: "US"}},
		{"api configuration", &APIConfiguration{
			ProducerBufferSize: 25,
			Timeouts:           map[string]any{"Search": int64(5000)},
			Properties:         props,
		}},
		{"connector info", &RemoteConnectorInfo{
			Key:            &ConnectorKey{BundleName: "b", BundleVersion: "2", ConnectorName: "c"},
			DisplayNameKey: "display",
			CategoryKey:    "category",
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := codec.Marshal(reg, tc.value)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			got, err := codec.Unmarshal(reg, data)
			if err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if !reflect.DeepEqual(got, tc.value) {
				t.Errorf("round trip mismatch: got %#v, want %#v", got, tc.value)
			}
		})
	}
}

func TestConfigurationProperties(t *testing.T) {
	props := NewConfigurationProperties(
		&ConfigurationProperty{Order: 2, Name: "b", Required: true},
		&ConfigurationProperty{Order: 1, Name: "z"},
		&ConfigurationProperty{Order: 1, Name: "a"},
	)

	if got, want := props.Names(), []string{"a", "z", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names: got %v, want %v", got, want)
	}
	if err := props.Validate(); err == nil {
		t.Error("expected missing required property to fail validation")
	}
	if err := props.SetValue("b", "set"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if err := props.Validate(); err != nil {
		t.Errorf("Validate after SetValue: %v", err)
	}
	if props.Value("b") != "set" {
		t.Errorf("Value: got %v", props.Value("b"))
	}
	if err := props.SetValue("missing", 1); err == nil {
		t.Error("expected SetValue on unknown property to fail")
	}
}

func TestParseLocale(t *testing.T) {
	cases := map[string]Locale{
		"en":       {Language: "en"},
		"en_us":    {Language: "en", Country: "US"},
		"de-AT":    {Language: "de", Country: "AT"},
		"ja_JP_JP": {Language: "ja", Country: "JP", Variant: "JP"},
	}
	for tag, want := range cases {
		if got := ParseLocale(tag); *got != want {
			t.Errorf("ParseLocale(%q) = %+v, want %+v", tag, *got, want)
		}
	}
	if got := (&Locale{Language: "en", Country: "US"}).String(); got != "en_US" {
		t.Errorf("String: got %q", got)
	}
}

func TestAPIConfigurationTimeout(t *testing.T) {
	cfg := &APIConfiguration{Timeouts: map[string]any{"Create": int64(100), "Search": int32(50)}}

	if got := cfg.Timeout("Create"); got != 100 {
		t.Errorf("Create timeout: got %d", got)
	}
	if got := cfg.Timeout("Search"); got != 50 {
		t.Errorf("Search timeout: got %d", got)
	}
	if got := cfg.Timeout("Delete"); got != 0 {
		t.Errorf("Delete timeout: got %d", got)
	}
	var none *APIConfiguration
	if got := none.Timeout("Create"); got != 0 {
		t.Errorf("nil config timeout: got %d", got)
	}
}

func TestConnectorObjectAccessors(t *testing.T) {
	obj := &ConnectorObject{
		ObjectClass: &ObjectClass{Name: AccountClass},
		Attributes: []*Attribute{
			NewAttribute("__uid__", "u-1"),
			NewAttribute(NameAttribute, "jdoe"),
		},
	}
	if got := obj.Uid(); got == nil || got.Value != "u-1" {
		t.Errorf("Uid: got %v", got)
	}
	if got := obj.Name(); got != "jdoe" {
		t.Errorf("Name: got %q", got)
	}
	if !obj.ObjectClass.Is("__account__") {
		t.Error("ObjectClass.Is should ignore case")
	}
}
