package prefs

import (
	"errors"
	"reflect"
	"testing"
)

func TestMemoryStoreSetGet(t *testing.T) {
	s := NewMemoryStore(map[string]string{"source_ip": "10.0.0.5"})

	if err := s.Set("source_port", "11111"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, err := s.Get("source_port")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if val != "11111" {
		t.Errorf("expected 11111, got %q", val)
	}

	keys, _ := s.List()
	if want := []string{"source_ip", "source_port"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("List = %v, want %v", keys, want)
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	s := NewMemoryStore(nil)
	_, err := s.Get("prefix")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.Delete("prefix"); err != nil {
		t.Errorf("Delete missing key: %v", err)
	}
}

func TestScopedStore(t *testing.T) {
	inner := NewMemoryStore(map[string]string{
		"http/upstream_proxy": "proxy:3128",
		"forwarder/prefix":    "ccnx:/other",
	})
	s := NewScoped(inner, "http")

	val, err := s.Get("upstream_proxy")
	if err != nil || val != "proxy:3128" {
		t.Fatalf("Get = %q, %v", val, err)
	}
	if _, err := s.Get("prefix"); !errors.Is(err, ErrNotFound) {
		t.Errorf("scoped store leaked another service's key: %v", err)
	}

	s.Set("port", "8080")
	if v, _ := inner.Get("http/port"); v != "8080" {
		t.Errorf("inner http/port = %q", v)
	}

	keys, _ := s.List()
	if want := []string{"port", "upstream_proxy"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("List = %v, want %v", keys, want)
	}

	got, _ := s.GetMultiple([]string{"port", "prefix"})
	if want := map[string]string{"port": "8080"}; !reflect.DeepEqual(got, want) {
		t.Errorf("GetMultiple = %v, want %v", got, want)
	}
}

func TestChainPrecedence(t *testing.T) {
	first := NewMemoryStore(map[string]string{"port": "8080"})
	second := NewMemoryStore(map[string]string{"port": "80", "root_folder": "/srv"})
	c := Chain{first, second}

	if v, _ := c.Get("port"); v != "8080" {
		t.Errorf("Get port = %q, want 8080", v)
	}
	if v, _ := c.Get("root_folder"); v != "/srv" {
		t.Errorf("Get root_folder = %q", v)
	}
	if _, err := c.Get("url_prefix"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	got, err := c.GetMultiple([]string{"port", "root_folder", "url_prefix"})
	if err != nil {
		t.Fatal(err)
	}
	if want := map[string]string{"port": "8080", "root_folder": "/srv"}; !reflect.DeepEqual(got, want) {
		t.Errorf("GetMultiple = %v, want %v", got, want)
	}

	c.Set("url_prefix", "/files")
	if _, err := second.Get("url_prefix"); err == nil {
		t.Error("Set should only write to the first store")
	}

	c.Delete("port")
	if _, err := c.Get("port"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete should remove key from every store, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	store := NewMemoryStore(map[string]string{
		"source_ip": "10.0.0.5",
		"prefix":    "ccnx:/webserver",
	})
	defaults := map[string]string{
		"source_port": "9695",
		"prefix":      "ccnx:/",
	}

	cfg, err := Resolve(store, []string{"source_ip", "source_port", "prefix", "next_hop_ip"}, defaults)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if cfg["source_ip"] != "10.0.0.5" {
		t.Errorf("source_ip = %q", cfg["source_ip"])
	}
	if cfg["source_port"] != "9695" {
		t.Errorf("default not applied: source_port = %q", cfg["source_port"])
	}
	if cfg["prefix"] != "ccnx:/webserver" {
		t.Errorf("stored value should win over default, got %q", cfg["prefix"])
	}
	if _, ok := cfg["next_hop_ip"]; ok {
		t.Error("key with no value and no default must be left out")
	}
}

type failingStore struct{ MemoryStore }

func (*failingStore) GetMultiple([]string) (map[string]string, error) {
	return nil, errors.New("disk on fire")
}

func TestResolvePropagatesStoreErrors(t *testing.T) {
	_, err := Resolve(&failingStore{}, []string{"url"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
}
