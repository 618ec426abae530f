package tgtbs

import (
	"fmt"
	"sync"
	"testing"
)

func namedTemplate(name string, size int64) Template {
	return NewTemplate(name, func(p OpenParams) (Store, error) {
		return AsStore(NewMockBackend(size)), nil
	})
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()

	if _, ok := reg.Lookup("rdwr"); ok {
		t.Fatal("Lookup() on empty registry should miss")
	}

	reg.Register(namedTemplate("rdwr", 1))
	reg.Register(namedTemplate("null", 2))

	tests := []struct {
		name   string
		wantOK bool
	}{
		{"rdwr", true},
		{"null", true},
		{"aio", false},
		{"", false},
		{"RDWR", false},
	}
	for _, tt := range tests {
		got, ok := reg.Lookup(tt.name)
		if ok != tt.wantOK {
			t.Errorf("Lookup(%q) ok = %v, want %v", tt.name, ok, tt.wantOK)
			continue
		}
		if ok && got.Name() != tt.name {
			t.Errorf("Lookup(%q) returned template %q", tt.name, got.Name())
		}
	}
}

func TestRegistryDuplicateNamesShadow(t *testing.T) {
	reg := NewRegistry()
	reg.Register(namedTemplate("X", 1024))
	reg.Register(namedTemplate("X", 2048))

	tmpl, ok := reg.Lookup("X")
	if !ok {
		t.Fatal("Lookup(X) missed")
	}
	store, err := tmpl.Open(OpenParams{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if store.Size() != 2048 {
		t.Errorf("Lookup(X) returned the earlier registration (size %d)", store.Size())
	}

	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reg.Len())
	}
	all := reg.Templates()
	if len(all) != 2 || all[0] != tmpl {
		t.Error("Templates() should list the shadowing template first")
	}
}

func TestRegistryConcurrent(t *testing.T) {
	reg := NewRegistry()
	reg.Register(namedTemplate("base", 1))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			reg.Register(namedTemplate(fmt.Sprintf("t%d", i), 1))
		}(i)
		go func() {
			defer wg.Done()
			if _, ok := reg.Lookup("base"); !ok {
				t.Error("Lookup(base) missed during concurrent registration")
			}
		}()
	}
	wg.Wait()

	if reg.Len() != 9 {
		t.Errorf("Len() = %d, want 9", reg.Len())
	}
}
