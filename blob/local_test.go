package blob

import (
	"context"
	"errors"
	"testing"
)

func TestLocalPutRead(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	res, err := l.Put(ctx, "p1", "prompts/script_qa.txt", []byte("hello"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if res.Locator != "p1/prompts/script_qa.txt" {
		t.Errorf("locator = %q", res.Locator)
	}
	if res.Size != 5 {
		t.Errorf("size = %d", res.Size)
	}
	if res.SHA256 != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Errorf("sha = %s", res.SHA256)
	}

	data, err := l.Read(ctx, res.Locator)
	if err != nil || string(data) != "hello" {
		t.Fatalf("Read = %q, %v", data, err)
	}

	ok, err := l.Exists(ctx, "p1", "prompts/script_qa.txt")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
	ok, err = l.Exists(ctx, "p1", "prompts/missing.txt")
	if err != nil || ok {
		t.Errorf("Exists(missing) = %v, %v", ok, err)
	}
}

func TestLocalOverwrite(t *testing.T) {
	ctx := context.Background()
	l, _ := NewLocal(t.TempDir())
	if _, err := l.Put(ctx, "p1", "a.txt", []byte("one")); err != nil {
		t.Fatal(err)
	}
	res, err := l.Put(ctx, "p1", "a.txt", []byte("two"))
	if err != nil {
		t.Fatal(err)
	}
	data, _ := l.Read(ctx, res.Locator)
	if string(data) != "two" {
		t.Errorf("data = %q", data)
	}
}

func TestLocalCreateKeepsFirst(t *testing.T) {
	ctx := context.Background()
	l, _ := NewLocal(t.TempDir())
	res, err := l.Create(ctx, "p1", "prompts/script_qa.txt", []byte("one"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := l.Create(ctx, "p1", "prompts/script_qa.txt", []byte("two")); !errors.Is(err, ErrExists) {
		t.Fatalf("second Create err = %v, want ErrExists", err)
	}
	data, _ := l.Read(ctx, res.Locator)
	if string(data) != "one" {
		t.Errorf("data = %q", data)
	}
}

func TestLocalRejectsEscapes(t *testing.T) {
	ctx := context.Background()
	l, _ := NewLocal(t.TempDir())

	tests := []struct {
		project, file string
	}{
		{"", "a.txt"},
		{"../x", "a.txt"},
		{"a/b", "a.txt"},
		{`a\b`, "a.txt"},
		{"p1", "../../etc/passwd"},
		{"p1", "/abs.txt"},
		{"p1", ""},
	}
	for _, tt := range tests {
		if _, err := l.Put(ctx, tt.project, tt.file, []byte("x")); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Put(%q, %q) err = %v", tt.project, tt.file, err)
		}
	}
	if _, err := l.Read(ctx, "../outside"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("Read err = %v", err)
	}
}
