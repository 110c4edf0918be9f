package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestMemoryStore_SetGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Set(ctx, "message_buffers/551199", map[string]any{"messages": []string{"oi"}}); err != nil {
		t.Fatal(err)
	}

	var got struct {
		Messages []string `json:"messages"`
	}
	if err := GetJSON(ctx, s, "message_buffers/551199", &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 1 || got.Messages[0] != "oi" {
		t.Errorf("got %+v", got)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_PrefixRead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.Set(ctx, "message_buffers/a", map[string]any{"n": 1})
	s.Set(ctx, "message_buffers/b", map[string]any{"n": 2})

	raw, err := s.Get(ctx, "message_buffers")
	if err != nil {
		t.Fatal(err)
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d children, want 2", len(all))
	}
	if _, ok := all["a"]; !ok {
		t.Error("missing child a")
	}
}

func TestMemoryStore_UpdateMerges(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.Set(ctx, "p", map[string]any{"a": 1, "b": "x"})
	if err := s.Update(ctx, "p", map[string]any{"b": "y", "c": true}); err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := GetJSON(ctx, s, "p", &got); err != nil {
		t.Fatal(err)
	}
	if got["a"] != float64(1) || got["b"] != "y" || got["c"] != true {
		t.Errorf("merge result = %v", got)
	}
}

func TestMemoryStore_UpdateCreates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Update(ctx, "fresh", map[string]any{"x": 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "fresh"); err != nil {
		t.Errorf("record not created: %v", err)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.Set(ctx, "p", map[string]any{"a": 1})
	s.Set(ctx, "p/child", map[string]any{"b": 2})

	existed, err := s.Delete(ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	if !existed {
		t.Error("existed = false, want true")
	}
	if _, err := s.Get(ctx, "p"); !errors.Is(err, ErrNotFound) {
		t.Error("record still present after delete")
	}
	if _, err := s.Get(ctx, "p/child"); !errors.Is(err, ErrNotFound) {
		t.Error("subtree still present after delete")
	}

	existed, err = s.Delete(ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	if existed {
		t.Error("second delete reported existed = true")
	}
}

func TestGetScalars(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.Set(ctx, "k/str", "hello")
	s.Set(ctx, "k/flag", true)

	str, err := GetString(ctx, s, "k/str")
	if err != nil || str != "hello" {
		t.Errorf("GetString = %q, %v", str, err)
	}
	flag, err := GetBool(ctx, s, "k/flag")
	if err != nil || !flag {
		t.Errorf("GetBool = %v, %v", flag, err)
	}

	// Missing scalars read as zero values, not errors.
	str, err = GetString(ctx, s, "k/missing")
	if err != nil || str != "" {
		t.Errorf("missing GetString = %q, %v", str, err)
	}
	flag, err = GetBool(ctx, s, "k/missing")
	if err != nil || flag {
		t.Errorf("missing GetBool = %v, %v", flag, err)
	}
}
