// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/vigil-ac/vigil/internal/storage"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	return NewStore(db)
}

func TestBatchSetGetRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	in := map[string]Value{
		"speed_avg":   Number(4.32),
		"last_client": String("vanilla"),
		"flagged":     Bool(true),
		"cleared":     Null(),
	}
	if err := s.BatchSet(ctx, "entity-1", in); err != nil {
		t.Fatalf("BatchSet: %v", err)
	}

	got, err := s.BatchGet(ctx, "entity-1", []string{"speed_avg", "last_client", "flagged", "cleared"})
	if err != nil {
		t.Fatalf("BatchGet: %v", err)
	}

	if n, ok := got["speed_avg"].Number(); !ok || n != 4.32 {
		t.Errorf("speed_avg = %v/%v, want 4.32", n, ok)
	}
	if str, ok := got["last_client"].String(); !ok || str != "vanilla" {
		t.Errorf("last_client = %v/%v, want vanilla", str, ok)
	}
	if b, ok := got["flagged"].Bool(); !ok || !b {
		t.Errorf("flagged = %v/%v, want true", b, ok)
	}
	if !got["cleared"].IsNull() {
		t.Errorf("cleared kind = %s, want null", got["cleared"].Kind())
	}
}

func TestBatchGetMissingKeysReadNull(t *testing.T) {
	s := testStore(t)
	got, err := s.BatchGet(context.Background(), "entity-1", []string{"never_written"})
	if err != nil {
		t.Fatalf("BatchGet: %v", err)
	}
	v, ok := got["never_written"]
	if !ok || !v.IsNull() {
		t.Errorf("missing key = %v/%v, want present null", v, ok)
	}
}

func TestLastWriteWinsPerKey(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.BatchSet(ctx, "e", map[string]Value{"k": Number(1)}); err != nil {
		t.Fatalf("BatchSet: %v", err)
	}
	if err := s.BatchSet(ctx, "e", map[string]Value{"k": String("two")}); err != nil {
		t.Fatalf("BatchSet overwrite: %v", err)
	}

	got, err := s.BatchGet(ctx, "e", []string{"k"})
	if err != nil {
		t.Fatalf("BatchGet: %v", err)
	}
	if str, ok := got["k"].String(); !ok || str != "two" {
		t.Errorf("k = %v, want string two (last write wins, kind change allowed)", got["k"])
	}
}

func TestEntityScoping(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.BatchSet(ctx, "alice", map[string]Value{"score": Number(10)}) //nolint:errcheck
	s.BatchSet(ctx, "bob", map[string]Value{"score": Number(99)})   //nolint:errcheck

	got, err := s.BatchGet(ctx, "alice", []string{"score"})
	if err != nil {
		t.Fatalf("BatchGet: %v", err)
	}
	if n, _ := got["score"].Number(); n != 10 {
		t.Errorf("alice score = %v, want 10 (keys are entity-scoped)", n)
	}
}

func TestValidationErrors(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.BatchGet(ctx, "", []string{"k"}); !errors.Is(err, ErrEmptyEntity) {
		t.Errorf("BatchGet empty entity = %v, want ErrEmptyEntity", err)
	}
	if _, err := s.BatchGet(ctx, "e", []string{""}); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("BatchGet empty key = %v, want ErrEmptyKey", err)
	}
	if err := s.BatchSet(ctx, "", map[string]Value{"k": Null()}); !errors.Is(err, ErrEmptyEntity) {
		t.Errorf("BatchSet empty entity = %v, want ErrEmptyEntity", err)
	}
	if err := s.BatchSet(ctx, "e", map[string]Value{"": Null()}); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("BatchSet empty key = %v, want ErrEmptyKey", err)
	}
	if err := s.BatchSet(ctx, "e", nil); err != nil {
		t.Errorf("BatchSet empty map = %v, want nil no-op", err)
	}
}

func TestConcurrentDistinctKeys(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := range 8 {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			entity := fmt.Sprintf("entity-%d", worker)
			for j := range 50 {
				key := fmt.Sprintf("key-%d", j%5)
				if err := s.BatchSet(ctx, entity, map[string]Value{key: Number(float64(j))}); err != nil {
					errs <- err
					return
				}
				if _, err := s.BatchGet(ctx, entity, []string{key}); err != nil {
					errs <- err
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent op failed: %v", err)
	}

	got, err := s.BatchGet(ctx, "entity-3", []string{"key-4"})
	if err != nil {
		t.Fatalf("BatchGet: %v", err)
	}
	if n, ok := got["key-4"].Number(); !ok || n != 49 {
		t.Errorf("entity-3 key-4 = %v/%v, want 49", n, ok)
	}
}

func TestValueJSONWireShape(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		json string
	}{
		{"number", Number(2.5), `{"kind":"number","value":2.5}`},
		{"string", String("x"), `{"kind":"string","value":"x"}`},
		{"bool true", Bool(true), `{"kind":"bool","value":true}`},
		{"null", Null(), `{"kind":"null"}`},
		{"zero value", Value{}, `{"kind":"null"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.v)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(data) != tt.json {
				t.Errorf("marshal = %s, want %s", data, tt.json)
			}

			var back Value
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if back.Kind() != tt.v.Kind() {
				t.Errorf("round trip kind = %s, want %s", back.Kind(), tt.v.Kind())
			}
		})
	}
}

func TestValueJSONRejectsMismatchedPayload(t *testing.T) {
	tests := []string{
		`{"kind":"number","value":"not a number"}`,
		`{"kind":"bool","value":1}`,
		`{"kind":"string","value":false}`,
		`{"kind":"decimal","value":1}`,
	}
	for _, in := range tests {
		var v Value
		if err := json.Unmarshal([]byte(in), &v); err == nil {
			t.Errorf("Unmarshal accepted %s", in)
		}
	}
}
