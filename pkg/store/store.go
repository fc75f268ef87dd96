package store

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/abbyhq/abby/pkg/events"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const (
	// LayoutVersion is written to new stores.
	LayoutVersion = "1.0.0"
	// layoutConstraint is what this build can read.
	layoutConstraint = "^1.0.0"
	versionKey       = "abby:schema_version"
)

var (
	ErrUnknownCollection  = errors.New("store: unknown collection")
	ErrRecordNotFound     = errors.New("store: record not found")
	ErrIncompatibleSchema = errors.New("store: incompatible layout version")
)

// Record is one decoded element of a collection.
type Record = map[string]any

// Store reads and writes collections through a KV backend. Reads validate
// every element and drop the ones that fail; writes replace the whole array
// and notify subscribers.
type Store struct {
	kv      KV
	pub     events.Publisher
	schemas map[string]*jsonschema.Schema
	logger  *slog.Logger
	mu      sync.Mutex // serializes read-modify-write
}

// New compiles the record schemas and wraps kv. pub may be nil.
func New(kv KV, pub events.Publisher) (*Store, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemas := make(map[string]*jsonschema.Schema, len(collections))
	for name := range collections {
		data, err := schemaFS.ReadFile("schemas/" + name + ".schema.json")
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		url := fmt.Sprintf("https://abby.schemas.local/store/%s.schema.json", name)
		if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("schema load failed for %s: %w", name, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("schema compile failed for %s: %w", name, err)
		}
		schemas[name] = compiled
	}
	return &Store{
		kv:      kv,
		pub:     pub,
		schemas: schemas,
		logger:  slog.Default().With("component", "store"),
	}, nil
}

// EnsureSchemaVersion stamps an empty store with LayoutVersion and refuses
// to open a store written by an incompatible layout.
func (s *Store) EnsureSchemaVersion(ctx context.Context) error {
	raw, err := s.kv.Get(ctx, versionKey)
	if errors.Is(err, ErrNotFound) {
		return s.kv.Put(ctx, versionKey, []byte(LayoutVersion))
	}
	if err != nil {
		return err
	}
	v, err := semver.NewVersion(string(raw))
	if err != nil {
		return fmt.Errorf("%w: unreadable version %q", ErrIncompatibleSchema, raw)
	}
	c, err := semver.NewConstraint(layoutConstraint)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: found %s, need %s", ErrIncompatibleSchema, v, layoutConstraint)
	}
	return nil
}

// Load returns the valid records of a collection. Malformed records are
// dropped with a warning, never returned as an error.
func (s *Store) Load(ctx context.Context, name string) ([]Record, error) {
	if !KnownCollection(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	raw, err := s.kv.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		s.logger.WarnContext(ctx, "collection is not a JSON array, treating as empty",
			"collection", name, "error", err)
		return []Record{}, nil
	}

	schema := s.schemas[name]
	out := make([]Record, 0, len(items))
	for i, item := range items {
		var v any
		if err := json.Unmarshal(item, &v); err != nil {
			s.logger.WarnContext(ctx, "dropping undecodable record", "collection", name, "index", i, "error", err)
			continue
		}
		if err := schema.Validate(v); err != nil {
			s.logger.WarnContext(ctx, "dropping invalid record", "collection", name, "index", i, "error", err)
			continue
		}
		rec, ok := v.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Save replaces a collection. Last write wins.
func (s *Store) Save(ctx context.Context, name string, records []Record) error {
	info, ok := collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := s.kv.Put(ctx, name, data); err != nil {
		return err
	}
	if s.pub != nil {
		s.pub.Publish(events.Event{Kind: info.event, Collection: name, Count: len(records)})
	}
	return nil
}

// Append adds one record. rec may be any JSON-encodable value that encodes
// to an object; it is validated before it is written.
func (s *Store) Append(ctx context.Context, name string, rec any) (Record, error) {
	out, err := s.AppendMany(ctx, name, []any{rec})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// AppendMany adds recs in a single write with a single event. Every record
// is validated first; if any is invalid nothing is written.
func (s *Store) AppendMany(ctx context.Context, name string, recs []any) ([]Record, error) {
	schema, ok := s.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	objs := make([]Record, 0, len(recs))
	for i, rec := range recs {
		obj, err := toRecord(rec)
		if err != nil {
			return nil, err
		}
		if err := schema.Validate(any(obj)); err != nil {
			return nil, fmt.Errorf("invalid %s record %d: %w", name, i, err)
		}
		objs = append(objs, obj)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := s.Save(ctx, name, append(records, objs...)); err != nil {
		return nil, err
	}
	return objs, nil
}

// Update applies fn to the record with the given id.
func (s *Store) Update(ctx context.Context, name, id string, fn func(Record) error) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec["id"] != id {
			continue
		}
		if err := fn(rec); err != nil {
			return nil, err
		}
		if err := s.schemas[name].Validate(any(rec)); err != nil {
			return nil, fmt.Errorf("invalid %s record after update: %w", name, err)
		}
		if err := s.Save(ctx, name, records); err != nil {
			return nil, err
		}
		return rec, nil
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, name, id)
}

// Remove deletes the record with the given id.
func (s *Store) Remove(ctx context.Context, name, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.Load(ctx, name)
	if err != nil {
		return err
	}
	kept := records[:0]
	found := false
	for _, rec := range records {
		if rec["id"] == id {
			found = true
			continue
		}
		kept = append(kept, rec)
	}
	if !found {
		return fmt.Errorf("%w: %s/%s", ErrRecordNotFound, name, id)
	}
	return s.Save(ctx, name, kept)
}

// LoadInto decodes the valid records of a collection into typed values.
func LoadInto[T any](ctx context.Context, s *Store, name string) ([]T, error) {
	records, err := s.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return out, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.kv.Close()
}

// toRecord normalizes v to the shape json.Unmarshal produces, which is what
// the schema validator expects.
func toRecord(v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("record must be an object: %w", err)
	}
	return r, nil
}
