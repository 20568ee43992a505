package store

import "fmt"

// migration transforms a raw decoded snapshot document (as a generic map,
// before it's bound to the typed document struct) from the version it's
// keyed under to the next version up.
type migration func(map[string]any) map[string]any

// migrations is the forward-only chain, keyed by the version a document
// migrates *from*. Empty for schema version 1 — this build ships only the
// initial shape (no "auth" section to retrofit, unlike the system this was
// adapted from, since user authentication is out of scope here).
var migrations = map[int]migration{}

// applyMigrations repeatedly looks up raw["version"] in the migration
// chain and applies it until the document reaches CurrentVersion.
func applyMigrations(raw map[string]any) (map[string]any, error) {
	for {
		v, ok := raw["version"]
		if !ok {
			return nil, fmt.Errorf("store.applyMigrations: snapshot has no version field")
		}
		version, ok := v.(float64) // encoding/json decodes numbers as float64
		if !ok {
			return nil, fmt.Errorf("store.applyMigrations: version field is not a number: %v", v)
		}
		if int(version) == CurrentVersion {
			return raw, nil
		}
		m, ok := migrations[int(version)]
		if !ok {
			return nil, fmt.Errorf("store.applyMigrations: no migration from version %d to %d", int(version), CurrentVersion)
		}
		raw = m(raw)
	}
}
