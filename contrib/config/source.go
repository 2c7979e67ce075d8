package config

// KeyValue is one unit of configuration data as produced by a Source.
// Format names the encoding of Value ("json"/"yaml"). With an empty Format,
// Scan decodes Value as a JSON document, while defaultDecoder stores Value
// as a single value under the dotted Key.
type KeyValue struct {
	Key    string
	Value  []byte
	Format string
}

// Watcher streams subsequent KeyValue snapshots after the initial Load.
type Watcher interface {
	// Next blocks until the source changes (or the watcher is stopped) and
	// returns the new full set of KeyValue entries.
	Next() ([]*KeyValue, error)
	// Stop releases the watcher's resources.
	Stop() error
}

// Source is a pluggable configuration origin: a file, an env var set, a
// remote HTTP document, ...
type Source interface {
	// Load returns the current KeyValue snapshot.
	Load() ([]*KeyValue, error)
	// Watch returns a Watcher for subsequent changes, if the source
	// supports it.
	Watch() (Watcher, error)
}
