package dagfile

import (
	"encoding/json"
	"fmt"

	"github.com/cis-project/cis/internal/domain/dagrun"
	cerr "github.com/cis-project/cis/pkg/errors"
)

// MarshalRun serializes a DagRun to JSON, the wire/persistence form used
// for SQLite storage (module 8) and for exchanging a run's state over the
// DHT (spec.md §8 property 9: a DagRun round-trips through JSON without
// loss).
func MarshalRun(run *dagrun.DagRun) ([]byte, error) {
	raw, err := json.Marshal(run)
	if err != nil {
		return nil, cerr.Serialization("marshalling dag run", err)
	}
	return raw, nil
}

// UnmarshalRun is the inverse of MarshalRun.
func UnmarshalRun(raw []byte) (*dagrun.DagRun, error) {
	var run dagrun.DagRun
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, cerr.Serialization("unmarshalling dag run", err)
	}
	return &run, nil
}
