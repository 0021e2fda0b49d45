// Package config loads desired- and observed-state topology documents
// from YAML or CUE files and watches them for changes.
package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/topoplan/topoplan/pkg/telemetry"
	"github.com/topoplan/topoplan/pkg/topology"
)

// Loader reads topology descriptions from disk. The file extension
// selects the format: .yaml/.yml or .cue.
type Loader struct {
	log *telemetry.Logger
}

// NewLoader creates a description loader.
func NewLoader(log *telemetry.Logger) *Loader {
	if log == nil {
		log = telemetry.FromContext(context.Background())
	}
	return &Loader{log: log.NewComponentLogger("config")}
}

// LoadDesired reads a desired-state document and builds its topology.
// Desired documents must not carry live ids.
func (l *Loader) LoadDesired(path string) (*topology.Topology, error) {
	desc, err := l.LoadDescription(path)
	if err != nil {
		return nil, err
	}
	topo, err := topology.Build(desc)
	if err != nil {
		return nil, err
	}
	if stray := liveIDs(topo); len(stray) > 0 {
		return nil, fmt.Errorf("%s: desired document carries live_id on %s", path, strings.Join(stray, ", "))
	}
	l.log.Debugf("loaded desired topology %q (%d entities) from %s", topo.Name, topo.Len(), path)
	return topo, nil
}

// LoadObserved reads an observed-state document and builds its
// topology. Every entity in an observed document must carry a live_id.
func (l *Loader) LoadObserved(path string) (*topology.Topology, error) {
	desc, err := l.LoadDescription(path)
	if err != nil {
		return nil, err
	}
	topo, err := topology.Build(desc)
	if err != nil {
		return nil, err
	}
	if missing := missingLiveIDs(topo); len(missing) > 0 {
		return nil, fmt.Errorf("%s: observed document is missing live_id on %s", path, strings.Join(missing, ", "))
	}
	l.log.Debugf("loaded observed topology %q (%d entities) from %s", topo.Name, topo.Len(), path)
	return topo, nil
}

// LoadDescription decodes one document without building or policing
// live ids. Callers that want a validated topology use LoadDesired or
// LoadObserved.
func (l *Loader) LoadDescription(path string) (*topology.Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return decodeYAML(path, data)
	case ".cue":
		return decodeCUE(path, data)
	default:
		return nil, fmt.Errorf("%s: unsupported document format %q (want .yaml, .yml or .cue)", path, ext)
	}
}

func decodeYAML(path string, data []byte) (*topology.Description, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var desc topology.Description
	if err := dec.Decode(&desc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &desc, nil
}

func decodeCUE(path string, data []byte) (*topology.Description, error) {
	ctx := cuecontext.New()
	val := ctx.CompileBytes(data, cue.Filename(path))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("parsing %s: %s", path, cueerrors.Details(err, nil))
	}

	var desc topology.Description
	if err := val.Decode(&desc); err != nil {
		return nil, fmt.Errorf("decoding %s: %s", path, cueerrors.Details(err, nil))
	}
	return &desc, nil
}

// liveIDs returns the ids of entities that carry a live id.
func liveIDs(topo *topology.Topology) []string {
	var out []string
	for _, e := range topo.Entities() {
		if e.EntityLiveID() != "" {
			out = append(out, e.EntityID())
		}
	}
	sort.Strings(out)
	return out
}

// missingLiveIDs returns the ids of entities without a live id.
func missingLiveIDs(topo *topology.Topology) []string {
	var out []string
	for _, e := range topo.Entities() {
		if e.EntityLiveID() == "" {
			out = append(out, e.EntityID())
		}
	}
	sort.Strings(out)
	return out
}
