// Package platform decodes the platform description naming the
// simulated hosts and their power states. spec.md §1 lists platform file
// parsing as an external collaborator whose contract only appears; this
// is the concrete implementation of that contract a runnable simulator
// needs. The on-disk form is a small JSON document rather than the
// original project's SimGrid XML, since nothing else in this repository
// speaks SimGrid XML and inventing an XML-only format for one reader
// would be unjustified complexity (see DESIGN.md).
package platform

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/batsim-go/batsim/pkg/model"
)

// HostDescription is one host entry in the platform file.
type HostDescription struct {
	Name           string           `json:"name"`
	Pstates        map[string]PstateDescription `json:"pstates"`
	DefaultPstate  int              `json:"default_pstate"`
}

// PstateDescription describes one power state of a host.
type PstateDescription struct {
	Kind           model.PstateKind `json:"kind"`
	PowerWatts     float64          `json:"power_watts"`
	TransitionTime float64          `json:"transition_time_seconds,omitempty"`
}

// Description is the root of a platform file.
type Description struct {
	Hosts []HostDescription `json:"hosts"`
}

// Platform is a loaded, validated platform description.
type Platform struct {
	Hosts []HostDescription
}

// byName implements sort.Interface for HostDescription lexicographic
// ordering, matching the original project's machine_comparator_name.
type byName []HostDescription

func (b byName) Len() int           { return len(b) }
func (b byName) Less(i, j int) bool { return b[i].Name < b[j].Name }
func (b byName) Swap(i, j int)      { b[i], b[j] = b[j], b[i] }

// Load reads and validates a platform file from path.
func Load(path string) (*Platform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("platform: read %s: %w", path, err)
	}
	var desc Description
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("platform: parse %s: %w", path, err)
	}
	if len(desc.Hosts) == 0 {
		return nil, fmt.Errorf("platform: %s declares no hosts", path)
	}
	seen := make(map[string]bool, len(desc.Hosts))
	for _, h := range desc.Hosts {
		if seen[h.Name] {
			return nil, fmt.Errorf("platform: duplicate host name %q", h.Name)
		}
		seen[h.Name] = true
		if len(h.Pstates) == 0 {
			return nil, fmt.Errorf("platform: host %q declares no pstates", h.Name)
		}
	}
	hosts := append([]HostDescription{}, desc.Hosts...)
	sort.Sort(byName(hosts))
	return &Platform{Hosts: hosts}, nil
}

// PowerWatts returns the power draw of pstate p on the named host, or
// (0, false) if unknown.
func (p *Platform) PowerWatts(hostName string, pstate int) (float64, bool) {
	for _, h := range p.Hosts {
		if h.Name != hostName {
			continue
		}
		for k, pd := range h.Pstates {
			if k == fmt.Sprint(pstate) {
				return pd.PowerWatts, true
			}
		}
	}
	return 0, false
}
