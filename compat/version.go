package compat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-semver/semver"
)

// ProtocolVersion is the capability level of the connected core, derived once at startup.
type ProtocolVersion int

const (
	SDKv2 ProtocolVersion = 2
	SDKv3 ProtocolVersion = 3
	SDKv4 ProtocolVersion = 4
	SDKv5 ProtocolVersion = 5
)

func (v ProtocolVersion) String() string {
	return fmt.Sprintf("sdk_v%d", int(v))
}

// thresholds maps the minimum core version to the capability level it brings, ascending.
var thresholds = []struct {
	min     *semver.Version
	version ProtocolVersion
}{
	{semver.New("1.0.0-alpha.0"), SDKv2},
	{semver.New("3.0.0-alpha.0"), SDKv3},
	{semver.New("3.0.0-beta.1"), SDKv4},
	{semver.New("3.0.0-beta.2"), SDKv5},
}

// ResolutionError means the core's version could not be turned into a capability level.
type ResolutionError struct {
	NodeVersion string
	Err         error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("compat: cannot resolve protocol for core version %q: %v", e.NodeVersion, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Resolve returns the level of the highest threshold not above nodeVersion, or the lowest
// level when the core predates every threshold.
func Resolve(nodeVersion string) (ProtocolVersion, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(nodeVersion), "v")
	if raw == "" {
		return 0, &ResolutionError{NodeVersion: nodeVersion, Err: errors.New("empty version")}
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return 0, &ResolutionError{NodeVersion: nodeVersion, Err: err}
	}

	resolved := thresholds[0].version
	for _, t := range thresholds {
		if !v.LessThan(*t.min) {
			resolved = t.version
		}
	}
	return resolved, nil
}

// Capabilities are the protocol features higher layers branch on.
type Capabilities struct {
	// Ranking: the core reports delegate weights that the gateway ranks.
	Ranking bool
	// ActiveForgers is the number of forging slots in a round.
	ActiveForgers int
	// ResolveForgers: rotation entries carry only an address and must be joined with the registry.
	ResolveForgers bool
	// IndexedAccounts: the core only looks accounts up by address.
	IndexedAccounts bool
	// TimeFilteredBlocks: the core filters blocks by timestamp itself.
	TimeFilteredBlocks bool
	// FeeEstimates: dynamic fees apply.
	FeeEstimates bool
}

// Capabilities derives the feature set of a protocol version.
func (v ProtocolVersion) Capabilities() Capabilities {
	c := Capabilities{
		Ranking:            v >= SDKv4,
		ActiveForgers:      101,
		ResolveForgers:     v < SDKv4,
		IndexedAccounts:    v >= SDKv5,
		TimeFilteredBlocks: v < SDKv5,
		FeeEstimates:       v >= SDKv4,
	}
	if v >= SDKv4 {
		c.ActiveForgers = 103
	}
	return c
}

// ProbeVersion asks the core for its version string, preferring the websocket channel and
// falling back to the HTTP API.
func ProbeVersion(ctx context.Context, deps Deps) (string, error) {
	var errs []error
	if deps.WS != nil {
		var info struct {
			Version string `json:"version"`
		}
		err := deps.WS.Invoke(ctx, "app:getNodeInfo", nil, &info)
		if err == nil && info.Version != "" {
			return info.Version, nil
		}
		if err == nil {
			err = errors.New("empty version")
		}
		errs = append(errs, fmt.Errorf("ws: %w", err))
	}
	if deps.HTTP != nil {
		var constants struct {
			Data struct {
				Version string `json:"version"`
			} `json:"data"`
		}
		err := deps.HTTP.Request(ctx, "node/constants", nil, &constants)
		if err == nil && constants.Data.Version != "" {
			return constants.Data.Version, nil
		}
		if err == nil {
			err = errors.New("empty version")
		}
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	if len(errs) == 0 {
		return "", errors.New("compat: no core endpoint configured")
	}
	return "", &ResolutionError{Err: errors.Join(errs...)}
}
