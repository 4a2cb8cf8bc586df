package compat

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	cases := []struct {
		version string
		want    ProtocolVersion
	}{
		{"0.9.0", SDKv2},
		{"1.0.0-alpha.0", SDKv2},
		{"2.1.6", SDKv2},
		{"3.0.0-alpha.0", SDKv3},
		{"3.0.0-alpha.7", SDKv3},
		{"3.0.0-beta.1", SDKv4},
		{"3.0.0-beta.2", SDKv5},
		{"3.0.2", SDKv5},
		{"v4.0.0", SDKv5},
	}
	for _, tc := range cases {
		t.Run(tc.version, func(t *testing.T) {
			got, err := Resolve(tc.version)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolveRejectsGarbage(t *testing.T) {
	for _, v := range []string{"", "latest", "3.x"} {
		_, err := Resolve(v)
		var resErr *ResolutionError
		require.True(t, errors.As(err, &resErr), "version %q", v)
		assert.Equal(t, v, resErr.NodeVersion)
	}
}

func TestCapabilities(t *testing.T) {
	v2 := SDKv2.Capabilities()
	assert.False(t, v2.Ranking)
	assert.True(t, v2.ResolveForgers)
	assert.Equal(t, 101, v2.ActiveForgers)
	assert.True(t, v2.TimeFilteredBlocks)
	assert.False(t, v2.FeeEstimates)

	v4 := SDKv4.Capabilities()
	assert.True(t, v4.Ranking)
	assert.False(t, v4.ResolveForgers)
	assert.Equal(t, 103, v4.ActiveForgers)
	assert.False(t, v4.IndexedAccounts)
	assert.True(t, v4.FeeEstimates)

	v5 := SDKv5.Capabilities()
	assert.True(t, v5.IndexedAccounts)
	assert.False(t, v5.TimeFilteredBlocks)
	assert.Equal(t, "sdk_v5", SDKv5.String())
}

type versionInvoker struct {
	version string
	err     error
}

func (v versionInvoker) Invoke(_ context.Context, _ string, _ any, out any) error {
	if v.err != nil {
		return v.err
	}
	return json.Unmarshal([]byte(`{"version":"`+v.version+`"}`), out)
}

func (v versionInvoker) Subscribe(context.Context, string, func(json.RawMessage)) (func(), error) {
	return func() {}, nil
}

type versionRequester struct {
	version string
}

func (v versionRequester) Request(_ context.Context, _ string, _ url.Values, out any) error {
	return json.Unmarshal([]byte(`{"data":{"version":"`+v.version+`"}}`), out)
}

func TestProbeVersion(t *testing.T) {
	got, err := ProbeVersion(context.Background(), Deps{WS: versionInvoker{version: "3.0.0-beta.2"}})
	require.NoError(t, err)
	assert.Equal(t, "3.0.0-beta.2", got)

	got, err = ProbeVersion(context.Background(), Deps{
		WS:   versionInvoker{err: errors.New("boom")},
		HTTP: versionRequester{version: "2.1.0"},
	})
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", got)

	_, err = ProbeVersion(context.Background(), Deps{WS: versionInvoker{}})
	var resErr *ResolutionError
	assert.True(t, errors.As(err, &resErr))

	_, err = ProbeVersion(context.Background(), Deps{})
	assert.Error(t, err)
}

func TestNewSelectsAdapter(t *testing.T) {
	deps := Deps{HTTP: versionRequester{}, WS: versionInvoker{}}
	for _, v := range []ProtocolVersion{SDKv2, SDKv3, SDKv4, SDKv5} {
		a, err := New(v, deps)
		require.NoError(t, err)
		assert.Equal(t, v, a.Version())
	}

	_, err := New(SDKv5, Deps{HTTP: versionRequester{}})
	assert.Error(t, err)
	_, err = New(SDKv2, Deps{WS: versionInvoker{}})
	assert.Error(t, err)
	_, err = New(ProtocolVersion(9), deps)
	assert.Error(t, err)
}
