package moonraker

import (
	"testing"

	"github.com/john/printer_remote/printer"
	"github.com/stretchr/testify/require"
)

func envelope(versionInfo string) []byte {
	return []byte(`{"result": {"busy": false, "version_info": ` + versionInfo + `}}`)
}

func TestParseUpdateStatus_MixedShapes(t *testing.T) {
	body := envelope(`{
		"klipper": {"version": "v1", "remote_version": "v2", "commits_behind": [1, 2, 3]},
		"moonraker": {"package_list": ["a", "b"]},
		"system": true
	}`)

	got, err := ParseUpdateStatus(body)
	require.NoError(t, err)
	require.Equal(t, printer.UpdateCheckResult{
		printer.RepositoryModule{Module: "klipper", Local: "v1", Remote: "v2", CommitsBehind: 3},
		printer.SystemPackageModule{Module: "moonraker", Packages: []string{"a", "b"}},
	}, got)
}

func TestParseUpdateStatus_EmptyMappingIsEmptyNotNil(t *testing.T) {
	got, err := ParseUpdateStatus(envelope(`{}`))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestParseUpdateStatus_PreservesServerOrder(t *testing.T) {
	body := envelope(`{
		"zeta": {"package_list": []},
		"alpha": {"version": "a", "remote_version": "b", "commits_behind": []},
		"mid": {"package_list": ["x"]},
		"beta": {"version": "c", "remote_version": "c", "commits_behind": [{}]}
	}`)

	got, err := ParseUpdateStatus(body)
	require.NoError(t, err)

	names := make([]string, 0, len(got))
	for _, m := range got {
		names = append(names, m.ModuleName())
	}
	require.Equal(t, []string{"zeta", "alpha", "mid", "beta"}, names)
}

func TestParseUpdateStatus_DropsUnrecognizedEntries(t *testing.T) {
	body := envelope(`{
		"flag_true": true,
		"flag_false": false,
		"nothing": null,
		"number": 7,
		"text": "v1",
		"list": ["a"],
		"empty_object": {},
		"remote_without_commits": {"version": "v1", "remote_version": "v2"},
		"commits_without_remote": {"version": "v1", "commits_behind": []},
		"commits_not_a_list": {"version": "v1", "remote_version": "v2", "commits_behind": 3},
		"null_package_list": {"package_list": null},
		"bad_package_list": {"package_list": [1, 2]},
		"kept": {"package_list": ["pkg"]}
	}`)

	got, err := ParseUpdateStatus(body)
	require.NoError(t, err)
	require.Equal(t, printer.UpdateCheckResult{
		printer.SystemPackageModule{Module: "kept", Packages: []string{"pkg"}},
	}, got)
}

func TestParseUpdateStatus_RepositoryShapeWinsOverPackages(t *testing.T) {
	got, err := ParseUpdateStatus(envelope(`{
		"both": {"version": "v1", "remote_version": "v1", "commits_behind": [], "package_list": ["p"]}
	}`))
	require.NoError(t, err)
	require.Equal(t, printer.UpdateCheckResult{
		printer.RepositoryModule{Module: "both", Local: "v1", Remote: "v1"},
	}, got)
}

func TestParseUpdateStatus_MissingLocalVersion(t *testing.T) {
	got, err := ParseUpdateStatus(envelope(`{"k": {"remote_version": "v9", "commits_behind": [1]}}`))
	require.NoError(t, err)
	require.Equal(t, printer.UpdateCheckResult{
		printer.RepositoryModule{Module: "k", Remote: "v9", CommitsBehind: 1},
	}, got)
}

func TestParseUpdateStatus_OutputOnlyHoldsKnownVariants(t *testing.T) {
	got, err := ParseUpdateStatus(envelope(`{
		"a": true, "b": {"package_list": ["x"]}, "c": null,
		"d": {"version": "1", "remote_version": "2", "commits_behind": [1]}, "e": false
	}`))
	require.NoError(t, err)
	require.LessOrEqual(t, len(got), 5)
	for _, m := range got {
		switch m.(type) {
		case printer.RepositoryModule, printer.SystemPackageModule:
		default:
			t.Fatalf("unexpected module type %T", m)
		}
	}
}

func TestParseUpdateStatus_IsDeterministic(t *testing.T) {
	body := envelope(`{"k": {"version": "1", "remote_version": "2", "commits_behind": [1, 2]}, "s": {"package_list": ["a"]}, "b": true}`)

	first, err := ParseUpdateStatus(body)
	require.NoError(t, err)
	second, err := ParseUpdateStatus(body)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestParseUpdateStatus_RepeatedKeyKeepsOneEntry(t *testing.T) {
	body := envelope(`{
		"klipper": {"package_list": ["a"]},
		"system": {"package_list": ["libssl3"]},
		"klipper": {"package_list": ["b"]}
	}`)

	got, err := ParseUpdateStatus(body)
	require.NoError(t, err)
	require.Equal(t, printer.UpdateCheckResult{
		printer.SystemPackageModule{Module: "klipper", Packages: []string{"b"}},
		printer.SystemPackageModule{Module: "system", Packages: []string{"libssl3"}},
	}, got)
}

func TestParseUpdateStatus_MalformedEnvelopes(t *testing.T) {
	bodies := map[string]string{
		"not json":             `{not-json`,
		"empty body":           ``,
		"no result":            `{"error": {"code": 500}}`,
		"null result":          `{"result": null}`,
		"result not an object": `{"result": "ok"}`,
		"no version_info":      `{"result": {"busy": false}}`,
		"null version_info":    `{"result": {"version_info": null}}`,
		"version_info list":    `{"result": {"version_info": [1, 2]}}`,
		"version_info string":  `{"result": {"version_info": "x"}}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			got, err := ParseUpdateStatus([]byte(body))
			require.ErrorIs(t, err, ErrDecode)
			require.Nil(t, got)
		})
	}
}

func TestUpdateCheckResultPending(t *testing.T) {
	result := printer.UpdateCheckResult{
		printer.RepositoryModule{Module: "klipper", Local: "v1", Remote: "v2", CommitsBehind: 1},
		printer.RepositoryModule{Module: "moonraker", Local: "v1", Remote: "v1"},
		printer.SystemPackageModule{Module: "system"},
		printer.SystemPackageModule{Module: "system2", Packages: []string{"a"}},
	}

	pending := result.Pending()
	require.Len(t, pending, 2)
	require.Equal(t, "klipper", pending[0].ModuleName())
	require.Equal(t, "system2", pending[1].ModuleName())
}
