package moonraker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/john/printer_remote/printer"
)

const updateStatusPath = "/machine/update_status"

// updateStatus is the result object of the update-status endpoint.
type updateStatus struct {
	VersionInfo *versionInfo `json:"version_info"`
}

type rawModule struct {
	name string
	raw  json.RawMessage
}

// versionInfo keeps the modules in the order the server first wrote them.
type versionInfo []rawModule

func (v *versionInfo) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("version_info: expected object, got %v", tok)
	}

	out := versionInfo{}
	seen := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("version_info: unexpected key %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("version_info[%s]: %w", name, err)
		}
		// A repeated key keeps its first position and takes the last value.
		if i, dup := seen[name]; dup {
			out[i].raw = raw
			continue
		}
		seen[name] = len(out)
		out = append(out, rawModule{name: name, raw: raw})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*v = out
	return nil
}

// UpdateStatus asks the server for module update status. Unlike
// CheckForUpdates it reports why a check failed: errors wrap ErrTransport or
// ErrDecode, or are a *StatusError.
func (c *Client) UpdateStatus(ctx context.Context, refresh bool) (printer.UpdateCheckResult, error) {
	q := url.Values{}
	q.Set("refresh", strconv.FormatBool(refresh))

	body, err := c.do(ctx, http.MethodPost, updateStatusPath, q)
	if err != nil {
		return nil, err
	}
	return ParseUpdateStatus(body)
}

// CheckForUpdates returns the normalized update status, or ok=false when the
// server could not be reached, answered with a non-2xx status, or sent a body
// that could not be parsed.
func (c *Client) CheckForUpdates(ctx context.Context, refresh bool) (printer.UpdateCheckResult, bool) {
	result, err := c.UpdateStatus(ctx, refresh)
	if err != nil {
		c.logger.DebugContext(ctx, "update check failed", "address", c.conn.Address, "refresh", refresh, "error", err)
		return nil, false
	}
	return result, true
}

// ParseUpdateStatus decodes an update-status response body and normalizes its
// version_info mapping. Entries that are null, boolean, or otherwise
// unrecognized are dropped. An empty mapping yields an empty, non-nil result.
func ParseUpdateStatus(body []byte) (printer.UpdateCheckResult, error) {
	var env printer.APIResult[*updateStatus]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if env.Result == nil || env.Result.VersionInfo == nil {
		return nil, fmt.Errorf("%w: missing result.version_info", ErrDecode)
	}

	out := make(printer.UpdateCheckResult, 0, len(*env.Result.VersionInfo))
	for _, m := range *env.Result.VersionInfo {
		if mod, ok := classifyModule(m.name, m.raw); ok {
			out = append(out, mod)
		}
	}
	return out, nil
}

// classifyModule decodes one raw version_info entry. The repository shape
// (remote_version plus a commits_behind list) wins over the package shape.
func classifyModule(name string, raw json.RawMessage) (printer.UpdateModule, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}

	var remote string
	var commits []json.RawMessage
	if decodeField(fields, "remote_version", &remote) && decodeField(fields, "commits_behind", &commits) {
		var local string
		decodeField(fields, "version", &local)
		return printer.RepositoryModule{
			Module:        name,
			Local:         local,
			Remote:        remote,
			CommitsBehind: len(commits),
		}, true
	}

	var packages []string
	if decodeField(fields, "package_list", &packages) {
		return printer.SystemPackageModule{Module: name, Packages: packages}, true
	}
	return nil, false
}

// decodeField reports whether key is present, non-null, and decodes into dst.
func decodeField(fields map[string]json.RawMessage, key string, dst any) bool {
	raw, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

