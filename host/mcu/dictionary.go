package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Dictionary represents the parsed MCU dictionary
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`
}

// ParseDictionary decodes the bytes collected from identify. Compressed
// dictionaries are recognised by the zlib header byte.
func ParseDictionary(raw []byte) (*Dictionary, error) {
	data := raw
	if len(raw) >= 2 && raw[0] == 0x78 {
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("inflate dictionary: %w", err)
		}
		data, err = io.ReadAll(zr)
		_ = zr.Close()
		if err != nil {
			return nil, fmt.Errorf("inflate dictionary: %w", err)
		}
	}

	dict := &Dictionary{}
	if err := json.Unmarshal(data, dict); err != nil {
		return nil, fmt.Errorf("decode dictionary: %w", err)
	}
	return dict, nil
}

// messageName is the first word of a "name arg=%fmt ..." key.
func messageName(format string) string {
	if i := strings.IndexByte(format, ' '); i >= 0 {
		return format[:i]
	}
	return format
}

func lookup(m map[string]int, name string) (uint16, string, bool) {
	for format, id := range m {
		if messageName(format) == name {
			return uint16(id), format, true
		}
	}
	return 0, "", false
}

// Command returns the id and full format of the named command.
func (d *Dictionary) Command(name string) (uint16, string, error) {
	id, format, ok := lookup(d.Commands, name)
	if !ok {
		return 0, "", fmt.Errorf("unknown command: %s", name)
	}
	return id, format, nil
}

// Response returns the id and full format of the named response.
func (d *Dictionary) Response(name string) (uint16, string, error) {
	id, format, ok := lookup(d.Responses, name)
	if !ok {
		return 0, "", fmt.Errorf("unknown response: %s", name)
	}
	return id, format, nil
}

// ResponseName maps a response id back to its name.
func (d *Dictionary) ResponseName(id uint16) (string, bool) {
	for format, rid := range d.Responses {
		if uint16(rid) == id {
			return messageName(format), true
		}
	}
	return "", false
}

// ConfigString returns a dictionary constant.
func (d *Dictionary) ConfigString(key string) (string, error) {
	v, ok := d.Config[key]
	if !ok {
		return "", fmt.Errorf("dictionary constant %s missing", key)
	}
	return v, nil
}

// ConfigUint returns a numeric dictionary constant.
func (d *Dictionary) ConfigUint(key string) (uint32, error) {
	v, err := d.ConfigString(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("dictionary constant %s: %w", key, err)
	}
	return uint32(n), nil
}

// Enumeration returns the id of value in the named enumeration.
func (d *Dictionary) Enumeration(name, value string) (uint32, error) {
	values, ok := d.Enumerations[name]
	if !ok {
		return 0, fmt.Errorf("unknown enumeration: %s", name)
	}
	id, ok := values[value]
	if !ok {
		return 0, fmt.Errorf("enumeration %s has no value %s", name, value)
	}
	return uint32(id), nil
}

// Summary renders the dictionary for humans, entries ordered by id.
func (d *Dictionary) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "version: %s\n", d.Version)
	fmt.Fprintf(&b, "build: %s\n", d.BuildVersions)

	keys := make([]string, 0, len(d.Config))
	for k := range d.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("config:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s = %s\n", k, d.Config[k])
	}

	writeIDs(&b, "commands", d.Commands)
	writeIDs(&b, "responses", d.Responses)

	names := make([]string, 0, len(d.Enumerations))
	for name := range d.Enumerations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "enumeration %s: %d values\n", name, len(d.Enumerations[name]))
	}
	return b.String()
}

func writeIDs(b *strings.Builder, title string, m map[string]int) {
	formats := make([]string, 0, len(m))
	for f := range m {
		formats = append(formats, f)
	}
	sort.Slice(formats, func(i, j int) bool { return m[formats[i]] < m[formats[j]] })

	fmt.Fprintf(b, "%s (%d):\n", title, len(m))
	for _, f := range formats {
		fmt.Fprintf(b, "  [%d] %s\n", m[f], f)
	}
}
