package core

import (
	"sort"

	"rampon/tinycompress"
)

// Constant represents a firmware constant exposed to the host
type Constant struct {
	Name  string
	Value interface{} // string or integer
}

// Enumeration represents an enumeration of values (like pin names)
type Enumeration struct {
	Name   string
	Values []string
}

// Dictionary is the data dictionary served to the host through identify.
// It is built once after all commands are registered.
type Dictionary struct {
	constants     map[string]*Constant
	enumerations  map[string]*Enumeration
	commandReg    *CommandRegistry
	version       string
	buildVersions string
	cachedDict    []byte // Cached compressed dictionary
}

// NewDictionary creates a new dictionary
func NewDictionary(cmdReg *CommandRegistry) *Dictionary {
	return &Dictionary{
		constants:     make(map[string]*Constant),
		enumerations:  make(map[string]*Enumeration),
		commandReg:    cmdReg,
		version:       "rampon-0.1.0",
		buildVersions: "go-tinygo",
	}
}

// AddConstant adds a constant to the dictionary
func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.constants[name] = &Constant{Name: name, Value: value}
	d.cachedDict = nil
}

// AddEnumeration adds an enumeration; values are indexed by position and
// empty entries are skipped.
func (d *Dictionary) AddEnumeration(name string, values []string) {
	valuesCopy := make([]string, len(values))
	copy(valuesCopy, values)
	d.enumerations[name] = &Enumeration{Name: name, Values: valuesCopy}
	d.cachedDict = nil
}

// SetVersion sets the firmware version string
func (d *Dictionary) SetVersion(version string) {
	d.version = version
	d.cachedDict = nil
}

// SetBuildVersions sets the build versions string
func (d *Dictionary) SetBuildVersions(versions string) {
	d.buildVersions = versions
	d.cachedDict = nil
}

// BuildDictionary builds and caches the compressed dictionary (call after
// all commands are registered)
func (d *Dictionary) BuildDictionary() {
	jsonData := d.JSON()
	compressed, err := tinycompress.Compress(jsonData)
	if err != nil {
		DebugPrintln("[BuildDict] compression failed: " + err.Error())
		d.cachedDict = jsonData
		return
	}
	DebugPrintln("[BuildDict] " + itoa(len(jsonData)) + " bytes json, " +
		itoa(len(compressed)) + " bytes compressed")
	d.cachedDict = compressed
}

// Generate returns the compressed dictionary, building it if needed
func (d *Dictionary) Generate() []byte {
	if d.cachedDict == nil {
		d.BuildDictionary()
	}
	return d.cachedDict
}

// JSON renders the uncompressed dictionary in Klipper's format.
func (d *Dictionary) JSON() []byte {
	commands, responses := d.commandReg.GetCommandsAndResponses()

	result := make([]byte, 0, 2048)
	result = append(result, `{"version":"`...)
	result = append(result, d.version...)
	result = append(result, `","build_versions":"`...)
	result = append(result, d.buildVersions...)
	result = append(result, `","config":{`...)

	constNames := make([]string, 0, len(d.constants))
	for name := range d.constants {
		constNames = append(constNames, name)
	}
	sort.Strings(constNames)
	for i, name := range constNames {
		if i > 0 {
			result = append(result, ',')
		}
		result = append(result, '"')
		result = append(result, name...)
		result = append(result, `":"`...)
		result = append(result, valueToString(d.constants[name].Value)...)
		result = append(result, '"')
	}

	result = append(result, `},"commands":`...)
	result = appendIDMap(result, commands)
	result = append(result, `,"responses":`...)
	result = appendIDMap(result, responses)

	if len(d.enumerations) > 0 {
		result = append(result, `,"enumerations":{`...)

		enumNames := make([]string, 0, len(d.enumerations))
		for name := range d.enumerations {
			enumNames = append(enumNames, name)
		}
		sort.Strings(enumNames)

		for i, name := range enumNames {
			if i > 0 {
				result = append(result, ',')
			}
			result = append(result, '"')
			result = append(result, name...)
			result = append(result, `":{`...)
			first := true
			for idx, value := range d.enumerations[name].Values {
				if value == "" {
					continue
				}
				if !first {
					result = append(result, ',')
				}
				result = append(result, '"')
				result = append(result, value...)
				result = append(result, `":`...)
				result = append(result, itoa(idx)...)
				first = false
			}
			result = append(result, '}')
		}
		result = append(result, '}')
	}

	return append(result, '}')
}

// appendIDMap writes {"format":id,...} ordered by id.
func appendIDMap(result []byte, m map[string]int) []byte {
	formats := make([]string, 0, len(m))
	for format := range m {
		formats = append(formats, format)
	}
	sort.Slice(formats, func(i, j int) bool { return m[formats[i]] < m[formats[j]] })

	result = append(result, '{')
	for i, format := range formats {
		if i > 0 {
			result = append(result, ',')
		}
		result = append(result, '"')
		result = append(result, format...)
		result = append(result, `":`...)
		result = append(result, itoa(m[format])...)
	}
	return append(result, '}')
}

// GetChunk returns up to count bytes of the compressed dictionary starting
// at offset. Past the end it returns an empty chunk, which ends the host's
// identify loop.
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Generate()
	if offset >= uint32(len(data)) {
		return []byte{}
	}

	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}

	chunk := make([]byte, end-offset)
	copy(chunk, data[offset:end])
	return chunk
}
