package core

import (
	"bytes"
	"sync"

	"golang.org/x/exp/slices"

	"gopperh7/tinycompress"
)

// Constant represents a firmware constant exposed to the host
type Constant struct {
	Name  string
	Value interface{} // string or integer
}

// Enumeration maps names to consecutive values starting at 0
type Enumeration struct {
	Name   string
	Values []string
}

// Dictionary manages the data dictionary sent to Klipper host
type Dictionary struct {
	mu            sync.RWMutex
	constants     map[string]*Constant
	enumerations  map[string]*Enumeration
	commandReg    *CommandRegistry
	version       string
	buildVersions string
	cachedDict    []byte // compressed, nil until BuildDictionary
}

var globalDictionary = NewDictionary(globalRegistry)

// NewDictionary creates a new dictionary
func NewDictionary(cmdReg *CommandRegistry) *Dictionary {
	return &Dictionary{
		constants:     make(map[string]*Constant),
		enumerations:  make(map[string]*Enumeration),
		commandReg:    cmdReg,
		version:       "gopperh7-0.1.0",
		buildVersions: "go-tinygo",
	}
}

// RegisterConstant registers a constant in the dictionary
func RegisterConstant(name string, value interface{}) {
	globalDictionary.AddConstant(name, value)
}

// RegisterEnumeration registers an enumeration in the dictionary
func RegisterEnumeration(name string, values []string) {
	globalDictionary.AddEnumeration(name, values)
}

// AddConstant adds a constant to the dictionary
func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = &Constant{
		Name:  name,
		Value: value,
	}
	d.cachedDict = nil
}

// AddEnumeration adds an enumeration to the dictionary
func (d *Dictionary) AddEnumeration(name string, values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// TinyGo's GC has reclaimed caller-owned slices here before; keep a copy.
	valuesCopy := make([]string, len(values))
	copy(valuesCopy, values)

	d.enumerations[name] = &Enumeration{
		Name:   name,
		Values: valuesCopy,
	}
	d.cachedDict = nil
}

// SetVersion sets the firmware version string
func (d *Dictionary) SetVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = version
	d.cachedDict = nil
}

// SetBuildVersions sets the build versions string
func (d *Dictionary) SetBuildVersions(versions string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buildVersions = versions
	d.cachedDict = nil
}

// BuildDictionary compresses and caches the dictionary. Call it after all
// commands, constants and enumerations are registered.
func (d *Dictionary) BuildDictionary() error {
	// Fetch from the registry before taking our own lock; the two locks
	// are never held together.
	commands, responses := d.commandReg.GetCommandsAndResponses()

	d.mu.Lock()
	defer d.mu.Unlock()

	jsonData := d.buildJSONLocked(commands, responses)
	DebugPrintln("[BuildDict] JSON size: " + itoa(len(jsonData)) + " bytes")

	var buf bytes.Buffer
	w := tinycompress.NewWriterSize(&buf, len(jsonData))
	if _, err := w.Write(jsonData); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	d.cachedDict = buf.Bytes()
	DebugPrintln("[BuildDict] compressed size: " + itoa(len(d.cachedDict)) + " bytes")
	return nil
}

// Generate returns the compressed dictionary, building it on first use.
func (d *Dictionary) Generate() []byte {
	d.mu.RLock()
	cached := d.cachedDict
	d.mu.RUnlock()
	if cached != nil {
		return cached
	}

	if err := d.BuildDictionary(); err != nil {
		DebugPrintln("[BuildDict] ERROR: " + err.Error())
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cachedDict
}

// JSON returns the uncompressed dictionary.
func (d *Dictionary) JSON() []byte {
	commands, responses := d.commandReg.GetCommandsAndResponses()
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.buildJSONLocked(commands, responses)
}

// buildJSONLocked writes the dictionary by hand so the firmware does not
// pull in encoding/json. The caller must hold d.mu.
func (d *Dictionary) buildJSONLocked(commands, responses map[string]int) []byte {
	result := make([]byte, 0, 1024)

	result = append(result, `{"version":`...)
	result = append(result, quoteJSON(d.version)...)
	result = append(result, `,"build_versions":`...)
	result = append(result, quoteJSON(d.buildVersions)...)

	result = append(result, `,"config":{`...)
	for i, name := range sortedKeys(d.constants) {
		if i > 0 {
			result = append(result, ',')
		}
		result = append(result, quoteJSON(name)...)
		result = append(result, ':')
		result = append(result, valueToJSON(d.constants[name].Value)...)
	}

	result = append(result, `},"commands":`...)
	result = appendIDMap(result, commands)
	result = append(result, `,"responses":`...)
	result = appendIDMap(result, responses)

	if len(d.enumerations) > 0 {
		result = append(result, `,"enumerations":{`...)
		for i, name := range sortedKeys(d.enumerations) {
			if i > 0 {
				result = append(result, ',')
			}
			result = append(result, quoteJSON(name)...)
			result = append(result, `:{`...)
			first := true
			for idx, value := range d.enumerations[name].Values {
				// an empty name reserves its index
				if value == "" {
					continue
				}
				if !first {
					result = append(result, ',')
				}
				result = append(result, quoteJSON(value)...)
				result = append(result, ':')
				result = append(result, itoa(idx)...)
				first = false
			}
			result = append(result, '}')
		}
		result = append(result, '}')
	}

	return append(result, '}')
}

// appendIDMap writes a format->id object ordered by id.
func appendIDMap(result []byte, m map[string]int) []byte {
	formats := make([]string, 0, len(m))
	for f := range m {
		formats = append(formats, f)
	}
	slices.SortFunc(formats, func(a, b string) int { return m[a] - m[b] })

	result = append(result, '{')
	for i, f := range formats {
		if i > 0 {
			result = append(result, ',')
		}
		result = append(result, quoteJSON(f)...)
		result = append(result, ':')
		result = append(result, itoa(m[f])...)
	}
	return append(result, '}')
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func valueToJSON(v interface{}) string {
	if s, ok := v.(string); ok {
		return quoteJSON(s)
	}
	if s := numberToJSON(v); s != "" {
		return s
	}
	return `""`
}

// GetChunk returns a chunk of the dictionary starting at offset
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Generate()

	if offset >= uint32(len(data)) {
		return []byte{}
	}

	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}

	// Return a copy; the transport may hold the chunk past the next rebuild.
	chunk := make([]byte, end-offset)
	copy(chunk, data[offset:end])
	return chunk
}

// GetGlobalDictionary returns the global dictionary instance
func GetGlobalDictionary() *Dictionary {
	return globalDictionary
}
