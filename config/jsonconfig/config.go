package jsonconfig

import (
	"encoding/json"
	"os"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Schema holds the different Implementations's the client wants to configure
type Schema map[string]Implementations

// EmptySchema returns an empty Schema, needed if you don't allow configuration
func EmptySchema() Schema {
	return map[string]Implementations{}
}

// Implementations maps the the names of implementations to the Implementation.
// As a special case, "" maps to a default implementation used when the option is absent,
// and "*" maps to an implementation that accepts any Type not otherwise listed.
type Implementations map[string]Implementation

const (
	DefaultImpl  = ""
	WildcardImpl = "*"
)

// The Implementation must be a pointer to a struct. Its current field values act as
// defaults: Parse copies it before unmarshaling, so the schema is never mutated.
type Implementation interface {
	Validate() error
}

// Configuration is the parsed result, one Implementation per option.
type Configuration map[string]Implementation

// Validate checks every option, in name order so errors are stable.
func (c Configuration) Validate() error {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := c[name].Validate(); err != nil {
			return errors.Wrapf(err, "invalid %s config", name)
		}
	}
	return nil
}

type Format int

const (
	JSON Format = iota
	TOML
)

func (f Format) String() string {
	if f == TOML {
		return "toml"
	}
	return "json"
}

var emptyJson = []byte("{}")

// ParseText parses text of the given format. TOML is decoded generically and then
// handled as JSON, so both formats share field names and value syntax.
func (schema Schema) ParseText(text []byte, format Format) (Configuration, error) {
	if format == TOML {
		var tree map[string]interface{}
		if _, err := toml.Decode(string(text), &tree); err != nil {
			return nil, errors.Wrap(err, "Couldn't parse top-level toml config")
		}
		asJson, err := json.Marshal(tree)
		if err != nil {
			return nil, errors.Wrap(err, "Couldn't convert toml config")
		}
		text = asJson
	}
	return schema.Parse(text)
}

func (schema Schema) Parse(text []byte) (Configuration, error) {
	var parsedConfig map[string]json.RawMessage
	if len(strings.TrimSpace(string(text))) == 0 {
		text = emptyJson
	}
	err := json.Unmarshal(text, &parsedConfig)
	if err != nil {
		return nil, errors.Wrap(err, "Couldn't parse top-level config")
	}
	for optionName := range parsedConfig {
		if _, ok := schema[optionName]; !ok {
			log.Warnf("Ignoring unknown config option %q", optionName)
		}
	}

	result := Configuration(make(map[string]Implementation))
	// Parse each option (aka Implementations, which isn't a valid variable name)
	for optionName, impls := range schema {
		optionText := parsedConfig[optionName]
		// Parse this Implementations's JSON just enough to get the type
		implName, err := parseType(optionText)
		if err != nil {
			return nil, errors.Wrapf(err, "Error parsing type for Implementations %v", optionName)
		}
		impl, ok := impls[implName]
		if !ok {
			impl, ok = impls[WildcardImpl]
		}
		if !ok || impl == nil {
			return nil, errors.Errorf("Error parsing Implementations %v: %q is not a valid Implementation, choose from %v",
				optionName, implName, implNames(impls))
		}
		impl, err = clone(impl)
		if err != nil {
			return nil, errors.Wrapf(err, "Error preparing Implementations %v", optionName)
		}
		if len(optionText) > 0 {
			// Now parse it fully, with the right Implementation
			if err = json.Unmarshal(optionText, impl); err != nil {
				return nil, errors.Wrapf(err, "Error parsing variable %v", optionName)
			}
		}
		result[optionName] = impl
	}
	log.Debugf("config parsed to: %+v", result)
	return result, nil
}

// Find the type, which is simply the string value for the key "Type"
func parseType(data json.RawMessage) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	var t struct{ Type string }
	err := json.Unmarshal(data, &t)
	if err != nil {
		return "", err
	}
	return t.Type, nil
}

func clone(impl Implementation) (Implementation, error) {
	v := reflect.ValueOf(impl)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return nil, errors.Errorf("implementation %T must be a pointer to a struct", impl)
	}
	cp := reflect.New(v.Elem().Type())
	cp.Elem().Set(v.Elem())
	return cp.Interface().(Implementation), nil
}

func implNames(impls Implementations) []string {
	names := []string{}
	for name := range impls {
		if name != DefaultImpl && name != WildcardImpl {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

var namedConfig = regexp.MustCompile(`^[[:alnum:]]*\.[[:alnum:]]*$`)

// GetConfigText finds the right text for a configFlag.
// A flag ending in .json or .toml that names an existing file is read from disk.
// Otherwise, if it looks like a named config (foo.bar, both alphanumeric), it is read as an asset.
// Otherwise, assume it's the literal json text.
func GetConfigText(configFlag string, asset func(string) ([]byte, error)) ([]byte, Format, error) {
	format := JSON
	if strings.HasSuffix(configFlag, ".toml") {
		format = TOML
	}
	if strings.HasSuffix(configFlag, ".json") || format == TOML {
		if _, err := os.Stat(configFlag); err == nil {
			log.Infof("reading config file %v", configFlag)
			configText, err := os.ReadFile(configFlag)
			if err != nil {
				return nil, format, errors.Wrapf(err, "Error Loading Config File %v", configFlag)
			}
			return configText, format, nil
		}
	}
	if namedConfig.MatchString(configFlag) {
		log.Infof("reading named config %v", configFlag)
		if asset == nil {
			return nil, format, errors.Errorf("no named configs available for %v", configFlag)
		}
		configText, err := asset(configFlag)
		if err != nil {
			return nil, format, errors.Wrapf(err, "Error Loading Config %v", configFlag)
		}
		return configText, format, nil
	}
	log.Infof("using -config as JSON config: %v", configFlag)
	return []byte(configFlag), JSON, nil
}
