/*
Jsonconfig implements configuration, reading json (or toml) into typed Implementations.

To use:

 1. Create the Schema. List your configurable Implementations. Each Implementations
    can be backed by several named Implementations.
 2. Schema.Parse parses bytes and creates a Configuration.
    a) for each Implementations, pick which Implementation by its "Type".
    b) json.Unmarshal the json into a copy of that Implementation
    c) Implementation can now be validated, used, or json.Marshal'ed to print its configuration
 3. Configuration.Validate checks every Implementation.

Example:

	schema := jsonconfig.Schema(map[string]jsonconfig.Implementations{
	 "Stats": {
	  "finagle": &StatsConfig{},
	  "": &StatsConfig{Type: "finagle"},
	 },
	 "Admin": {
	  "http": &AdminConfig{},
	 },
	})

	conf, _ := schema.Parse([]byte(`{
	 "Stats": {"Type": "finagle"},
	 "Admin": {"Type": "http", "Addr": "localhost:9094"}
	}`))
	err := conf.Validate()
*/
package jsonconfig
