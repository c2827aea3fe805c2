package config

// Overrides carries values set at runtime via CLI flags. Zero values leave
// the file configuration untouched. They are not persisted to config files.
type Overrides struct {
	Host           string
	Port           int
	Debug          bool
	StorageDriver  string
	StoragePath    string
	Watch          bool
	ConflictPolicy string
	LogLevel       string
	NoAssistant    bool
}

// Apply copies the set overrides onto c and revalidates it.
func (c *Config) Apply(o Overrides) error {
	if o.Host != "" {
		c.Server.Host = o.Host
	}
	if o.Port != 0 {
		c.Server.Port = o.Port
	}
	if o.Debug {
		c.Server.Debug = true
		c.Logging.Level = "debug"
	}
	if o.StorageDriver != "" {
		c.Storage.Driver = o.StorageDriver
	}
	if o.StoragePath != "" {
		c.Storage.Path = o.StoragePath
	}
	if o.Watch {
		c.Storage.Watch = true
	}
	if o.ConflictPolicy != "" {
		c.Files.ConflictPolicy = o.ConflictPolicy
	}
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
	if o.NoAssistant {
		disabled := false
		c.Assistant.Enabled = &disabled
	}
	return c.Validate()
}
