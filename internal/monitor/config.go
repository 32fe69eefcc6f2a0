package monitor

// DefaultCron runs a check every five minutes (with a seconds field).
const DefaultCron = "0 0/5 * * * *"

// ProductConfig is the per-product push configuration.
type ProductConfig struct {
	Enabled  bool
	Log      bool
	Cron     string
	Targets  []Target
	Format   MessageFormat
	Template string
}

// DefaultProductConfig is used for products missing from the config file.
func DefaultProductConfig() ProductConfig {
	return ProductConfig{
		Enabled:  true,
		Cron:     DefaultCron,
		Format:   FormatImage,
		Template: "default",
	}
}

// ConfigSource returns the current configuration of a product.
type ConfigSource interface {
	ProductConfig(id ProductID) ProductConfig
}

// StaticConfig serves a fixed configuration map.
type StaticConfig map[ProductID]ProductConfig

func (s StaticConfig) ProductConfig(id ProductID) ProductConfig {
	if cfg, ok := s[id]; ok {
		return cfg
	}
	return DefaultProductConfig()
}
