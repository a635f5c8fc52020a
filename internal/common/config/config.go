package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Maps     MapsConfig     `mapstructure:"maps"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	ReadTimeout     int    `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int    `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis address was configured. The verdict cache
// is skipped entirely when it is not.
func (r RedisConfig) Enabled() bool {
	return r.Address != ""
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

// Enabled reports whether the search-history sink should be wired.
func (e ElasticsearchConfig) Enabled() bool {
	return len(e.Addresses) > 0
}

// MapsConfig holds settings for the external driving-time provider.
type MapsConfig struct {
	APIKey            string `mapstructure:"api_key"`
	DistanceMatrixURL string `mapstructure:"distance_matrix_url"`
	RouteMatrixURL    string `mapstructure:"route_matrix_url"`
	GeocodeURL        string `mapstructure:"geocode_url"`
	PlacesURL         string `mapstructure:"places_url"`
	Region            string `mapstructure:"region"`   // country bias for geocoding, e.g. "es"
	Language          string `mapstructure:"language"` // result language, e.g. "es"
	Country           string `mapstructure:"country"`  // appended to bare postal-code waypoints
	Timeout           int    `mapstructure:"timeout"`  // milliseconds
	AllowEstimator    bool   `mapstructure:"allow_estimator"`
}

// DispatchConfig holds defaults for the ranking and precalculation core.
// Rows in the settings table override these per deployment.
type DispatchConfig struct {
	CentralMaxMinutes        int `mapstructure:"central_max_minutes"`
	ConflictThresholdMinutes int `mapstructure:"conflict_threshold_minutes"`
	SearchResultsCount       int `mapstructure:"search_results_count"`
	RouteMaxMinutes          int `mapstructure:"route_max_minutes"`
	BatchDelay               int `mapstructure:"batch_delay"`       // milliseconds between API-bearing batches
	VerdictCacheTTL          int `mapstructure:"verdict_cache_ttl"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
