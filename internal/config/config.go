package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config estructura principal de configuración
type Config struct {
	AMI      AMIConfig      `yaml:"ami"`
	Database DatabaseConfig `yaml:"database"`
	Asterisk AsteriskConfig `yaml:"asterisk"`
	Log      LogConfig      `yaml:"log"`
	CDR      CDRConfig      `yaml:"cdr"`
	Source   SourceConfig   `yaml:"source"`
	OpsAPI   OpsAPIConfig   `yaml:"opsapi"`
}

type AMIConfig struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	Username          string `yaml:"username"`
	Secret            string `yaml:"secret"`
	ReconnectInterval int    `yaml:"reconnect_interval"`
	// MaxReconnectDelay caps the exponential backoff ami.Client.reconnect
	// grows ReconnectInterval to after repeated failed attempts. Zero means
	// no ceiling beyond ReconnectInterval itself (no backoff growth).
	MaxReconnectDelay int `yaml:"max_reconnect_delay"`
}

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// AsteriskConfig describes the dialplan conventions the event source uses to
// classify channels it sees in AMI events (outbound leg detection in
// internal/bus).
type AsteriskConfig struct {
	OutboundContext string `yaml:"outbound_context"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CDRConfig son las claves reconocidas por el motor de registros de llamada.
type CDRConfig struct {
	Enable           bool `yaml:"enable"`
	Debug            bool `yaml:"debug"`
	Unanswered       bool `yaml:"unanswered"`
	Congestion       bool `yaml:"congestion"`
	EndBeforeHExten  bool `yaml:"endbeforehexten"`
	InitiatedSeconds bool `yaml:"initiatedseconds"`
	Batch            bool `yaml:"batch"`
	Size             uint `yaml:"size"`
	Time             uint `yaml:"time"`
	SchedulerOnly    bool `yaml:"scheduleronly"`
	SafeShutdown     bool `yaml:"safeshutdown"`
	// LinePath enables the C9 line sink when non-empty: "-" writes to
	// stdout, any other value is a file path opened append-only.
	LinePath string `yaml:"line_path"`
}

// SourceConfig apunta al feed de eventos del que se alimenta el router.
type SourceConfig struct {
	URL               string `yaml:"url"`
	ReconnectInterval int    `yaml:"reconnect_interval"`
}

// OpsAPIConfig controla el panel de operación en vivo (C11).
type OpsAPIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address devuelve la dirección completa del panel de operación.
func (o OpsAPIConfig) Address() string {
	return fmt.Sprintf("%s:%d", o.Host, o.Port)
}

// Load carga la configuración desde archivo YAML
func Load(path string) (*Config, error) {
	// Intentar leer el archivo
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error leyendo archivo de configuración: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parseando YAML: %w", err)
	}

	// Permitir sobrescribir con variables de entorno
	overrideWithEnv(&cfg)

	return &cfg, nil
}

// overrideWithEnv permite sobrescribir configuración con variables de entorno
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("CDRENGINE_AMI_USERNAME"); v != "" {
		cfg.AMI.Username = v
	}
	if v := os.Getenv("CDRENGINE_AMI_SECRET"); v != "" {
		cfg.AMI.Secret = v
	}
	if v := os.Getenv("CDRENGINE_DB_USERNAME"); v != "" {
		cfg.Database.Username = v
	}
	if v := os.Getenv("CDRENGINE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("CDRENGINE_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("CDRENGINE_DB_DATABASE"); v != "" {
		cfg.Database.Database = v
	}
}

// Address devuelve la dirección completa del servidor AMI
func (a AMIConfig) Address() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// DSN devuelve el Data Source Name para MySQL
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		d.Username, d.Password, d.Host, d.Port, d.Database)
}
