package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults inherited from the accounting plugins this cache serves.
const (
	DefaultRefreshInterval = "60s"
	DefaultCheckInterval   = "1s"
	DefaultWritersNo       = 10
	DefaultRecvBudget      = 100
	DefaultAvgChainLen     = 10
	DefaultEntries         = 16411
	DefaultRetainWindows   = 2
	DefaultAggregate       = "fields"
	DefaultInputBuffer     = 10000
	DefaultNATSURL         = "nats://127.0.0.1:4222"
	DefaultSubject         = "ns.records"
)

// DefaultKeyFields is the key used by the "fields" strategy when none is configured.
var DefaultKeyFields = []string{"SrcIP", "DstIP", "SrcPort", "DstPort", "Protocol"}

// CacheConfig holds the configuration for the aggregation cache engine.
type CacheConfig struct {
	RefreshInterval      string   `yaml:"refresh_interval"`
	RefreshOffset        string   `yaml:"refresh_offset"`
	CheckInterval        string   `yaml:"check_interval"`
	WritersNo            int      `yaml:"writers_no"`
	RecvBudget           int      `yaml:"recv_budget"`
	AvgChainLen          int      `yaml:"avg_chain_len"`
	Entries              int      `yaml:"entries"`
	SlabRecords          int      `yaml:"slab_records"`
	MaxSlabs             int      `yaml:"max_slabs"`
	Aggregate            string   `yaml:"aggregate"`
	KeyFields            []string `yaml:"key_fields"`
	HistoricalAccounting bool     `yaml:"historical_accounting"`
	RetainWindows        int      `yaml:"retain_windows"`
	Stitching            bool     `yaml:"stitching"`
	OrderedFlush         bool     `yaml:"ordered_flush"`
	InputBuffer          int      `yaml:"input_buffer"`
	PortsFile            string   `yaml:"ports_file"`
	ProtosFile           string   `yaml:"protos_file"`
	TriggerExec          string   `yaml:"trigger_exec"`
	TriggerTimeout       string   `yaml:"trigger_timeout"`
}

// ClickHouseConfig holds the connection settings for a ClickHouse writer.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RedisConfig holds the connection settings for a Redis writer.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	TTL       string `yaml:"ttl"`
}

// GobConfig holds the settings for the gob file writer.
type GobConfig struct {
	RootPath string `yaml:"root_path"`
}

// TextConfig holds the settings for the text (print) writer. An empty
// RootPath prints to stdout.
type TextConfig struct {
	RootPath string `yaml:"root_path"`
}

// WriterDef defines a single writer that receives flushed batches.
type WriterDef struct {
	Type    string `yaml:"type"`
	Enabled bool   `yaml:"enabled"`
	// Tables are cycled round-robin, one per flushed batch. Each entry may
	// contain time placeholders resolved against the batch window.
	Tables []string `yaml:"tables"`
	// TablesRR unrolls a single table name containing "$tn" into that many tables.
	TablesRR   int              `yaml:"tables_rr"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Redis      RedisConfig      `yaml:"redis"`
	Gob        GobConfig        `yaml:"gob"`
	Text       TextConfig       `yaml:"text"`
}

// ProbeConfig holds the NATS transport settings shared by probe and engine.
type ProbeConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// APIConfig holds the listen addresses of the status endpoints.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	GRPCAddr   string `yaml:"grpc_addr"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Cache   CacheConfig `yaml:"cache"`
	Writers []WriterDef `yaml:"writers"`
	Probe   ProbeConfig `yaml:"probe"`
	API     APIConfig   `yaml:"api"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fills unset fields with defaults and rejects invalid values.
func (c *Config) Validate() error {
	cc := &c.Cache
	if cc.RefreshInterval == "" {
		cc.RefreshInterval = DefaultRefreshInterval
	}
	if cc.CheckInterval == "" {
		cc.CheckInterval = DefaultCheckInterval
	}
	if cc.RefreshOffset == "" {
		cc.RefreshOffset = "0s"
	}
	if cc.WritersNo <= 0 {
		cc.WritersNo = DefaultWritersNo
	}
	if cc.RecvBudget <= 0 {
		cc.RecvBudget = DefaultRecvBudget
	}
	if cc.AvgChainLen <= 0 {
		cc.AvgChainLen = DefaultAvgChainLen
	}
	if cc.Entries <= 0 {
		cc.Entries = DefaultEntries
	}
	if cc.SlabRecords <= 0 {
		cc.SlabRecords = cc.Entries * cc.AvgChainLen
	}
	if cc.RetainWindows <= 0 {
		cc.RetainWindows = DefaultRetainWindows
	}
	if cc.Aggregate == "" {
		cc.Aggregate = DefaultAggregate
	}
	if cc.Aggregate == "fields" && len(cc.KeyFields) == 0 {
		cc.KeyFields = append([]string(nil), DefaultKeyFields...)
	}
	if cc.InputBuffer <= 0 {
		cc.InputBuffer = DefaultInputBuffer
	}
	if cc.TriggerTimeout == "" {
		cc.TriggerTimeout = "30s"
	}

	if c.Probe.NATSURL == "" {
		c.Probe.NATSURL = DefaultNATSURL
	}
	if c.Probe.Subject == "" {
		c.Probe.Subject = DefaultSubject
	}

	refresh, err := cc.Refresh()
	if err != nil {
		return err
	}
	if refresh <= 0 {
		return fmt.Errorf("refresh_interval must be a positive duration")
	}
	offset, err := cc.Offset()
	if err != nil {
		return err
	}
	if offset < 0 || offset >= refresh {
		return fmt.Errorf("refresh_offset must be in [0, refresh_interval)")
	}
	if d, err := time.ParseDuration(cc.CheckInterval); err != nil || d <= 0 {
		return fmt.Errorf("invalid check_interval %q", cc.CheckInterval)
	}
	if _, err := time.ParseDuration(cc.TriggerTimeout); err != nil {
		return fmt.Errorf("invalid trigger_timeout: %w", err)
	}

	for i := range c.Writers {
		w := &c.Writers[i]
		switch w.Type {
		case "gob", "text", "clickhouse", "redis":
		default:
			return fmt.Errorf("unknown writer type '%s'", w.Type)
		}
	}
	return nil
}

// Refresh returns the parsed refresh interval.
func (cc *CacheConfig) Refresh() (time.Duration, error) {
	d, err := time.ParseDuration(cc.RefreshInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid refresh_interval: %w", err)
	}
	return d, nil
}

// Offset returns the parsed refresh skew.
func (cc *CacheConfig) Offset() (time.Duration, error) {
	d, err := time.ParseDuration(cc.RefreshOffset)
	if err != nil {
		return 0, fmt.Errorf("invalid refresh_offset: %w", err)
	}
	return d, nil
}

// Check returns the parsed timer check interval.
func (cc *CacheConfig) Check() time.Duration {
	d, _ := time.ParseDuration(cc.CheckInterval)
	return d
}

// Trigger returns the parsed trigger timeout.
func (cc *CacheConfig) Trigger() time.Duration {
	d, _ := time.ParseDuration(cc.TriggerTimeout)
	return d
}
