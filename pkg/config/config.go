package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/web3mt/web3mt/pkg/evm"
	"github.com/web3mt/web3mt/pkg/logger"
	"github.com/web3mt/web3mt/pkg/txflow"
)

// EngineConfig 交易提交重试参数（对应 txflow.Options）
type EngineConfig struct {
	MaxAttempts   int `yaml:"max_attempts" json:"max_attempts"`
	RetryDelay    int `yaml:"retry_delay" json:"retry_delay"`     // 秒
	PollInterval  int `yaml:"poll_interval" json:"poll_interval"` // 秒
	SlowAfter     int `yaml:"slow_after" json:"slow_after"`       // 秒，超过后提价
	MaxBumps      int `yaml:"max_bumps" json:"max_bumps"`
	NotFoundLimit int `yaml:"not_found_limit" json:"not_found_limit"`

	// EVM 费用参数
	EVM evm.Config `yaml:"evm" json:"evm"`
	// RPS 单个 RPC 的每秒请求上限，0 表示不限
	RPS float64 `yaml:"rps" json:"rps"`
}

// Flow 转成 txflow.Options
func (e EngineConfig) Flow() txflow.Options {
	return txflow.Options{
		MaxAttempts:   e.MaxAttempts,
		RetryDelay:    time.Duration(e.RetryDelay) * time.Second,
		PollInterval:  time.Duration(e.PollInterval) * time.Second,
		SlowAfter:     time.Duration(e.SlowAfter) * time.Second,
		MaxBumps:      e.MaxBumps,
		NotFoundLimit: e.NotFoundLimit,
	}
}

// ExchangeConfig 单个交易所配置；凭证不放这里，存在 secret store
type ExchangeConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	BaseURL string `yaml:"base_url" json:"base_url"`
	Proxy   string `yaml:"proxy" json:"proxy"`
	// Networks 覆盖默认的链名 -> 交易所网络名映射
	Networks map[string]string `yaml:"networks" json:"networks"`
}

// DelayConfig 账号之间的随机间隔（秒）
type DelayConfig struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

// Range 返回时长区间
func (d DelayConfig) Range() (time.Duration, time.Duration) {
	return time.Duration(d.Min) * time.Second, time.Duration(d.Max) * time.Second
}

// LiFiConfig LI.FI 跨链接口
type LiFiConfig struct {
	BaseURL    string  `yaml:"base_url" json:"base_url"`
	Integrator string  `yaml:"integrator" json:"integrator"`
	APIKey     string  `yaml:"api_key" json:"api_key"`
	Slippage   float64 `yaml:"slippage" json:"slippage"`
}

// Config 应用配置
type Config struct {
	DataDir     string                    `yaml:"data_dir" json:"data_dir"`
	DBPath      string                    `yaml:"db_path" json:"db_path"`
	SecretsPath string                    `yaml:"secrets_path" json:"secrets_path"`
	Log         logger.Config             `yaml:"log" json:"log"`
	Proxy       string                    `yaml:"proxy" json:"proxy"` // 全局代理，profile 上的代理优先
	Concurrency int                       `yaml:"concurrency" json:"concurrency"`
	RPC         map[string][]string       `yaml:"rpc" json:"rpc"` // 链名 -> RPC 列表，覆盖内置
	Engine      EngineConfig              `yaml:"engine" json:"engine"`
	Exchanges   map[string]ExchangeConfig `yaml:"exchanges" json:"exchanges"`
	MetricsAddr string                    `yaml:"metrics_addr" json:"metrics_addr"`
	Delay       DelayConfig               `yaml:"delay" json:"delay"`
	LiFi        LiFiConfig                `yaml:"lifi" json:"lifi"`
}

var globalConfig *Config
var configFilePath string

// SetConfigPath 设置配置文件路径
func SetConfigPath(path string) {
	configFilePath = path
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	return configFilePath
}

// Get 获取全局配置（如果已加载）
func Get() *Config {
	return globalConfig
}

// Load 加载配置
func Load() (*Config, error) {
	return LoadFromFile(configFilePath)
}

// LoadFromFile 从指定文件加载配置；路径为空时只用环境变量和默认值
func LoadFromFile(filePath string) (*Config, error) {
	if globalConfig != nil && configFilePath == filePath {
		return globalConfig, nil
	}

	cfg := &Config{}
	if filePath != "" {
		if err := loadConfigFile(filePath, cfg); err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}

	// 优先级：配置文件 > 环境变量 > 默认值
	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	globalConfig = cfg
	configFilePath = filePath
	return cfg, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return nil
}

// applyEnv 只填充配置文件里没写的字段
func applyEnv(c *Config) {
	setString(&c.DataDir, "WEB3MT_DATA_DIR")
	setString(&c.DBPath, "WEB3MT_DB_PATH")
	setString(&c.SecretsPath, "WEB3MT_SECRETS_PATH")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.OutputFile, "LOG_FILE")
	setString(&c.Proxy, "WEB3MT_PROXY")
	setString(&c.MetricsAddr, "METRICS_ADDR")
	setString(&c.LiFi.APIKey, "LIFI_API_KEY")
	setString(&c.LiFi.Integrator, "LIFI_INTEGRATOR")
	if c.Concurrency == 0 {
		c.Concurrency = parseIntEnv("WEB3MT_CONCURRENCY", 0)
	}
	if c.Delay.Min == 0 && c.Delay.Max == 0 {
		c.Delay.Min = parseIntEnv("DELAY_MIN", 0)
		c.Delay.Max = parseIntEnv("DELAY_MAX", 0)
	}
	if c.Engine.EVM.MaxFeeGwei == 0 {
		c.Engine.EVM.MaxFeeGwei = parseFloatEnv("MAX_FEE_GWEI", 0)
	}

	// RPC_<CHAIN>=url1,url2
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, "RPC_") || v == "" {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(k, "RPC_"))
		if c.RPC == nil {
			c.RPC = map[string][]string{}
		}
		if _, exists := c.RPC[name]; exists {
			continue
		}
		c.RPC[name] = splitList(v)
	}
}

func applyDefaults(c *Config) {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "web3mt.db")
	}
	if c.SecretsPath == "" {
		c.SecretsPath = filepath.Join(c.DataDir, "secrets")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.OutputFile == "" {
		c.Log.OutputFile = "logs/web3mt.log"
		c.Log.PerRun = true
	}
	if c.Log.MaxSize == 0 {
		c.Log.MaxSize = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 10
	}
	if c.Log.MaxAge == 0 {
		c.Log.MaxAge = 30
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
	if c.Delay.Min == 0 && c.Delay.Max == 0 {
		c.Delay = DelayConfig{Min: 5, Max: 30}
	}
	if c.LiFi.BaseURL == "" {
		c.LiFi.BaseURL = "https://li.quest/v1"
	}
	if c.LiFi.Integrator == "" {
		c.LiFi.Integrator = "web3mt"
	}
	if c.LiFi.Slippage == 0 {
		c.LiFi.Slippage = 0.005
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Concurrency < 1 || c.Concurrency > 256 {
		return fmt.Errorf("concurrency 必须在 1 到 256 之间: %d", c.Concurrency)
	}
	if c.Delay.Min < 0 || c.Delay.Max < c.Delay.Min {
		return fmt.Errorf("delay 区间非法: [%d, %d]", c.Delay.Min, c.Delay.Max)
	}
	if c.Proxy != "" {
		if err := validateProxy(c.Proxy); err != nil {
			return err
		}
	}
	for name, ex := range c.Exchanges {
		if ex.Proxy != "" {
			if err := validateProxy(ex.Proxy); err != nil {
				return fmt.Errorf("exchanges.%s: %w", name, err)
			}
		}
	}
	for name, urls := range c.RPC {
		if len(urls) == 0 {
			return fmt.Errorf("rpc.%s 不能为空", name)
		}
	}
	if c.Engine.MaxAttempts < 0 || c.Engine.MaxBumps < 0 {
		return fmt.Errorf("engine.max_attempts / engine.max_bumps 不能为负数")
	}
	if c.Engine.EVM.MaxFeeGwei < 0 {
		return fmt.Errorf("engine.evm.max_fee_gwei 不能为负数")
	}
	if c.LiFi.Slippage <= 0 || c.LiFi.Slippage >= 0.5 {
		return fmt.Errorf("lifi.slippage 必须在 0 到 0.5 之间: %v", c.LiFi.Slippage)
	}
	return nil
}

// EnabledExchanges 启用的交易所名
func (c *Config) EnabledExchanges() []string {
	var out []string
	for name, ex := range c.Exchanges {
		if ex.Enabled {
			out = append(out, strings.ToLower(name))
		}
	}
	return out
}

func validateProxy(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("代理地址非法 %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
		return nil
	}
	return fmt.Errorf("不支持的代理协议 %q (支持 http, https, socks5)", u.Scheme)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setString(dst *string, key string) {
	if *dst == "" {
		*dst = getEnv(key, "")
	}
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}
