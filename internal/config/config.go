package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ParaWallet-Chain/internal/auth"
	"ParaWallet-Chain/internal/custody"
	xerrors "ParaWallet-Chain/internal/errors"
	"ParaWallet-Chain/pkg/logger"
)

// 环境变量。
const (
	EnvConfigPath  = "PARA_WALLET_CONFIG"
	EnvAPIKey      = "PARA_API_KEY"
	EnvEnvironment = "PARA_ENV"
	EnvBaseURL     = "PARA_BASE_URL"
	EnvAddress     = "WALLETD_ADDR"
)

// DefaultPath 是未设置 PARA_WALLET_CONFIG 时读取的配置文件。
const DefaultPath = "configs/walletd.json"

// 活动日志与事件的驱动名。
const (
	DriverMemory   = "memory"
	DriverMySQL    = "mysql"
	DriverRedis    = "redis"
	DriverNone     = "none"
	DriverLog      = "log"
	DriverRabbitMQ = "rabbitmq"
)

// Duration 允许在 JSON 中使用 "2s"、"24h" 形式的时长。
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		if strings.TrimSpace(text) == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(text)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return fmt.Errorf("无效的时长: %s", string(data))
	}
	*d = Duration(seconds * float64(time.Second))
	return nil
}

// Config 描述了钱包守护进程在启动阶段需要加载的全部配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Para    ParaConfig    `json:"para"`
	Chains  ChainsConfig  `json:"chains"`
	Journal JournalConfig `json:"journal"`
	Guard   GuardConfig   `json:"guard"`
	Events  EventsConfig  `json:"events"`
	Log     logger.Config `json:"log"`
	Runtime RuntimeConfig `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
	// MetricsAddr 非空时在独立端口暴露 /metrics。
	MetricsAddr string      `json:"metrics_address"`
	Auth        auth.Config `json:"auth"`
}

// ParaConfig 描述托管服务的凭证与连接参数。
type ParaConfig struct {
	APIKey      string   `json:"api_key"`
	Environment string   `json:"environment"`
	BaseURL     string   `json:"base_url"`
	Timeout     Duration `json:"timeout"`
	// SkipProbe 为 true 时启动阶段不访问托管服务。
	SkipProbe bool `json:"skip_probe"`
	// RetryInterval 为托管服务暂不可用时重新建立会话的间隔。
	RetryInterval Duration `json:"retry_interval"`
}

// Credentials 返回会话凭证。
func (p ParaConfig) Credentials() custody.Credentials {
	return custody.Credentials{
		APIKey:      p.APIKey,
		Environment: custody.Environment(p.Environment),
	}
}

// ChainsConfig 控制链注册表覆盖文件与回执轮询。
type ChainsConfig struct {
	// RegistryPath 指向 YAML 链定义文件，为空时仅使用内置链。
	RegistryPath string   `json:"registry_path"`
	PollInterval Duration `json:"poll_interval"`
}

// JournalConfig 选择活动日志的存储后端。
type JournalConfig struct {
	Driver   string      `json:"driver"`
	MySQL    MySQLConfig `json:"mysql"`
	Redis    RedisConfig `json:"redis"`
	Capacity int         `json:"capacity"`
}

// MySQLConfig 描述 MySQL 连接池。
type MySQLConfig struct {
	DSN             string   `json:"dsn"`
	MaxOpenConns    int      `json:"max_open_conns"`
	MaxIdleConns    int      `json:"max_idle_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime"`
}

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// GuardConfig 控制交易幂等表。
type GuardConfig struct {
	Driver string      `json:"driver"`
	TTL    Duration    `json:"ttl"`
	Redis  RedisConfig `json:"redis"`
}

// EventsConfig 选择事件发布方式。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述事件交换机。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
	Durable  bool   `json:"durable"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Path 返回配置文件路径，优先读取 PARA_WALLET_CONFIG。
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load 解析指定路径的 JSON 配置文件并叠加环境变量。文件不存在时
// 仅使用环境变量与默认值。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	var cfg Config
	content, err := readFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}

	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

func readFile(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return content, nil
}

// applyEnv 用环境变量覆盖文件中的值。
func (c *Config) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvAPIKey)); v != "" {
		c.Para.APIKey = v
	}
	if v := strings.TrimSpace(getenv(EnvEnvironment)); v != "" {
		c.Para.Environment = v
	}
	if v := strings.TrimSpace(getenv(EnvBaseURL)); v != "" {
		c.Para.BaseURL = v
	}
	if v := strings.TrimSpace(getenv(EnvAddress)); v != "" {
		c.Server.Address = v
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	c.Para.Environment = strings.TrimSpace(c.Para.Environment)
	if c.Para.Environment == "" {
		c.Para.Environment = string(custody.EnvProduction)
	}
	if c.Para.Timeout <= 0 {
		c.Para.Timeout = Duration(30 * time.Second)
	}
	if c.Para.RetryInterval <= 0 {
		c.Para.RetryInterval = Duration(15 * time.Second)
	}

	if c.Chains.RegistryPath != "" && !filepath.IsAbs(c.Chains.RegistryPath) {
		c.Chains.RegistryPath = filepath.Join(baseDir, c.Chains.RegistryPath)
	}
	if c.Chains.PollInterval <= 0 {
		c.Chains.PollInterval = Duration(2 * time.Second)
	}

	c.Journal.Driver = strings.ToLower(strings.TrimSpace(c.Journal.Driver))
	if c.Journal.Driver == "" {
		c.Journal.Driver = DriverMemory
	}
	if c.Journal.Capacity <= 0 {
		c.Journal.Capacity = 512
	}

	c.Guard.Driver = strings.ToLower(strings.TrimSpace(c.Guard.Driver))
	if c.Guard.Driver == "" {
		c.Guard.Driver = DriverMemory
	}
	if c.Guard.TTL <= 0 {
		c.Guard.TTL = Duration(24 * time.Hour)
	}

	c.Events.Driver = strings.ToLower(strings.TrimSpace(c.Events.Driver))
	if c.Events.Driver == "" {
		c.Events.Driver = DriverLog
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// Validate 校验启动所需的配置，失败返回 CONFIGURATION_INVALID。
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return xerrors.New(xerrors.CodeConfigurationInvalid, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.Para.APIKey) == "" {
		return invalid("%s is required", EnvAPIKey)
	}
	if _, err := custody.ParseEnvironment(c.Para.Environment); err != nil {
		return xerrors.Wrap(xerrors.CodeConfigurationInvalid, err, "")
	}

	switch auth.Mode(strings.ToLower(strings.TrimSpace(string(c.Server.Auth.Mode)))) {
	case "", auth.ModeDisabled:
	case auth.ModeToken:
		if len(c.Server.Auth.Tokens) == 0 {
			return invalid("server.auth.tokens is required for token mode")
		}
	default:
		return invalid("unknown auth mode %q", c.Server.Auth.Mode)
	}

	switch c.Journal.Driver {
	case DriverMemory:
	case DriverMySQL:
		if strings.TrimSpace(c.Journal.MySQL.DSN) == "" {
			return invalid("journal.mysql.dsn is required for the mysql driver")
		}
	case DriverRedis:
		if strings.TrimSpace(c.Journal.Redis.Address) == "" {
			return invalid("journal.redis.address is required for the redis driver")
		}
	default:
		return invalid("unknown journal driver %q", c.Journal.Driver)
	}

	switch c.Guard.Driver {
	case DriverMemory, DriverNone:
	case DriverRedis:
		if strings.TrimSpace(c.Guard.Redis.Address) == "" {
			return invalid("guard.redis.address is required for the redis driver")
		}
	default:
		return invalid("unknown guard driver %q", c.Guard.Driver)
	}

	switch c.Events.Driver {
	case DriverNone, DriverLog:
	case DriverRabbitMQ:
		if strings.TrimSpace(c.Events.RabbitMQ.URL) == "" {
			return invalid("events.rabbitmq.url is required for the rabbitmq driver")
		}
	default:
		return invalid("unknown events driver %q", c.Events.Driver)
	}
	return nil
}
