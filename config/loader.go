// =============================================================================
// 📦 ChainFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("CHAINFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 ChainFlow 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Engine 工作流引擎配置
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// Redis 缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Chain 链上交易配置
	Chain ChainConfig `yaml:"chain" env:"CHAIN"`

	// Breaker 熔断器配置
	Breaker BreakerConfig `yaml:"breaker" env:"BREAKER"`

	// SMTP 邮件通知配置
	SMTP SMTPConfig `yaml:"smtp" env:"SMTP"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每客户端限流 QPS（0 关闭限流）
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	// 限流突发额度
	RateBurst int `yaml:"rate_burst" env:"RATE_BURST"`
	// API Key 列表，为空时不启用认证
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 允许的跨域来源，为空时拒绝跨域请求
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// EngineConfig 工作流引擎配置
type EngineConfig struct {
	// Worker 标识，空则自动生成
	WorkerID string `yaml:"worker_id" env:"WORKER_ID"`
	// 调度循环间隔
	TickInterval time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
	// 节点租约心跳间隔
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	// 心跳超过该时长未刷新的节点被回收
	ReclaimAfter time.Duration `yaml:"reclaim_after" env:"RECLAIM_AFTER"`
	// 并发执行节点数上限
	MaxConcurrentNodes int `yaml:"max_concurrent_nodes" env:"MAX_CONCURRENT_NODES"`
	// 节点默认超时
	DefaultNodeTimeout time.Duration `yaml:"default_node_timeout" env:"DEFAULT_NODE_TIMEOUT"`
	// 节点默认重试预算
	DefaultMaxRetries int `yaml:"default_max_retries" env:"DEFAULT_MAX_RETRIES"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// ChainConfig 链上交易配置
type ChainConfig struct {
	// 是否启用链上交易跟踪
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// JSON-RPC 节点地址
	RPCURL string `yaml:"rpc_url" env:"RPC_URL"`
	// 发送账户地址（节点托管签名）
	Account string `yaml:"account" env:"ACCOUNT"`
	// 默认链 ID
	ChainID int64 `yaml:"chain_id" env:"CHAIN_ID"`
	// 确认轮询间隔
	ConfirmInterval time.Duration `yaml:"confirm_interval" env:"CONFIRM_INTERVAL"`
	// 超过该时长未上链则提高 gas 重发
	GasBumpAfter time.Duration `yaml:"gas_bump_after" env:"GAS_BUMP_AFTER"`
	// 每次重发的 gas 价格提升百分比
	GasBumpPercent int `yaml:"gas_bump_percent" env:"GAS_BUMP_PERCENT"`
	// 最多重发次数
	MaxGasBumps int `yaml:"max_gas_bumps" env:"MAX_GAS_BUMPS"`
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	// 连续失败阈值
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// 熔断后恢复等待时长
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" env:"RECOVERY_TIMEOUT"`
	// 半开探测请求数
	HalfOpenMaxProbes int `yaml:"half_open_max_probes" env:"HALF_OPEN_MAX_PROBES"`
	// 半开恢复所需连续成功数
	SuccessThreshold int `yaml:"success_threshold" env:"SUCCESS_THRESHOLD"`
	// 是否用 Redis 共享熔断状态
	UseRedis bool `yaml:"use_redis" env:"USE_REDIS"`
	// Redis 状态 TTL
	StateTTL time.Duration `yaml:"state_ttl" env:"STATE_TTL"`
}

// SMTPConfig 邮件通知配置
// Addr 为空时邮件节点不可用
type SMTPConfig struct {
	// SMTP 服务器地址 host:port
	Addr string `yaml:"addr" env:"ADDR"`
	// 发件人地址
	From string `yaml:"from" env:"FROM"`
	// 认证用户名
	Username string `yaml:"username" env:"USERNAME"`
	// 认证密码
	Password string `yaml:"password" env:"PASSWORD"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// DSN 根据驱动类型生成数据库连接串
func (d DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=Local",
			d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// Validate 检查配置的基本合法性
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.Server.HTTPPort)
	}
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Engine.MaxConcurrentNodes < 0 {
		return fmt.Errorf("max_concurrent_nodes must not be negative")
	}
	if c.Engine.DefaultMaxRetries < 0 {
		return fmt.Errorf("default_max_retries must not be negative")
	}
	if c.Engine.HeartbeatInterval > 0 && c.Engine.ReclaimAfter > 0 &&
		c.Engine.ReclaimAfter <= c.Engine.HeartbeatInterval {
		return fmt.Errorf("reclaim_after must exceed heartbeat_interval")
	}
	if c.Chain.Enabled {
		if c.Chain.RPCURL == "" {
			return fmt.Errorf("chain.rpc_url required when chain is enabled")
		}
		if c.Chain.Account == "" {
			return fmt.Errorf("chain.account required when chain is enabled")
		}
	}
	return nil
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CHAINFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// LoadFromEnv 仅从默认值和环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
