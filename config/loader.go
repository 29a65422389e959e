// =============================================================================
// 📦 CareFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖 + 独立的 agents 文件
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("CAREFLOW").
//	    WithValidator((*config.Config).Validate).
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量 → agents_file
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/careflow/types"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 CareFlow 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Redis 会话锁配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database SQL 数据库配置（database 存储后端与迁移使用）
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Mongo MongoDB 配置（mongodb 存储后端使用）
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`

	// Storage 聊天上下文存储配置
	Storage StorageConfig `yaml:"storage" env:"STORAGE"`

	// LLM 模型服务配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Patient 患者上下文配置
	Patient PatientConfig `yaml:"patient" env:"PATIENT"`

	// GroupChat 群聊配置
	GroupChat GroupChatConfig `yaml:"group_chat" env:"GROUP_CHAT"`

	// Auth 租户鉴权配置
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// Blob 签名 URL 配置
	Blob BlobConfig `yaml:"blob" env:"BLOB"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Agents 群聊花名册
	Agents []types.AgentConfig `yaml:"agents"`

	// AgentsFile 指向单独的花名册文件，相对路径以配置文件所在目录为基准
	AgentsFile string `yaml:"agents_file" env:"AGENTS_FILE"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时，WebSocket 回合不受此限制
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 空闲超时
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 允许的 WebSocket Origin 模式
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	// 每个 IP 每秒请求数
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 启用后会话锁跨实例生效
	Enabled bool `yaml:"enabled" env:"ENABLED"`
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
	// 会话锁过期时间
	LockTTL time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`
	// 启用 TLS 连接（托管 Redis 通常要求）
	TLS bool `yaml:"tls" env:"TLS"`
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
	// 数据库名，sqlite 时为文件路径
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 启动时自动执行迁移
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI        string        `yaml:"uri" env:"URI"`
	Database   string        `yaml:"database" env:"DATABASE"`
	Collection string        `yaml:"collection" env:"COLLECTION"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// StorageConfig 存储后端配置
type StorageConfig struct {
	// 后端类型: memory, file, redis, database, mongodb
	Type string `yaml:"type" env:"TYPE"`
	// file 后端的根目录
	BaseDir string `yaml:"base_dir" env:"BASE_DIR"`
	// redis 后端的键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// database 后端的表名
	Table string `yaml:"table" env:"TABLE"`
	// 写入失败最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	// Provider: openai 或 azure
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL，azure 时为资源端点
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// Azure API 版本
	APIVersion string `yaml:"api_version" env:"API_VERSION"`
	// 默认模型（azure 时为部署名）
	DefaultModel string `yaml:"default_model" env:"DEFAULT_MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
}

// PatientConfig 患者上下文配置
type PatientConfig struct {
	// 患者 ID 正则
	PatientIDPattern string `yaml:"patient_id_pattern" env:"PATIENT_ID_PATTERN"`
	// 不超过该长度的消息跳过分析器
	ShortMessageMaxLen int `yaml:"short_message_max_len" env:"SHORT_MESSAGE_MAX_LEN"`
	// 短消息中出现这些词时仍然分析
	ShortMessageKeywords []string `yaml:"short_message_keywords" env:"SHORT_MESSAGE_KEYWORDS"`
	// 分析器模型
	AnalyzerModel string `yaml:"analyzer_model" env:"ANALYZER_MODEL"`
	// 分析器温度
	AnalyzerTemperature float32 `yaml:"analyzer_temperature" env:"ANALYZER_TEMPERATURE"`
	// 分析器输出 token 上限
	AnalyzerMaxTokens int `yaml:"analyzer_max_tokens" env:"ANALYZER_MAX_TOKENS"`
	// 分析器超时
	AnalyzerTimeout time.Duration `yaml:"analyzer_timeout" env:"ANALYZER_TIMEOUT"`
}

// GroupChatConfig 群聊配置
type GroupChatConfig struct {
	// 每回合最多 Agent 回复数
	MaximumIterations int `yaml:"maximum_iterations" env:"MAXIMUM_ITERATIONS"`
	// 主持人给出计划后等待用户确认
	PlanGate bool `yaml:"plan_gate" env:"PLAN_GATE"`
	// 选择/终止策略模型
	StrategyModel string `yaml:"strategy_model" env:"STRATEGY_MODEL"`
	// 策略输出 token 上限
	StrategyMaxTokens int `yaml:"strategy_max_tokens" env:"STRATEGY_MAX_TOKENS"`
	// 策略超时
	StrategyTimeout time.Duration `yaml:"strategy_timeout" env:"STRATEGY_TIMEOUT"`
	// Agent 单次回复 token 上限
	MaxResponseTokens int `yaml:"max_response_tokens" env:"MAX_RESPONSE_TOKENS"`
	// 在线探测超时
	ProbeTimeout time.Duration `yaml:"probe_timeout" env:"PROBE_TIMEOUT"`
	// 持久化超时
	PersistTimeout time.Duration `yaml:"persist_timeout" env:"PERSIST_TIMEOUT"`
}

// AuthConfig 鉴权配置
type AuthConfig struct {
	// 只允许该租户访问，为空时不校验
	TenantID string `yaml:"tenant_id" env:"TENANT_ID"`
	// HS256 密钥，为空时不启用 JWT 中间件
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// 期望的签发者
	JWTIssuer string `yaml:"jwt_issuer" env:"JWT_ISSUER"`
}

// BlobConfig Blob 签名配置
type BlobConfig struct {
	// 签名密钥，为空时不签名
	SigningSecret string `yaml:"signing_secret" env:"SIGNING_SECRET"`
	// 签名有效期
	URLTTL time.Duration `yaml:"url_ttl" env:"URL_TTL"`
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
	// 是否使用明文连接
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
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
		envPrefix:  "CAREFLOW",
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
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// agents_file 可能来自环境变量，所以放在最后
	if cfg.AgentsFile != "" {
		agents, err := LoadAgents(l.resolve(cfg.AgentsFile))
		if err != nil {
			return nil, err
		}
		cfg.Agents = agents
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) resolve(path string) string {
	if filepath.IsAbs(path) || l.configPath == "" {
		return path
	}
	return filepath.Join(filepath.Dir(l.configPath), path)
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadAgents 读取花名册文件。文件可以是 agent 列表，也可以是带 agents 键的对象。
func LoadAgents(path string) ([]types.AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agents file: %w", err)
	}

	var list []types.AgentConfig
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var doc struct {
		Agents []types.AgentConfig `yaml:"agents"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse agents file: %w", err)
	}
	return doc.Agents, nil
}

// setFieldsFromEnv 递归设置带 env tag 的字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

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
		// 逗号分隔的字符串切片
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
// 🔍 校验
// =============================================================================

var storageTypes = map[string]bool{"memory": true, "file": true, "redis": true, "database": true, "mongodb": true}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, errors.New("invalid HTTP port"))
	}
	if !storageTypes[c.Storage.Type] {
		errs = append(errs, fmt.Errorf("unsupported storage type %q", c.Storage.Type))
	}
	if c.Storage.Type == "database" && c.Database.DSN() == "" {
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.LLM.Provider != "openai" && c.LLM.Provider != "azure" {
		errs = append(errs, fmt.Errorf("unsupported llm provider %q", c.LLM.Provider))
	}
	if _, err := regexp.Compile(c.Patient.PatientIDPattern); err != nil {
		errs = append(errs, fmt.Errorf("invalid patient id pattern: %w", err))
	}
	if c.GroupChat.MaximumIterations <= 0 {
		errs = append(errs, errors.New("group_chat.maximum_iterations must be positive"))
	}
	if err := ValidateAgents(c.Agents); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ValidateAgents 检查花名册：非空、名称唯一、至多一个主持人
func ValidateAgents(agents []types.AgentConfig) error {
	if len(agents) == 0 {
		return errors.New("at least one agent is required")
	}
	var errs []error
	seen := make(map[string]bool, len(agents))
	facilitators := 0
	for _, a := range agents {
		if err := a.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		key := strings.ToLower(a.Name)
		if seen[key] {
			errs = append(errs, fmt.Errorf("duplicate agent name %q", a.Name))
		}
		seen[key] = true
		if a.Facilitator {
			facilitators++
		}
	}
	if facilitators > 1 {
		errs = append(errs, fmt.Errorf("at most one facilitator is allowed, found %d", facilitators))
	}
	return errors.Join(errs...)
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// MigrationURL 返回迁移工具 sql.Open 使用的连接串
func (d *DatabaseConfig) MigrationURL() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return "file:" + d.Name + "?mode=rwc"
	default:
		return ""
	}
}
