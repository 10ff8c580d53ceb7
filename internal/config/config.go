// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Workspace     WorkspaceConfig     `mapstructure:"workspace"`
	Ingestion     IngestionConfig     `mapstructure:"ingestion"`
	Indexer       IndexerConfig       `mapstructure:"indexer"`
	VectorStore   VectorStoreConfig   `mapstructure:"vector_store"`
	Retriever     RetrieverConfig     `mapstructure:"retriever"`
	Memory        MemoryConfig        `mapstructure:"memory"`
	Lock          LockConfig          `mapstructure:"lock"`
	QALog         QALogConfig         `mapstructure:"qa_log"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// WorkspaceConfig 决定工作区根目录，所有落盘产物都放在 root/name 下。
type WorkspaceConfig struct {
	Root string `mapstructure:"root"`
	Name string `mapstructure:"name"`
}

// IngestionConfig 存储仓库克隆相关的配置。
type IngestionConfig struct {
	CheckoutDir string        `mapstructure:"checkout_dir"`
	GitBinary   string        `mapstructure:"git_binary"`
	CloneDepth  int           `mapstructure:"clone_depth"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// AllowFileURLs 允许 file:// 地址克隆服务器本地仓库，默认关闭
	AllowFileURLs bool `mapstructure:"allow_file_urls"`
}

// IndexerConfig 存储加载、切分与向量化相关的配置。
type IndexerConfig struct {
	Language        string   `mapstructure:"language"`
	Suffixes        []string `mapstructure:"suffixes"`
	ExcludeGlobs    []string `mapstructure:"exclude_globs"`
	MaxFileSize     int64    `mapstructure:"max_file_size"`
	ParserThreshold int      `mapstructure:"parser_threshold"`
	ChunkSize       int      `mapstructure:"chunk_size"`
	Overlap         int      `mapstructure:"overlap"`
}

// VectorStoreConfig 选择向量库后端。
type VectorStoreConfig struct {
	Backend  string         `mapstructure:"backend"`
	Dir      string         `mapstructure:"dir"`
	PGVector PGVectorConfig `mapstructure:"pgvector"`
}

// PGVectorConfig 存储 pgvector 后端的配置。
type PGVectorConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// RetrieverConfig 控制检索返回的分块数量。
type RetrieverConfig struct {
	TopK int `mapstructure:"top_k"`
}

// MemoryConfig 控制对话窗口。
type MemoryConfig struct {
	Backend string        `mapstructure:"backend"`
	Window  int           `mapstructure:"window"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// LockConfig 控制工作区互斥锁。
type LockConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// QALogConfig 存储问答日志的配置。
type QALogConfig struct {
	JSONFile string            `mapstructure:"json_file"`
	Mirror   QALogMirrorConfig `mapstructure:"mirror"`
}

// QALogMirrorConfig 控制是否把问答记录同步写入 MySQL。
type QALogMirrorConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	BatchSize  int    `mapstructure:"batch_size"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	Provider   string              `mapstructure:"provider"`
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置问答模板，留空时使用内置模板。
type LLMPromptConfig struct {
	Template string `mapstructure:"template"`
}

// MetricsConfig 控制 Prometheus 指标暴露。
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Paths 是按工作区解析后的落盘路径。
type Paths struct {
	Workspace   string
	Checkout    string
	VectorStore string
	QALog       string
}

// Paths 根据工作区配置解析出检出目录、向量库目录和问答日志路径。
// 绝对路径原样使用。
func (c Config) Paths() Paths {
	base := filepath.Join(c.Workspace.Root, c.Workspace.Name)
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	return Paths{
		Workspace:   base,
		Checkout:    resolve(c.Ingestion.CheckoutDir),
		VectorStore: resolve(c.VectorStore.Dir),
		QALog:       resolve(c.QALog.JSONFile),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_path", "logs")
	v.SetDefault("workspace.root", "artifacts")
	v.SetDefault("workspace.name", "default")
	v.SetDefault("ingestion.checkout_dir", "github")
	v.SetDefault("ingestion.git_binary", "git")
	v.SetDefault("ingestion.clone_depth", 1)
	v.SetDefault("ingestion.timeout", "5m")
	v.SetDefault("ingestion.allow_file_urls", false)
	v.SetDefault("indexer.language", "python")
	v.SetDefault("indexer.exclude_globs", []string{"node_modules", "vendor", "__pycache__", ".venv"})
	v.SetDefault("indexer.max_file_size", 1<<20)
	v.SetDefault("indexer.parser_threshold", 500)
	v.SetDefault("indexer.chunk_size", 1000)
	v.SetDefault("indexer.overlap", 100)
	v.SetDefault("vector_store.backend", "local")
	v.SetDefault("vector_store.dir", "vectordb")
	v.SetDefault("vector_store.pgvector.table", "code_chunks")
	v.SetDefault("retriever.top_k", 15)
	v.SetDefault("memory.backend", "memory")
	v.SetDefault("memory.window", 3)
	v.SetDefault("memory.ttl", "168h")
	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.ttl", "30m")
	v.SetDefault("qa_log.json_file", "qa_log.json")
	v.SetDefault("kafka.topic", "chatwithcode-events")
	v.SetDefault("elasticsearch.index_name", "code_chunks")
	v.SetDefault("minio.bucket_name", "chatwithcode")
	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.generation.temperature", 0.2)
	v.SetDefault("llm.generation.max_tokens", 1024)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("CWC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 密钥只从环境变量读取，兼容常见的变量名
	_ = v.BindEnv("llm.api_key", "CWC_LLM_API_KEY", "LLM_API_KEY", "GOOGLE_API_KEY")
	_ = v.BindEnv("embedding.api_key", "CWC_EMBEDDING_API_KEY", "EMBEDDING_API_KEY", "HF_TOKEN", "OPENAI_API_KEY")
	_ = v.BindEnv("minio.secret_access_key", "CWC_MINIO_SECRET_ACCESS_KEY", "MINIO_SECRET_ACCESS_KEY")
	_ = v.BindEnv("elasticsearch.password", "CWC_ELASTICSEARCH_PASSWORD", "ELASTIC_PASSWORD")
}

// Load 读取 .env 与 YAML 配置文件并返回解析后的配置。
// configPath 为空时只使用默认值和环境变量。
func Load(configPath string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Init 加载配置并写入全局 Conf。
func Init(configPath string) error {
	cfg, err := Load(configPath)
	if err != nil {
		return err
	}
	Conf = *cfg
	return nil
}

// Validate 检查配置中的数值与枚举项。
func (c Config) Validate() error {
	var errs []error
	if c.Indexer.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("indexer.chunk_size 必须为正数, 当前: %d", c.Indexer.ChunkSize))
	}
	if c.Indexer.Overlap < 0 {
		errs = append(errs, fmt.Errorf("indexer.overlap 不能为负数, 当前: %d", c.Indexer.Overlap))
	}
	if c.Retriever.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retriever.top_k 必须为正数, 当前: %d", c.Retriever.TopK))
	}
	if c.Memory.Window <= 0 {
		errs = append(errs, fmt.Errorf("memory.window 必须为正数, 当前: %d", c.Memory.Window))
	}
	if c.Embedding.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("embedding.batch_size 必须为正数, 当前: %d", c.Embedding.BatchSize))
	}
	// 以点开头的名称（包括 "." 和 ".."）会让工作区解析到 root 之外或变成隐藏目录
	if c.Workspace.Name == "" || strings.HasPrefix(c.Workspace.Name, ".") || strings.ContainsAny(c.Workspace.Name, `/\`) {
		errs = append(errs, fmt.Errorf("workspace.name 非法: %q", c.Workspace.Name))
	}
	if !oneOf(c.VectorStore.Backend, "local", "elasticsearch", "pgvector") {
		errs = append(errs, fmt.Errorf("未知的 vector_store.backend: %q", c.VectorStore.Backend))
	}
	if !oneOf(c.Memory.Backend, "memory", "redis") {
		errs = append(errs, fmt.Errorf("未知的 memory.backend: %q", c.Memory.Backend))
	}
	if !oneOf(c.Lock.Backend, "memory", "redis") {
		errs = append(errs, fmt.Errorf("未知的 lock.backend: %q", c.Lock.Backend))
	}
	if !oneOf(c.Embedding.Provider, "openai", "gemini") {
		errs = append(errs, fmt.Errorf("未知的 embedding.provider: %q", c.Embedding.Provider))
	}
	if !oneOf(c.LLM.Provider, "openai", "gemini") {
		errs = append(errs, fmt.Errorf("未知的 llm.provider: %q", c.LLM.Provider))
	}
	if c.VectorStore.Backend == "pgvector" && c.VectorStore.PGVector.DSN == "" {
		errs = append(errs, errors.New("vector_store.pgvector.dsn 不能为空"))
	}
	if c.VectorStore.Backend == "elasticsearch" && c.Elasticsearch.Addresses == "" {
		errs = append(errs, errors.New("elasticsearch.addresses 不能为空"))
	}
	if c.QALog.Mirror.Enabled && c.Database.MySQL.DSN == "" {
		errs = append(errs, errors.New("启用 qa_log.mirror 时 database.mysql.dsn 不能为空"))
	}
	return errors.Join(errs...)
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
