// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是代理服务的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Backend BackendConfig `mapstructure:"backend"`
	Session SessionConfig `mapstructure:"session"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Log     LogConfig     `mapstructure:"log"`
	Upload  UploadConfig  `mapstructure:"upload"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// BackendConfig 存储后端网关（Python 服务）的地址和各接口超时。
type BackendConfig struct {
	BaseURL  string         `mapstructure:"base_url"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
}

// TimeoutsConfig 各类转发请求的超时时间。
type TimeoutsConfig struct {
	Default    time.Duration `mapstructure:"default"`
	Chat       time.Duration `mapstructure:"chat"`
	History    time.Duration `mapstructure:"history"`
	Signup     time.Duration `mapstructure:"signup"`
	Transcribe time.Duration `mapstructure:"transcribe"`
}

// SessionConfig 存储会话 Cookie 相关的配置。
type SessionConfig struct {
	CookieName  string `mapstructure:"cookie_name"`
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
	Secure      bool   `mapstructure:"secure"`
}

// RedisConfig 存储 Redis 的配置。Addr 为空时使用进程内存储。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空时不发布反馈事件。
type KafkaConfig struct {
	Brokers       string `mapstructure:"brokers"`
	FeedbackTopic string `mapstructure:"feedback_topic"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// UploadConfig 存储图片和音频上传的限制。
type UploadConfig struct {
	MaxImages     int   `mapstructure:"max_images"`
	MaxAudioBytes int64 `mapstructure:"max_audio_bytes"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.timeouts.default", 60*time.Second)
	v.SetDefault("backend.timeouts.chat", 180*time.Second)
	v.SetDefault("backend.timeouts.history", 120*time.Second)
	v.SetDefault("backend.timeouts.signup", 30*time.Second)
	v.SetDefault("backend.timeouts.transcribe", 120*time.Second)
	v.SetDefault("session.cookie_name", "userEmail")
	v.SetDefault("session.secret", "")
	v.SetDefault("session.expire_hours", 24*7)
	v.SetDefault("session.secure", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.feedback_topic", "message-feedback")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")
	v.SetDefault("upload.max_images", 4)
	v.SetDefault("upload.max_audio_bytes", 25*1024*1024)
}

// Load 从指定路径读取 YAML 配置，环境变量 AGRI_* 可覆盖任意键（如 AGRI_BACKEND_BASE_URL）。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("AGRI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if cfg.Session.Secret == "" {
		return cfg, fmt.Errorf("session.secret 不能为空")
	}
	return cfg, nil
}

// Init 初始化配置加载，并将结果保存到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
