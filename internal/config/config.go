// Package config предоставялет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env             string `yaml:"env" env-default:"local"`
	HTTPServer      `yaml:"http_server"`
	Storage         `yaml:"storage"`
	Sessions        `yaml:"sessions"`
	Lock            `yaml:"lock"`
	RedisConnection `yaml:"redis_connection"`
	RabbitMQ        `yaml:"rabbitmq"`
	SMTP            `yaml:"smtp"`
	JWTToken        `yaml:"jwttoken"`
	LLM             `yaml:"llm"`
	Chat            `yaml:"chat"`
	Pricing         `yaml:"pricing"`
	Admins          []string `yaml:"admins"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP  string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP  time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env-default:"60s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env-default:"5m"`
	SecureCookie bool          `yaml:"secure_cookie"`
}

// Storage выбирает драйвер хранения и его параметры.
type Storage struct {
	Driver                  string `yaml:"driver" env-default:"json"` // json | postgres
	DataDir                 string `yaml:"data_dir" env-default:"./data"`
	StorageConnectionString string `yaml:"storage_connection_string"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
}

// Sessions структура для настройки хранения сессий
type Sessions struct {
	Driver string        `yaml:"driver" env-default:"storage"` // storage | redis
	TTL    time.Duration `yaml:"ttl" env-default:"168h"`
	Cookie string        `yaml:"cookie" env-default:"session_id"`
}

// Lock выбирает реализацию блокировок на сущность.
type Lock struct {
	Driver string        `yaml:"driver" env-default:"local"` // local | redis
	Expiry time.Duration `yaml:"expiry" env-default:"10s"`
	Tries  int           `yaml:"tries" env-default:"32"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// RabbitMQ структура для настройки публикации событий заказов
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"5"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
}

// SMTP структура для отправки писем
type SMTP struct {
	SMTPHost      string `yaml:"host"`
	SMTPPort      string `yaml:"port" env-default:"587"`
	SMTPUser      string `yaml:"user"`
	SMTPPass      string `yaml:"pass" env:"SMTP_PASS"`
	OperatorEmail string `yaml:"operator_email"`
}

// JWTToken структура для работы с jwt-токеном администратора
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"12h"`
}

// LLM структура для подключения к модели
type LLM struct {
	BaseURL string        `yaml:"base_url" env-default:"https://api.openai.com/v1"`
	APIKey  string        `yaml:"api_key" env:"LLM_API_KEY"`
	Model   string        `yaml:"model" env-default:"gpt-4o-mini"`
	Timeout time.Duration `yaml:"timeout" env-default:"120s"`
}

// Chat структура для настройки чата
type Chat struct {
	CreditCost     int           `yaml:"credit_cost" env-default:"10"`
	MaxPromptRunes int           `yaml:"max_prompt_runes" env-default:"2000"`
	WordDelay      time.Duration `yaml:"word_delay" env-default:"30ms"`
	RateLimit      float64       `yaml:"rate_limit" env-default:"1"`
	RateBurst      int           `yaml:"rate_burst" env-default:"3"`
}

// Pricing цены платных планов. Нулевая цена означает индивидуальное предложение.
type Pricing struct {
	Currency     string  `yaml:"currency" env-default:"USD"`
	BasicMonthly float64 `yaml:"basic_monthly" env-default:"20"`
	BasicYearly  float64 `yaml:"basic_yearly" env-default:"200"`
	ProMonthly   float64 `yaml:"pro_monthly" env-default:"50"`
	ProYearly    float64 `yaml:"pro_yearly" env-default:"500"`
	CustomPrice  float64 `yaml:"custom_price"`
}

// MustLoad функция для загрузки конфига, возвращает конфиг, сгенерированный из config/config.go
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Load читает конфиг по пути и проверяет согласованность драйверов.
func Load(path string) (*Config, error) {
	const op = "config.Load"
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "json":
	case "postgres":
		if c.StorageConnectionString == "" {
			return fmt.Errorf("storage.storage_connection_string is required for postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Sessions.Driver != "storage" && c.Sessions.Driver != "redis" {
		return fmt.Errorf("unknown sessions driver %q", c.Sessions.Driver)
	}
	if c.Lock.Driver != "local" && c.Lock.Driver != "redis" {
		return fmt.Errorf("unknown lock driver %q", c.Lock.Driver)
	}
	if (c.Sessions.Driver == "redis" || c.Lock.Driver == "redis") && c.AddressRedis == "" {
		return fmt.Errorf("redis_connection.addressredis is required for redis drivers")
	}
	return nil
}

// UsesRedis сообщает, нужен ли сервису redis.
func (c *Config) UsesRedis() bool {
	return c.Sessions.Driver == "redis" || c.Lock.Driver == "redis"
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"Storage:\n"+
			"  Driver: %s\n"+
			"  DataDir: %s\n"+
			"Sessions:\n"+
			"  Driver: %s\n"+
			"  TTL: %s\n"+
			"Lock:\n"+
			"  Driver: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"RabbitMQ:\n"+
			"  Enabled: %t\n"+
			"LLM:\n"+
			"  BaseURL: %s\n"+
			"  Model: %s\n",
		c.Env,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		c.Storage.Driver,
		c.DataDir,
		c.Sessions.Driver,
		c.TTL,
		c.Lock.Driver,
		c.AddressRedis,
		c.DB,
		c.RabbitMQURL != "",
		c.BaseURL,
		c.Model,
	)
}
