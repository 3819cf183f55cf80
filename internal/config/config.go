// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек движка
type Config struct {
	Env          string `yaml:"env" env:"ENV" env-default:"local"`
	AdminID      int64  `yaml:"admin_id" env:"ADMIN_ID" env-required:"true"`
	StorageDir   string `yaml:"storage_dir" env:"STORAGE_DIR" env-default:"./data"`
	SelfPingURL  string `yaml:"self_ping_url" env:"SELF_PING_URL"`
	Trial        `yaml:"trial"`
	Subscription `yaml:"subscription"`
	KeyPool      `yaml:"key_pool"`
	Generator    `yaml:"generator"`
	HTTPServer   `yaml:"http_server"`
}

// Trial настройки пробного периода
type Trial struct {
	Duration time.Duration `yaml:"duration" env:"TRIAL_DURATION" env-default:"10m"`
	Cooldown time.Duration `yaml:"cooldown" env:"TRIAL_COOLDOWN" env-default:"120h"`
}

// Subscription настройки оплаченной подписки
type Subscription struct {
	Days          int `yaml:"days" env:"SUBSCRIPTION_DAYS" env-default:"25"`
	ImageKeyGrant int `yaml:"image_key_grant" env:"IMAGE_KEY_GRANT" env-default:"10"`
}

// KeyPool настройки пула внешних API-ключей
type KeyPool struct {
	Keys    []string      `yaml:"keys" env:"API_KEYS" env-separator:","`
	Backoff time.Duration `yaml:"backoff" env:"KEY_BACKOFF" env-default:"1m"`
}

// Generator настройки клиента генерации изображений
type Generator struct {
	Endpoint string        `yaml:"endpoint" env:"GENERATOR_ENDPOINT"`
	Model    string        `yaml:"model" env:"GENERATOR_MODEL" env-default:"recraft-v3"`
	Timeout  time.Duration `yaml:"timeout" env:"GENERATOR_TIMEOUT" env-default:"60s"`
}

// HTTPServer структура для настройки keep-alive сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env:"HTTP_ADDRESS" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env:"HTTP_TIMEOUT" env-default:"30s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
}

// MustLoad функция для загрузки конфига; завершает процесс при любой
// неустранимой ошибке конфигурации, включая пустой пул ключей.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	if len(cfg.KeyPool.Keys) == 0 {
		log.Fatal("key pool is empty: at least one API key must be configured")
	}
	return &cfg
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"AdminID: %d\n"+
			"StorageDir: %s\n"+
			"Trial:\n"+
			"  Duration: %s\n"+
			"  Cooldown: %s\n"+
			"Subscription:\n"+
			"  Days: %d\n"+
			"  ImageKeyGrant: %d\n"+
			"KeyPool:\n"+
			"  Keys: %d configured\n"+
			"  Backoff: %s\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n",
		c.Env,
		c.AdminID,
		c.StorageDir,
		c.Trial.Duration,
		c.Trial.Cooldown,
		c.Subscription.Days,
		c.Subscription.ImageKeyGrant,
		len(c.KeyPool.Keys),
		c.KeyPool.Backoff,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
	)
}
