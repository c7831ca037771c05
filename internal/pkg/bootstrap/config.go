package bootstrap

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Duration 让 yaml 里可以写 "30s"、"5m" 这样的时长。
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", value.Value)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config 是所有服务共享的配置结构，按需取用自己的部分。
type Config struct {
	LogLevel string `yaml:"log_level"`

	Infra struct {
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Kafka struct {
			Brokers []string `yaml:"brokers"`
		} `yaml:"kafka"`
		Mysql struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Redis struct {
			Addrs string `yaml:"addrs"`
		} `yaml:"redis"`
		Zookeeper struct {
			Servers []string `yaml:"servers"`
		} `yaml:"zookeeper"`
		Nacos struct {
			Enabled   bool   `yaml:"enabled"`
			Addrs     string `yaml:"addrs"`
			Namespace string `yaml:"namespace"`
			Group     string `yaml:"group"`
		} `yaml:"nacos"`
	} `yaml:"infra"`

	Order struct {
		ProcessingTimeout Duration `yaml:"processing_timeout"`
		PaymentURL        string   `yaml:"payment_url"`
		PaymentTimeout    Duration `yaml:"payment_timeout"`
		PaymentRetries    int      `yaml:"payment_retries"`
		StuckThreshold    Duration `yaml:"stuck_threshold"`
		SweepInterval     Duration `yaml:"sweep_interval"`
		// CEL 表达式，全部为 true 才允许下单
		ValidationRules []string `yaml:"validation_rules"`
	} `yaml:"order"`

	Flashsale struct {
		ReconcileInterval Duration `yaml:"reconcile_interval"`
	} `yaml:"flashsale"`
}

var currentConfig *Config

// GetCurrentConfig 返回进程内的配置单例，必须在 StartService 之后调用。
func GetCurrentConfig() *Config {
	return currentConfig
}

// LoadConfig 读取 yaml 配置并叠加环境变量覆盖。
// 文件不存在时直接使用默认值，方便本地起服务。
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	path := getEnv("CONFIG_FILE", "configs/config.yaml")
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", path)
		}
	}

	// 环境变量优先级最高，容器部署时逐项覆盖
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		cfg.Infra.Mysql.DSN = v
	}
	if v := os.Getenv("REDIS_ADDRS"); v != "" {
		cfg.Infra.Redis.Addrs = v
	}
	if v := os.Getenv("ZK_SERVERS"); v != "" {
		cfg.Infra.Zookeeper.Servers = strings.Split(v, ",")
	}
	if v := os.Getenv("JAEGER_ENDPOINT"); v != "" {
		cfg.Infra.Jaeger.Endpoint = v
	}
	if v := os.Getenv("NACOS_SERVER_ADDRS"); v != "" {
		cfg.Infra.Nacos.Addrs = v
		cfg.Infra.Nacos.Enabled = true
	}
	if v := os.Getenv("NACOS_NAMESPACE"); v != "" {
		cfg.Infra.Nacos.Namespace = v
	}
	if v := os.Getenv("NACOS_GROUP"); v != "" {
		cfg.Infra.Nacos.Group = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	currentConfig = cfg
	return cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.LogLevel = "info"
	cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Infra.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Infra.Mysql.DSN = "root:root@tcp(localhost:3306)/mall?parseTime=true&charset=utf8mb4"
	cfg.Infra.Redis.Addrs = "localhost:6379"
	cfg.Infra.Zookeeper.Servers = []string{"localhost:2181"}
	cfg.Infra.Nacos.Group = "DEFAULT_GROUP"
	cfg.Order.ProcessingTimeout = Duration(30 * time.Second)
	cfg.Order.PaymentURL = "http://localhost:9090/payments"
	cfg.Order.PaymentTimeout = Duration(5 * time.Second)
	cfg.Order.PaymentRetries = 3
	cfg.Order.StuckThreshold = Duration(10 * time.Minute)
	cfg.Order.SweepInterval = Duration(1 * time.Minute)
	cfg.Flashsale.ReconcileInterval = Duration(5 * time.Second)
	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
