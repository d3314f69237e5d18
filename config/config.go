package config

import (
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"media-pipeline/constant"
)

type Config struct {
	MinIOBucket    string        `yaml:"minio_bucket"`
	MinIOPublicURL string        `yaml:"minio_public_url"`
	App            App           `yaml:"app"`
	Media          Media         `yaml:"media"`
	DB             *sql.DB       `yaml:"db"`
	Queue          *RabbitMQ     `yaml:"rabbitmq"`
	Storage        *minio.Client `yaml:"storage"`
	Redis          *redis.Client `yaml:"redis"`
	Server         Server        `yaml:"server"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
	DeviceClass string `yaml:"device_class"`
}

type Media struct {
	FFmpegPath  string                         `yaml:"ffmpeg_path"`
	FFprobePath string                         `yaml:"ffprobe_path"`
	Devices     map[constant.FacingMode]string `yaml:"devices"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
}

func Load(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.SetDefault("rabbitmq_kind", "topic")
	viper.SetDefault("rabbitmq_exchange", "media_pipeline_events")
	viper.SetDefault("media.ffmpeg_path", "ffmpeg")
	viper.SetDefault("media.ffprobe_path", "ffprobe")
	viper.SetDefault("media.device_user", "/dev/video0")
	viper.SetDefault("media.device_environment", "/dev/video1")
	viper.SetDefault("app.device_class", "desktop")
	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", viper.GetString("postgresql_host"))
	if err != nil {
		return nil, err
	}

	rabbitmq := &RabbitMQ{
		Host:         viper.GetString("rabbitmq_host"),
		Port:         viper.GetInt("rabbitmq_port"),
		User:         viper.GetString("rabbitmq_user"),
		Pass:         viper.GetString("rabbitmq_pass"),
		ExchangeName: viper.GetString("rabbitmq_exchange"),
		Kind:         viper.GetString("rabbitmq_kind"),
	}

	minioClient, err := minio.New(viper.GetString("minio.url"), &minio.Options{
		Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
		Secure: false,
	})
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     viper.GetString("redis.addr"),
		Password: viper.GetString("redis.password"),
	})

	return &Config{
		MinIOBucket:    viper.GetString("minio.bucket"),
		MinIOPublicURL: viper.GetString("minio.public_url"),
		App: App{
			Environment: viper.GetString("app.environment"),
			Host:        viper.GetString("app.host"),
			Protocol:    viper.GetString("app.protocol"),
			DeviceClass: viper.GetString("app.device_class"),
		},
		Media: Media{
			FFmpegPath:  viper.GetString("media.ffmpeg_path"),
			FFprobePath: viper.GetString("media.ffprobe_path"),
			Devices: map[constant.FacingMode]string{
				constant.FacingModeUser:        viper.GetString("media.device_user"),
				constant.FacingModeEnvironment: viper.GetString("media.device_environment"),
			},
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
		},
		DB:      db,
		Queue:   rabbitmq,
		Storage: minioClient,
		Redis:   redisClient,
	}, nil
}
