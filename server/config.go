package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config represents the server configuration
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	AWS struct {
		Region   string `yaml:"region"`
		Endpoint string `yaml:"endpoint"`
		S3       struct {
			BucketName string `yaml:"bucket_name"`
		} `yaml:"s3"`
	} `yaml:"aws"`
	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`
	Redis struct {
		Address string `yaml:"address"`
		TTL     int    `yaml:"ttl"`
	} `yaml:"redis"`
	Auth struct {
		Password string `yaml:"password"`
	} `yaml:"auth"`
	Log struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
	} `yaml:"log"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(path string) (*Config, error) {
	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	// Parse the YAML
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}

	// Set defaults
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.AWS.Region == "" {
		config.AWS.Region = "us-east-1"
	}
	if config.AWS.S3.BucketName == "" {
		config.AWS.S3.BucketName = "filedrop-files"
	}
	if config.SQLite.Path == "" {
		config.SQLite.Path = "filedrop.db"
	}
	if config.Redis.TTL == 0 {
		config.Redis.TTL = 3600
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "console"
	}
	if config.Log.MaxSizeMB == 0 {
		config.Log.MaxSizeMB = 100
	}
	if config.Log.MaxBackups == 0 {
		config.Log.MaxBackups = 3
	}

	// The auth password may come from the environment instead of the file
	if envPassword := os.Getenv("AUTH_PASSWORD"); envPassword != "" {
		config.Auth.Password = envPassword
	}

	return &config, nil
}
