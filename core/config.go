package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host            string
		DebugHost       string
		ShutdownTimeout time.Duration
		DisableReqLogs  bool
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	// ClientConfig configures the learner-side recovery service.
	ClientConfig struct {
		APIBaseURL     string
		StorePath      string
		FlushInterval  time.Duration
		PingInterval   time.Duration
		RequestTimeout time.Duration
		MaxRetries     int
	}

	Config struct {
		AppName        string
		Build          string
		Env            string
		Debug          bool
		TestMode       bool
		WorkDir        string
		RollbarToken   string
		SendgridApiKey string
		AdminEmails    []string

		Server   ServerConfig
		Database DatabaseConfig
		Client   ClientConfig

		defaultFromEmail string
	}
)

func (c DatabaseConfig) Address() string {
	if c.Port == "" {
		return c.Host
	}
	return c.Host + ":" + c.Port
}

func (c *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(c.defaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: "noreply@localhost"}
	}
	if addr.Name == "" {
		addr.Name = c.AppName
	}
	return *addr
}

// AdminAddresses parses AdminEmails, skipping invalid entries.
func (c *Config) AdminAddresses() []mail.Address {
	addrs := make([]mail.Address, 0, len(c.AdminEmails))
	for _, e := range c.AdminEmails {
		if a, err := mail.ParseAddress(CleanString(e)); err == nil {
			addrs = append(addrs, *a)
		}
	}
	return addrs
}

func newViper() *viper.Viper {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "IBAM")
	v.SetDefault("build", "develop")
	v.SetDefault("defaultFromEmail", "IBAM <noreply@localhost>")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("adminEmails", []string{})

	v.SetDefault("server.host", "0.0.0.0:8000")
	v.SetDefault("server.debugHost", "0.0.0.0:4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.disableReqLogs", false)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "learnsync")
	v.SetDefault("database.user", "learnsync")
	v.SetDefault("database.password", "")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("client.apiBaseURL", "http://localhost:8000")
	v.SetDefault("client.storePath", "learnsync.db")
	v.SetDefault("client.flushInterval", 30*time.Second)
	v.SetDefault("client.pingInterval", 5*time.Second)
	v.SetDefault("client.requestTimeout", 10*time.Second)
	v.SetDefault("client.maxRetries", 5)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	case "PROD":
		v.SetDefault("debug", false)
	}
	v.SetDefault("env", env)
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()
	return v
}

// NewConfig reads the configuration from defaults, `config/.env.<env>` and the environment.
// Environment variables are prefixed with the upper-cased env, e.g. `DEV_DATABASE_HOST`.
func NewConfig() *Config {
	v := newViper()

	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("config.os.Getwd(): %v", err)
	}

	return &Config{
		AppName:          v.GetString("appName"),
		Build:            v.GetString("build"),
		Env:              v.GetString("env"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		WorkDir:          wd,
		RollbarToken:     v.GetString("rollbarToken"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		AdminEmails:      SplitList(v.GetStringSlice("adminEmails")...),
		defaultFromEmail: v.GetString("defaultFromEmail"),
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			DebugHost:       v.GetString("server.debugHost"),
			ShutdownTimeout: v.GetDuration("server.shutdownTimeout"),
			DisableReqLogs:  v.GetBool("server.disableReqLogs"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Client: ClientConfig{
			APIBaseURL:     v.GetString("client.apiBaseURL"),
			StorePath:      v.GetString("client.storePath"),
			FlushInterval:  v.GetDuration("client.flushInterval"),
			PingInterval:   v.GetDuration("client.pingInterval"),
			RequestTimeout: v.GetDuration("client.requestTimeout"),
			MaxRetries:     v.GetInt("client.maxRetries"),
		},
	}
}

// NewTestConfig returns a config suitable for tests; no environment is read.
func NewTestConfig() *Config {
	return &Config{
		AppName:          "IBAM",
		Build:            "test",
		Env:              "TEST",
		TestMode:         true,
		AdminEmails:      []string{"admin@ibam.test"},
		defaultFromEmail: "IBAM <noreply@ibam.test>",
		Client: ClientConfig{
			FlushInterval:  30 * time.Second,
			PingInterval:   5 * time.Second,
			RequestTimeout: 2 * time.Second,
			MaxRetries:     5,
		},
	}
}
