package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/fiscalos/internal/apperrors"
	"github.com/nkiryanov/fiscalos/internal/logger"
)

const (
	defaultListenAddr       = "localhost:8000"
	defaultLoggingLevel     = logger.LevelInfo
	defaultEnvironment      = logger.EnvProduction
	defaultJWTIssuer        = "fiscalos"
	defaultJWTAudience      = "fiscalos-api"
	defaultJWTExpiryMinutes = 5
	defaultKeyRingConfig    = "keyring.yaml"
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the fiscalos service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Environment: production writes JSON logs
	Environment string

	// Access token signing. Secret is required
	JWTSecret        string
	JWTIssuer        string
	JWTAudience      string
	JWTExpiryMinutes int

	// Path to key ring options YAML. The file is watched and reloaded on change or SIGHUP
	KeyRingConfig string

	// Send refresh cookie without Secure flag; local plain HTTP only
	InsecureCookie bool
}

func NewConfig() *Config {
	return &Config{
		LogLevel:         defaultLoggingLevel,
		ListenAddr:       defaultListenAddr,
		Environment:      defaultEnvironment,
		JWTIssuer:        defaultJWTIssuer,
		JWTAudience:      defaultJWTAudience,
		JWTExpiryMinutes: defaultJWTExpiryMinutes,
		KeyRingConfig:    defaultKeyRingConfig,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = n
			return nil
		}
	}
	setBool := func(o *bool) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			b, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}
			*o = b
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":        setString(&c.ListenAddr),
		"DATABASE_URI":       setString(&c.DatabaseDSN),
		"LOG_LEVEL":          setString(&c.LogLevel),
		"ENVIRONMENT":        setString(&c.Environment),
		"JWT_SECRET":         setString(&c.JWTSecret),
		"JWT_ISSUER":         setString(&c.JWTIssuer),
		"JWT_AUDIENCE":       setString(&c.JWTAudience),
		"JWT_EXPIRY_MINUTES": setInt(&c.JWTExpiryMinutes),
		"KEYRING_CONFIG":     setString(&c.KeyRingConfig),
		"INSECURE_COOKIE":    setBool(&c.InsecureCookie),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			return fmt.Errorf("%w: invalid %s. Err: %w", apperrors.ErrConfiguration, key, err)
		}
	}

	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("fiscalos", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (development, production)")
	fs.StringVarP(&c.JWTSecret, "jwt-secret", "s", c.JWTSecret, "Secret to sign access tokens")
	fs.StringVar(&c.JWTIssuer, "jwt-issuer", c.JWTIssuer, "Access token issuer")
	fs.StringVar(&c.JWTAudience, "jwt-audience", c.JWTAudience, "Access token audience")
	fs.IntVar(&c.JWTExpiryMinutes, "jwt-expiry-minutes", c.JWTExpiryMinutes, "Access token lifetime in minutes")
	fs.StringVarP(&c.KeyRingConfig, "keyring-config", "k", c.KeyRingConfig, "Key ring options file")
	fs.BoolVar(&c.InsecureCookie, "insecure-cookie", c.InsecureCookie, "Send refresh cookie without Secure flag")

	return fs.Parse(args)
}

// Validate reports missing settings before anything is started
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database dsn is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt secret is required"))
	}
	if c.JWTExpiryMinutes <= 0 {
		errs = append(errs, fmt.Errorf("jwt expiry must be positive, got %d", c.JWTExpiryMinutes))
	}
	if c.KeyRingConfig == "" {
		errs = append(errs, errors.New("key ring config path is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", apperrors.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}
