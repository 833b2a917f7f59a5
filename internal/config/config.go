/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the lifecycle-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort     string `mapstructure:"SERVER_PORT"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`
	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	InboundQueue   string `mapstructure:"WA_INBOUND_QUEUE"`

	WhatsAppAPIBaseURL    string `mapstructure:"WHATSAPP_API_BASE_URL"`
	WhatsAppPhoneNumberID string `mapstructure:"WHATSAPP_PHONE_NUMBER_ID"`
	WhatsAppAccessToken   string `mapstructure:"WHATSAPP_ACCESS_TOKEN"`
	WhatsAppAppSecret     string `mapstructure:"WHATSAPP_APP_SECRET"`
	WhatsAppVerifyToken   string `mapstructure:"WHATSAPP_VERIFY_TOKEN"`
	WhatsAppLanguageCode  string `mapstructure:"WHATSAPP_LANGUAGE_CODE"`

	CardcomAPIBaseURL     string `mapstructure:"CARDCOM_API_BASE_URL"`
	CardcomTerminalNumber string `mapstructure:"CARDCOM_TERMINAL_NUMBER"`
	CardcomAPIName        string `mapstructure:"CARDCOM_API_NAME"`

	BioStarAPIBaseURL string `mapstructure:"BIOSTAR_API_BASE_URL"`
	BioStarSessionKey string `mapstructure:"BIOSTAR_SESSION_KEY"`

	DefaultCountryCode   string `mapstructure:"DEFAULT_COUNTRY_CODE"`
	MembershipExpiryDays int    `mapstructure:"MEMBERSHIP_EXPIRY_DAYS"`

	PublicBaseURL     string `mapstructure:"PUBLIC_BASE_URL"`
	CheckoutBaseURL   string `mapstructure:"CHECKOUT_BASE_URL"`
	HealthFormBaseURL string `mapstructure:"HEALTH_FORM_BASE_URL"`
	FaceEnrollBaseURL string `mapstructure:"FACE_ENROLL_BASE_URL"`

	AdminJWTSecret            string `mapstructure:"ADMIN_JWT_SECRET"`
	WebhookRateLimitPerMinute int    `mapstructure:"WEBHOOK_RATE_LIMIT_PER_MINUTE"`

	MembershipExpirySchedule string `mapstructure:"MEMBERSHIP_EXPIRY_SCHEDULE"`
	LeadNudgeSchedule        string `mapstructure:"LEAD_NUDGE_SCHEDULE"`
	LeadNudgeAfterHours      int    `mapstructure:"LEAD_NUDGE_AFTER_HOURS"`
	LeadNudgeBatchLimit      int    `mapstructure:"LEAD_NUDGE_BATCH_LIMIT"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_KEY_PREFIX", "suncare:guard")
	viper.SetDefault("WA_INBOUND_QUEUE", "lifecycle_service.wa_inbound")
	viper.SetDefault("WHATSAPP_API_BASE_URL", "https://graph.facebook.com/v19.0")
	viper.SetDefault("WHATSAPP_LANGUAGE_CODE", "he")
	viper.SetDefault("CARDCOM_API_BASE_URL", "https://secure.cardcom.solutions")
	viper.SetDefault("DEFAULT_COUNTRY_CODE", "972")
	viper.SetDefault("MEMBERSHIP_EXPIRY_DAYS", 90)
	viper.SetDefault("WEBHOOK_RATE_LIMIT_PER_MINUTE", 60)
	viper.SetDefault("MEMBERSHIP_EXPIRY_SCHEDULE", "@daily")
	viper.SetDefault("LEAD_NUDGE_SCHEDULE", "0 * * * *")
	viper.SetDefault("LEAD_NUDGE_AFTER_HOURS", 24)
	viper.SetDefault("LEAD_NUDGE_BATCH_LIMIT", 100)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("WA_INBOUND_QUEUE")
	_ = viper.BindEnv("WHATSAPP_API_BASE_URL")
	_ = viper.BindEnv("WHATSAPP_PHONE_NUMBER_ID")
	_ = viper.BindEnv("WHATSAPP_ACCESS_TOKEN")
	_ = viper.BindEnv("WHATSAPP_APP_SECRET")
	_ = viper.BindEnv("WHATSAPP_VERIFY_TOKEN")
	_ = viper.BindEnv("WHATSAPP_LANGUAGE_CODE")
	_ = viper.BindEnv("CARDCOM_API_BASE_URL")
	_ = viper.BindEnv("CARDCOM_TERMINAL_NUMBER")
	_ = viper.BindEnv("CARDCOM_API_NAME")
	_ = viper.BindEnv("BIOSTAR_API_BASE_URL")
	_ = viper.BindEnv("BIOSTAR_SESSION_KEY")
	_ = viper.BindEnv("DEFAULT_COUNTRY_CODE")
	_ = viper.BindEnv("MEMBERSHIP_EXPIRY_DAYS")
	_ = viper.BindEnv("PUBLIC_BASE_URL")
	_ = viper.BindEnv("CHECKOUT_BASE_URL")
	_ = viper.BindEnv("HEALTH_FORM_BASE_URL")
	_ = viper.BindEnv("FACE_ENROLL_BASE_URL")
	_ = viper.BindEnv("ADMIN_JWT_SECRET")
	_ = viper.BindEnv("WEBHOOK_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("MEMBERSHIP_EXPIRY_SCHEDULE")
	_ = viper.BindEnv("LEAD_NUDGE_SCHEDULE")
	_ = viper.BindEnv("LEAD_NUDGE_AFTER_HOURS")
	_ = viper.BindEnv("LEAD_NUDGE_BATCH_LIMIT")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should log and fall back to environment values.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	// Platform PaaS providers inject PORT rather than SERVER_PORT.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisKeyPrefix = strings.TrimSpace(config.RedisKeyPrefix)
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = "suncare:guard"
	}
	config.DefaultCountryCode = strings.TrimSpace(config.DefaultCountryCode)
	config.PublicBaseURL = strings.TrimRight(strings.TrimSpace(config.PublicBaseURL), "/")

	if config.MembershipExpiryDays <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive MEMBERSHIP_EXPIRY_DAYS; using default\" value=%d", config.MembershipExpiryDays)
		config.MembershipExpiryDays = 90
	}
	if config.LeadNudgeAfterHours <= 0 {
		config.LeadNudgeAfterHours = 24
	}

	// WhatsApp-launched pages default to the public base URL when not
	// overridden per surface.
	if config.CheckoutBaseURL == "" && config.PublicBaseURL != "" {
		config.CheckoutBaseURL = config.PublicBaseURL + "/checkout"
	}
	if config.HealthFormBaseURL == "" && config.PublicBaseURL != "" {
		config.HealthFormBaseURL = config.PublicBaseURL + "/health-form"
	}
	if config.FaceEnrollBaseURL == "" && config.PublicBaseURL != "" {
		config.FaceEnrollBaseURL = config.PublicBaseURL + "/face-enroll"
	}

	return
}
