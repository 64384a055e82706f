package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort   string
	ServerHost   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LogLevel     string
	APITokenHash string
	APIRateLimit int

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	AlertDedupTTL time.Duration

	// Alert delivery: "kafka" (Redis ledger, Kafka topic) or "memory"
	AlertBackend string

	// Kafka
	KafkaBrokers    []string
	KafkaGroupID    string
	AlertTopic      string
	AlertAckTopic   string
	KafkaAckEnabled bool

	// FHIR data source
	FHIRBaseURL        string
	FHIRTokenURL       string
	FHIRClientID       string
	FHIRClientSecret   string
	FHIRScopes         []string
	FHIRTimeout        time.Duration
	FHIRRetryAttempts  int
	FHIRRequestsPerSec int
	FHIRFixturePath    string

	// Text classification
	NLPMode      string
	LLMAPIKey    string
	LLMBaseURL   string
	LLMModelName string
	LLMTimeout   time.Duration

	// Masking rules for note text sent to the LLM; empty uses the defaults.
	RedactionRulesPath string

	// Schedules (cron syntax)
	TriggerScanSchedule   string
	DeadlineSweepSchedule string
	RecomputeSchedule     string

	// Monitor
	StoreBackend        string
	MaxParallelPatients int
	DedupTolerance      time.Duration
	EnabledBundles      []string
	BundleCatalogPath   string
	TerminologyPath     string

	Thresholds Thresholds
}

// Thresholds holds the clinical cutoffs used by the protocol checkers.
type Thresholds struct {
	LactateMmolL          float64
	CSFWBCPleocytosis     float64
	ALTElevatedUL         float64
	ProcalcitoninNgML     float64
	ANCPerUL              float64
	CRPMgDL               float64
	FebrileInfantTempC    float64
	CDiffMinAgeYears      float64
	CDiffMinStools        int
	CDiffSymptomHours     float64
	DischargeChecklistMin int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		LactateMmolL:          2.0,
		CSFWBCPleocytosis:     20,
		ALTElevatedUL:         120,
		ProcalcitoninNgML:     0.5,
		ANCPerUL:              4000,
		CRPMgDL:               2.0,
		FebrileInfantTempC:    38.5,
		CDiffMinAgeYears:      3,
		CDiffMinStools:        3,
		CDiffSymptomHours:     48,
		DischargeChecklistMin: 3,
	}
}

func Load() *Config {
	defaults := DefaultThresholds()
	return &Config{
		ServerPort:   getEnv("SERVER_PORT", "8090"),
		ServerHost:   getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		APITokenHash: getEnv("API_TOKEN_HASH", ""),
		APIRateLimit: getIntEnv("API_RATE_LIMIT", 50),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "aegis"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "aegis"),
		PostgresDB:       getEnv("POSTGRES_DB", "aegis"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		AlertDedupTTL: getDuration("ALERT_DEDUP_TTL", 7*24*time.Hour),

		AlertBackend: getEnv("ALERT_BACKEND", "kafka"),

		KafkaBrokers:    getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:    getEnv("KAFKA_GROUP_ID", "bundle-monitor"),
		AlertTopic:      getEnv("ALERT_TOPIC", "guideline-violations"),
		AlertAckTopic:   getEnv("ALERT_ACK_TOPIC", "guideline-violation-acks"),
		KafkaAckEnabled: getBoolEnv("KAFKA_ACK_ENABLED", true),

		FHIRBaseURL:        getEnv("FHIR_BASE_URL", "http://localhost:8080/fhir"),
		FHIRTokenURL:       getEnv("FHIR_TOKEN_URL", ""),
		FHIRClientID:       getEnv("FHIR_CLIENT_ID", ""),
		FHIRClientSecret:   getEnv("FHIR_CLIENT_SECRET", ""),
		FHIRScopes:         getStringSliceEnv("FHIR_SCOPES", []string{"system/*.read"}),
		FHIRTimeout:        getDuration("FHIR_TIMEOUT", 15*time.Second),
		FHIRRetryAttempts:  getIntEnv("FHIR_RETRY_ATTEMPTS", 3),
		FHIRRequestsPerSec: getIntEnv("FHIR_REQUESTS_PER_SEC", 20),
		FHIRFixturePath:    getEnv("FHIR_FIXTURE_PATH", ""),

		NLPMode:      getEnv("NLP_MODE", "keyword"),
		LLMAPIKey:    getEnv("LLM_API_KEY", ""),
		LLMBaseURL:   getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMModelName: getEnv("LLM_MODEL_NAME", "gpt-4"),
		LLMTimeout:   getDuration("LLM_TIMEOUT", 20*time.Second),

		RedactionRulesPath: getEnv("REDACTION_RULES_PATH", ""),

		TriggerScanSchedule:   getEnv("TRIGGER_SCAN_SCHEDULE", "@every 5m"),
		DeadlineSweepSchedule: getEnv("DEADLINE_SWEEP_SCHEDULE", "@every 1m"),
		RecomputeSchedule:     getEnv("RECOMPUTE_SCHEDULE", "@every 10m"),

		StoreBackend:        getEnv("STORE_BACKEND", "postgres"),
		MaxParallelPatients: getIntEnv("MAX_PARALLEL_PATIENTS", 4),
		DedupTolerance:      getDuration("TRIGGER_DEDUP_TOLERANCE", 0),
		EnabledBundles:      getStringSliceEnv("ENABLED_BUNDLES", nil),
		BundleCatalogPath:   getEnv("BUNDLE_CATALOG_PATH", ""),
		TerminologyPath:     getEnv("TERMINOLOGY_PATH", ""),

		Thresholds: Thresholds{
			LactateMmolL:          getFloatEnv("LACTATE_THRESHOLD", defaults.LactateMmolL),
			CSFWBCPleocytosis:     getFloatEnv("CSF_WBC_PLEOCYTOSIS", defaults.CSFWBCPleocytosis),
			ALTElevatedUL:         getFloatEnv("ALT_ELEVATED", defaults.ALTElevatedUL),
			ProcalcitoninNgML:     getFloatEnv("PROCALCITONIN_THRESHOLD", defaults.ProcalcitoninNgML),
			ANCPerUL:              getFloatEnv("ANC_THRESHOLD", defaults.ANCPerUL),
			CRPMgDL:               getFloatEnv("CRP_THRESHOLD", defaults.CRPMgDL),
			FebrileInfantTempC:    getFloatEnv("FEBRILE_INFANT_TEMP_C", defaults.FebrileInfantTempC),
			CDiffMinAgeYears:      getFloatEnv("CDIFF_MIN_AGE_YEARS", defaults.CDiffMinAgeYears),
			CDiffMinStools:        getIntEnv("CDIFF_MIN_STOOLS", defaults.CDiffMinStools),
			CDiffSymptomHours:     getFloatEnv("CDIFF_SYMPTOM_HOURS", defaults.CDiffSymptomHours),
			DischargeChecklistMin: getIntEnv("DISCHARGE_CHECKLIST_MIN", defaults.DischargeChecklistMin),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
