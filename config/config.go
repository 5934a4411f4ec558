package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

type Config struct {
	ServiceName string
	LoggerLevel string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string

	TelegramBotToken string

	// Broadcast groups per vertical.
	GroupTaxiID     string
	GroupCafeID     string
	GroupPharmacyID string
	GroupPorterID   string
	GroupShopID     string

	// Commission schedule (soms).
	TaxiCommission        float64
	TaxiCheapCommission   float64
	TaxiPriceThreshold    float64
	PorterCommission      float64
	CargoCommission       float64
	ShopperCommission     float64
	PharmacyCommission    float64
	PharmacyDeliveryFee   float64
	CafeCommissionPercent float64
	MinDriverBalance      float64
	RamadanMode           bool

	// Auction deadlines.
	TaxiResponseTimeout  time.Duration
	CafeAuctionTimeout   time.Duration
	PharmacyTimeout      time.Duration
	AcceptedCleanupDelay time.Duration

	SchedulerInterval time.Duration
	CancelGraceWindow time.Duration
}

func Load() Config {
	_ = godotenv.Load(".env")

	cfg := Config{}

	cfg.ServiceName = cast.ToString(getOrReturnDefault("SERVICE_NAME", "dispatchbot"))
	cfg.LoggerLevel = cast.ToString(getOrReturnDefault("LOGGER_LEVEL", "debug"))

	cfg.PostgresHost = cast.ToString(getOrReturnDefault("POSTGRES_HOST", "localhost"))
	cfg.PostgresPort = cast.ToString(getOrReturnDefault("POSTGRES_PORT", "5432"))
	cfg.PostgresUser = cast.ToString(getOrReturnDefault("POSTGRES_USER", "postgres"))
	cfg.PostgresPassword = cast.ToString(getOrReturnDefault("POSTGRES_PASSWORD", "1234"))
	cfg.PostgresDB = cast.ToString(getOrReturnDefault("POSTGRES_DB", "dispatchbot"))

	cfg.TelegramBotToken = cast.ToString(getOrReturnDefault("TG_BOT_TOKEN", ""))

	cfg.GroupTaxiID = cast.ToString(getOrReturnDefault("GROUP_TAXI_ID", ""))
	cfg.GroupCafeID = cast.ToString(getOrReturnDefault("GROUP_CAFE_ID", ""))
	cfg.GroupPharmacyID = cast.ToString(getOrReturnDefault("GROUP_PHARMACY_ID", ""))
	cfg.GroupPorterID = cast.ToString(getOrReturnDefault("GROUP_PORTER_ID", ""))
	cfg.GroupShopID = cast.ToString(getOrReturnDefault("GROUP_SHOP_ID", ""))

	cfg.TaxiCommission = cast.ToFloat64(getOrReturnDefault("TAXI_COMMISSION", 10))
	cfg.TaxiCheapCommission = cast.ToFloat64(getOrReturnDefault("TAXI_CHEAP_COMMISSION", 5))
	cfg.TaxiPriceThreshold = cast.ToFloat64(getOrReturnDefault("TAXI_PRICE_THRESHOLD", 70))
	cfg.PorterCommission = cast.ToFloat64(getOrReturnDefault("PORTER_COMMISSION", 20))
	cfg.CargoCommission = cast.ToFloat64(getOrReturnDefault("CARGO_COMMISSION", 10))
	cfg.ShopperCommission = cast.ToFloat64(getOrReturnDefault("SHOPPER_COMMISSION", 10))
	cfg.PharmacyCommission = cast.ToFloat64(getOrReturnDefault("PHARMACY_COMMISSION", 10))
	cfg.PharmacyDeliveryFee = cast.ToFloat64(getOrReturnDefault("PHARMACY_DELIVERY_FEE", 30))
	cfg.CafeCommissionPercent = cast.ToFloat64(getOrReturnDefault("CAFE_COMMISSION_PERCENT", 5))
	cfg.MinDriverBalance = cast.ToFloat64(getOrReturnDefault("MIN_DRIVER_BALANCE", 10))
	cfg.RamadanMode = cast.ToBool(getOrReturnDefault("RAMADAN_MODE", false))

	cfg.TaxiResponseTimeout = cast.ToDuration(getOrReturnDefault("TAXI_RESPONSE_TIMEOUT", "5m"))
	cfg.CafeAuctionTimeout = cast.ToDuration(getOrReturnDefault("CAFE_AUCTION_TIMEOUT", "2m"))
	cfg.PharmacyTimeout = cast.ToDuration(getOrReturnDefault("PHARMACY_TIMEOUT", "3m"))
	cfg.AcceptedCleanupDelay = cast.ToDuration(getOrReturnDefault("ACCEPTED_CLEANUP_DELAY", "30m"))

	cfg.SchedulerInterval = cast.ToDuration(getOrReturnDefault("SCHEDULER_INTERVAL", "30s"))
	cfg.CancelGraceWindow = cast.ToDuration(getOrReturnDefault("CANCEL_GRACE_WINDOW", "30s"))

	return cfg
}

func getOrReturnDefault(key string, defaultValue interface{}) interface{} {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}
