package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hero-dungeon/dungeond/internal/core/application"
	"github.com/hero-dungeon/dungeond/internal/core/domain"
	"github.com/hero-dungeon/dungeond/internal/core/ports"
	evmchain "github.com/hero-dungeon/dungeond/internal/infrastructure/chain/evm"
	"github.com/hero-dungeon/dungeond/internal/infrastructure/db"
	eventbus "github.com/hero-dungeon/dungeond/internal/infrastructure/eventbus/watermill"
	prometheusmetrics "github.com/hero-dungeon/dungeond/internal/infrastructure/metrics/prometheus"
	hermesoracle "github.com/hero-dungeon/dungeond/internal/infrastructure/oracle/hermes"
	scheduler "github.com/hero-dungeon/dungeond/internal/infrastructure/scheduler/gocron"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const dialTimeout = 30 * time.Second

var (
	supportedDbs = supportedType{
		"badger": {},
		"sqlite": {},
	}
	supportedSchedulers = supportedType{
		"gocron": {},
	}
	supportedSigners = supportedType{
		"key":      {},
		"keystore": {},
		"clef":     {},
	}
)

type Config struct {
	Datadir         string
	Port            uint32
	LogLevel        int
	DbType          string
	DbDir           string
	DbMigrationPath string
	SchedulerType   string

	RpcUrl              string
	ContractAddress     string
	AbiPath             string
	Confirmations       uint64
	ReceiptPollInterval time.Duration
	LogPollInterval     time.Duration
	FallbackGasLimit    uint64
	EnteredEvent        string
	ResolvedEvent       string

	OracleUrl     string
	OracleTimeout time.Duration
	PriceFeedIds  []string

	SignerType       string
	PrivateKey       string `json:"-"`
	KeystoreDir      string
	KeystoreAccount  string
	KeystorePassword string `json:"-"`
	ClefUrl          string

	OutcomeTimeout        time.Duration
	OtelCollectorEndpoint string

	// SignerConfirm, if set, is asked to approve every transaction.
	SignerConfirm evmchain.ConfirmFunc `json:"-"`

	feedIds   []domain.PriceFeedId
	repo      ports.RepoManager
	oracle    ports.PriceOracle
	signer    evmchain.Signer
	contract  ports.GameContract
	bus       ports.EventBus
	scheduler ports.SchedulerService
	metrics   prometheusmetrics.Metrics
	svc       application.Service
}

func (c *Config) String() string {
	json, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	Datadir               = "DATADIR"
	Port                  = "PORT"
	LogLevel              = "LOG_LEVEL"
	DbType                = "DB_TYPE"
	DbMigrationPath       = "DB_MIGRATION_PATH"
	SchedulerType         = "SCHEDULER_TYPE"
	RpcUrl                = "RPC_URL"
	ContractAddress       = "CONTRACT_ADDRESS"
	AbiPath               = "ABI_PATH"
	Confirmations         = "CONFIRMATIONS"
	ReceiptPollInterval   = "RECEIPT_POLL_INTERVAL"
	LogPollInterval       = "LOG_POLL_INTERVAL"
	FallbackGasLimit      = "FALLBACK_GAS_LIMIT"
	EnteredEvent          = "ENTERED_EVENT"
	ResolvedEvent         = "RESOLVED_EVENT"
	OracleUrl             = "ORACLE_URL"
	OracleTimeout         = "ORACLE_TIMEOUT"
	PriceFeedIds          = "PRICE_FEED_IDS"
	SignerType            = "SIGNER_TYPE"
	PrivateKey            = "PRIVATE_KEY"
	KeystoreDir           = "KEYSTORE_DIR"
	KeystoreAccount       = "KEYSTORE_ACCOUNT"
	KeystorePassword      = "KEYSTORE_PASSWORD"
	ClefUrl               = "CLEF_URL"
	OutcomeTimeout        = "OUTCOME_TIMEOUT"
	OtelCollectorEndpoint = "OTEL_COLLECTOR_ENDPOINT"

	defaultDatadir             = appDataDir("dungeond")
	DefaultPort                = 7171
	defaultLogLevel            = 4
	defaultDbType              = "badger"
	defaultSchedulerType       = "gocron"
	defaultContractAddress     = "0x01b4b5227A1234A32b23bdBCF63C354f1253C963"
	defaultConfirmations       = 1
	defaultReceiptPollInterval = 2 * time.Second
	defaultLogPollInterval     = 4 * time.Second
	defaultFallbackGasLimit    = 500_000
	defaultEnteredEvent        = "DungeonEnter"
	defaultResolvedEvent       = "DungeonResult"
	defaultOracleUrl           = "https://hermes.pyth.network"
	defaultOracleTimeout       = 10 * time.Second
	defaultSignerType          = "key"
	defaultOutcomeTimeout      = 10 * time.Minute
	defaultPriceFeedIds        = []string{
		// ETH/USD
		"0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace",
		// BTC/USD
		"0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43",
	}
)

func LoadConfig() (*Config, error) {
	viper.SetEnvPrefix("DUNGEON")
	viper.AutomaticEnv()

	viper.SetDefault(Datadir, defaultDatadir)
	viper.SetDefault(Port, DefaultPort)
	viper.SetDefault(LogLevel, defaultLogLevel)
	viper.SetDefault(DbType, defaultDbType)
	viper.SetDefault(SchedulerType, defaultSchedulerType)
	viper.SetDefault(ContractAddress, defaultContractAddress)
	viper.SetDefault(Confirmations, defaultConfirmations)
	viper.SetDefault(ReceiptPollInterval, defaultReceiptPollInterval)
	viper.SetDefault(LogPollInterval, defaultLogPollInterval)
	viper.SetDefault(FallbackGasLimit, defaultFallbackGasLimit)
	viper.SetDefault(EnteredEvent, defaultEnteredEvent)
	viper.SetDefault(ResolvedEvent, defaultResolvedEvent)
	viper.SetDefault(OracleUrl, defaultOracleUrl)
	viper.SetDefault(OracleTimeout, defaultOracleTimeout)
	viper.SetDefault(PriceFeedIds, defaultPriceFeedIds)
	viper.SetDefault(SignerType, defaultSignerType)
	viper.SetDefault(OutcomeTimeout, defaultOutcomeTimeout)

	if err := initDatadir(); err != nil {
		return nil, fmt.Errorf("error while creating datadir: %s", err)
	}

	dbPath := filepath.Join(viper.GetString(Datadir), "db")

	return &Config{
		Datadir:               viper.GetString(Datadir),
		Port:                  viper.GetUint32(Port),
		LogLevel:              viper.GetInt(LogLevel),
		DbType:                viper.GetString(DbType),
		DbDir:                 dbPath,
		DbMigrationPath:       viper.GetString(DbMigrationPath),
		SchedulerType:         viper.GetString(SchedulerType),
		RpcUrl:                viper.GetString(RpcUrl),
		ContractAddress:       viper.GetString(ContractAddress),
		AbiPath:               viper.GetString(AbiPath),
		Confirmations:         viper.GetUint64(Confirmations),
		ReceiptPollInterval:   viper.GetDuration(ReceiptPollInterval),
		LogPollInterval:       viper.GetDuration(LogPollInterval),
		FallbackGasLimit:      viper.GetUint64(FallbackGasLimit),
		EnteredEvent:          viper.GetString(EnteredEvent),
		ResolvedEvent:         viper.GetString(ResolvedEvent),
		OracleUrl:             viper.GetString(OracleUrl),
		OracleTimeout:         viper.GetDuration(OracleTimeout),
		PriceFeedIds:          splitList(viper.GetStringSlice(PriceFeedIds)),
		SignerType:            viper.GetString(SignerType),
		PrivateKey:            viper.GetString(PrivateKey),
		KeystoreDir:           viper.GetString(KeystoreDir),
		KeystoreAccount:       viper.GetString(KeystoreAccount),
		KeystorePassword:      viper.GetString(KeystorePassword),
		ClefUrl:               viper.GetString(ClefUrl),
		OutcomeTimeout:        viper.GetDuration(OutcomeTimeout),
		OtelCollectorEndpoint: viper.GetString(OtelCollectorEndpoint),
	}, nil
}

func initDatadir() error {
	datadir := viper.GetString(Datadir)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

// Validate checks the settings and builds the services, it connects to the
// node to bind the game contract.
func (c *Config) Validate() error {
	if !supportedDbs.supports(c.DbType) {
		return fmt.Errorf("db type not supported, please select one of: %s", supportedDbs)
	}
	if !supportedSchedulers.supports(c.SchedulerType) {
		return fmt.Errorf("scheduler type not supported, please select one of: %s", supportedSchedulers)
	}
	if !supportedSigners.supports(c.SignerType) {
		return fmt.Errorf("signer type not supported, please select one of: %s", supportedSigners)
	}
	if len(c.RpcUrl) <= 0 {
		return fmt.Errorf("missing rpc url")
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("invalid contract address %s", c.ContractAddress)
	}
	if c.OutcomeTimeout < 0 {
		return fmt.Errorf("invalid outcome timeout, must not be negative")
	}
	if c.Confirmations <= 0 {
		return fmt.Errorf("invalid confirmations, must be at least 1")
	}

	feedIds, err := domain.ParsePriceFeedIds(c.PriceFeedIds)
	if err != nil {
		return fmt.Errorf("invalid price feed ids: %s", err)
	}
	c.feedIds = feedIds

	if err := c.oracleService(); err != nil {
		return err
	}
	if err := c.signerService(); err != nil {
		return err
	}
	if err := c.repoManager(); err != nil {
		return err
	}
	if err := c.contractService(); err != nil {
		return err
	}
	if err := c.schedulerService(); err != nil {
		return err
	}
	c.bus = eventbus.NewEventBus()
	c.metrics = prometheusmetrics.NewMetrics()
	return nil
}

func (c *Config) AppService() (application.Service, error) {
	if c.svc == nil {
		if err := c.appService(); err != nil {
			return nil, err
		}
	}
	return c.svc, nil
}

func (c *Config) EventBus() ports.EventBus {
	return c.bus
}

func (c *Config) Metrics() prometheusmetrics.Metrics {
	return c.metrics
}

func (c *Config) repoManager() error {
	var dataStoreConfig []interface{}
	switch c.DbType {
	case "badger":
		dataStoreConfig = []interface{}{c.DbDir, log.New()}
	case "sqlite":
		dataStoreConfig = []interface{}{c.DbDir, c.DbMigrationPath}
	default:
		return fmt.Errorf("unknown db type")
	}

	svc, err := db.NewService(db.ServiceConfig{
		DataStoreType:   c.DbType,
		DataStoreConfig: dataStoreConfig,
	})
	if err != nil {
		return err
	}

	c.repo = svc
	return nil
}

func (c *Config) oracleService() error {
	svc, err := hermesoracle.NewOracle(c.OracleUrl, c.OracleTimeout)
	if err != nil {
		return err
	}
	c.oracle = svc
	return nil
}

func (c *Config) signerService() error {
	var signer evmchain.Signer
	var err error
	switch c.SignerType {
	case "key":
		signer, err = evmchain.NewLocalSignerFromHex(c.PrivateKey)
	case "keystore":
		signer, err = evmchain.NewKeystoreSigner(c.KeystoreDir, c.KeystoreAccount, c.KeystorePassword)
	case "clef":
		signer, err = evmchain.NewClefSigner(c.ClefUrl, c.KeystoreAccount)
	default:
		err = fmt.Errorf("unknown signer type")
	}
	if err != nil {
		return err
	}

	if c.SignerConfirm != nil {
		signer = evmchain.NewConfirmingSigner(signer, c.SignerConfirm)
	}
	c.signer = signer
	return nil
}

func (c *Config) contractService() error {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	svc, err := evmchain.NewGameContract(ctx, evmchain.Config{
		RpcUrl:              c.RpcUrl,
		ContractAddress:     common.HexToAddress(c.ContractAddress),
		AbiPath:             c.AbiPath,
		Confirmations:       c.Confirmations,
		ReceiptPollInterval: c.ReceiptPollInterval,
		LogPollInterval:     c.LogPollInterval,
		FallbackGasLimit:    c.FallbackGasLimit,
		EnteredEvent:        c.EnteredEvent,
		ResolvedEvent:       c.ResolvedEvent,
	}, c.signer)
	if err != nil {
		return err
	}
	c.contract = svc
	return nil
}

func (c *Config) schedulerService() error {
	var svc ports.SchedulerService
	var err error
	switch c.SchedulerType {
	case "gocron":
		svc = scheduler.NewScheduler()
	default:
		err = fmt.Errorf("unknown scheduler type")
	}
	if err != nil {
		return err
	}

	c.scheduler = svc
	return nil
}

func (c *Config) appService() error {
	if c.contract == nil {
		return fmt.Errorf("config not validated")
	}
	svc, err := application.NewService(
		application.Config{
			FeedIds:        c.feedIds,
			OutcomeTimeout: c.OutcomeTimeout,
		},
		c.oracle, c.contract, c.bus, c.scheduler, c.repo, c.metrics,
	)
	if err != nil {
		return err
	}

	c.svc = svc
	return nil
}

// splitList also accepts a single comma separated value, as env vars are.
func splitList(list []string) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		for _, v := range strings.Split(item, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func appDataDir(appName string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "." + appName
	}
	return filepath.Join(home, "."+appName)
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
