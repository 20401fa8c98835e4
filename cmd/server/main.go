package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/athaight/andrewhaight-blog/internal/gateway"
	"github.com/athaight/andrewhaight-blog/internal/httpapi"
	"github.com/athaight/andrewhaight-blog/internal/notifications"
	"github.com/athaight/andrewhaight-blog/internal/storage"
	"github.com/athaight/andrewhaight-blog/internal/verification"
)

const (
	commandUseName              = "server"
	commandShortDescription     = "Run the contact gateway server"
	commandLongDescription      = "Launch the contact submission gateway HTTP server"
	missingConfigurationMessage = "missing required configuration"
	loggerCreationErrorMessage  = "logger"
	logEventListening           = "listening"
	logFieldAddress             = "addr"

	flagNameApplicationAddress  = "app-addr"
	flagNameDatabaseDriver      = "db-driver"
	flagNameDatabaseDSN         = "db-dsn"
	flagNameTurnstileSecret     = "turnstile-secret"
	flagNameIPHashSecret        = "ip-hash-secret"
	flagNameEmailJSServiceID    = "emailjs-service-id"
	flagNameEmailJSTemplateID   = "emailjs-template-id"
	flagNameEmailJSPublicKey    = "emailjs-public-key"
	flagNameButtondownAPIKey    = "buttondown-api-key"
	flagNameAdminBearerToken    = "admin-bearer-token"
	flagUsageApplicationAddress = "address for the HTTP server to listen on"
	flagUsageDatabaseDriver     = "database driver name"
	flagUsageDatabaseDSN        = "database connection string"
	flagUsageTurnstileSecret    = "Turnstile verification secret; submissions fail closed without it"
	flagUsageIPHashSecret       = "secret used to hash client addresses for rate limiting"
	flagUsageEmailJSServiceID   = "EmailJS service identifier for contact notifications"
	flagUsageEmailJSTemplateID  = "EmailJS template identifier for contact notifications"
	flagUsageEmailJSPublicKey   = "EmailJS public key for contact notifications"
	flagUsageButtondownAPIKey   = "Buttondown API key for newsletter signups"
	flagUsageAdminBearerToken   = "bearer token required for admin API access"

	environmentKeyApplicationAddress = "APP_ADDR"
	environmentKeyDatabaseDriver     = "DB_DRIVER"
	environmentKeyDatabaseDSN        = "DB_DSN"
	environmentKeyTurnstileSecret    = "TURNSTILE_SECRET_KEY"
	environmentKeyIPHashSecret       = "CONTACT_IP_HASH_SECRET"
	environmentKeyEmailJSServiceID   = "EMAILJS_SERVICE_ID"
	environmentKeyEmailJSTemplateID  = "EMAILJS_TEMPLATE_ID"
	environmentKeyEmailJSPublicKey   = "EMAILJS_PUBLIC_KEY"
	environmentKeyButtondownAPIKey   = "BUTTONDOWN_API_KEY"
	environmentKeyAdminBearerToken   = "ADMIN_BEARER_TOKEN"

	defaultApplicationAddress = ":8080"
	defaultDatabaseDriver     = storage.DriverNameSQLite

	publicRouteContact   = "/api/contact"
	publicRouteSubscribe = "/api/subscribe"
	adminRoutePrefix     = "/api/admin"
	adminRouteMessages   = "/messages"

	corsOriginWildcard      = "*"
	corsHeaderAuthorization = "Authorization"
	corsHeaderContentType   = "Content-Type"
	httpMethodGet           = "GET"
	httpMethodOptions       = "OPTIONS"
	httpMethodPost          = "POST"

	loggerContextOpenDatabase = "open_db"
	loggerContextAutoMigrate  = "migrate"
	loggerContextServer       = "server"

	readHeaderTimeoutSeconds     = 5
	unexpectedArgumentsMessage   = "unexpected command arguments"
	commandInitializationFailure = "failed to configure command"
	flagNotDefinedMessage        = "flag %s not defined"
	environmentConfigurationErr  = "failed to apply environment configuration"
)

var (
	corsAllowedMethods = []string{httpMethodPost, httpMethodGet, httpMethodOptions}
	corsAllowedHeaders = []string{corsHeaderAuthorization, corsHeaderContentType}
	corsExposedHeaders = []string{corsHeaderContentType}
	corsAllowOrigins   = []string{corsOriginWildcard}
)

type flagBinding struct {
	environmentKey string
	flagName       string
	defaultValue   string
	usage          string
	required       bool
}

var serverFlagBindings = []flagBinding{
	{environmentKey: environmentKeyApplicationAddress, flagName: flagNameApplicationAddress, defaultValue: defaultApplicationAddress, usage: flagUsageApplicationAddress},
	{environmentKey: environmentKeyDatabaseDriver, flagName: flagNameDatabaseDriver, defaultValue: defaultDatabaseDriver, usage: flagUsageDatabaseDriver},
	{environmentKey: environmentKeyDatabaseDSN, flagName: flagNameDatabaseDSN, usage: flagUsageDatabaseDSN, required: true},
	{environmentKey: environmentKeyTurnstileSecret, flagName: flagNameTurnstileSecret, usage: flagUsageTurnstileSecret},
	{environmentKey: environmentKeyIPHashSecret, flagName: flagNameIPHashSecret, usage: flagUsageIPHashSecret},
	{environmentKey: environmentKeyEmailJSServiceID, flagName: flagNameEmailJSServiceID, usage: flagUsageEmailJSServiceID},
	{environmentKey: environmentKeyEmailJSTemplateID, flagName: flagNameEmailJSTemplateID, usage: flagUsageEmailJSTemplateID},
	{environmentKey: environmentKeyEmailJSPublicKey, flagName: flagNameEmailJSPublicKey, usage: flagUsageEmailJSPublicKey},
	{environmentKey: environmentKeyButtondownAPIKey, flagName: flagNameButtondownAPIKey, usage: flagUsageButtondownAPIKey},
	{environmentKey: environmentKeyAdminBearerToken, flagName: flagNameAdminBearerToken, usage: flagUsageAdminBearerToken, required: true},
}

// ServerConfig captures configuration needed to run the server.
type ServerConfig struct {
	ApplicationAddress string
	DatabaseDriver     string
	DatabaseDSN        string
	TurnstileSecret    string
	IPHashSecret       string
	EmailJSServiceID   string
	EmailJSTemplateID  string
	EmailJSPublicKey   string
	ButtondownAPIKey   string
	AdminBearerToken   string
}

// DatabaseOpener opens a database connection using the provided configuration.
type DatabaseOpener func(storage.Config) (*gorm.DB, error)

// ServerApplication constructs and executes the server command.
type ServerApplication struct {
	configurationLoader *viper.Viper
	databaseOpener      DatabaseOpener
}

// NewServerApplication creates a ServerApplication with default dependencies.
func NewServerApplication() *ServerApplication {
	return &ServerApplication{
		configurationLoader: viper.New(),
		databaseOpener:      storage.OpenDatabase,
	}
}

// WithDatabaseOpener overrides the database opener dependency.
func (application *ServerApplication) WithDatabaseOpener(databaseOpener DatabaseOpener) *ServerApplication {
	application.databaseOpener = databaseOpener
	return application
}

// Command builds the Cobra command for the server.
func (application *ServerApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:   commandUseName,
		Short: commandShortDescription,
		Long:  commandLongDescription,
		RunE:  application.runCommand,
	}

	if configurationErr := application.configureCommand(rootCommand); configurationErr != nil {
		return nil, configurationErr
	}

	return rootCommand, nil
}

func (application *ServerApplication) configureCommand(command *cobra.Command) error {
	application.configurationLoader.AutomaticEnv()

	commandFlags := command.Flags()
	for _, binding := range serverFlagBindings {
		application.configurationLoader.SetDefault(binding.environmentKey, binding.defaultValue)
		commandFlags.String(binding.flagName, binding.defaultValue, binding.usage)

		if bindErr := application.bindFlag(commandFlags, binding.environmentKey, binding.flagName); bindErr != nil {
			return bindErr
		}

		if environmentErr := application.applyEnvironmentConfiguration(commandFlags, binding.environmentKey, binding.flagName); environmentErr != nil {
			return environmentErr
		}

		if binding.required {
			if markErr := command.MarkFlagRequired(binding.flagName); markErr != nil {
				return markErr
			}
		}
	}

	return nil
}

func (application *ServerApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}

	if bindErr := application.configurationLoader.BindPFlag(environmentKey, flag); bindErr != nil {
		return bindErr
	}

	return nil
}

func (application *ServerApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}

	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationErr, setErr)
	}

	return nil
}

func (application *ServerApplication) loadConfiguration() ServerConfig {
	loader := application.configurationLoader
	return ServerConfig{
		ApplicationAddress: loader.GetString(environmentKeyApplicationAddress),
		DatabaseDriver:     strings.TrimSpace(loader.GetString(environmentKeyDatabaseDriver)),
		DatabaseDSN:        strings.TrimSpace(loader.GetString(environmentKeyDatabaseDSN)),
		TurnstileSecret:    strings.TrimSpace(loader.GetString(environmentKeyTurnstileSecret)),
		IPHashSecret:       strings.TrimSpace(loader.GetString(environmentKeyIPHashSecret)),
		EmailJSServiceID:   strings.TrimSpace(loader.GetString(environmentKeyEmailJSServiceID)),
		EmailJSTemplateID:  strings.TrimSpace(loader.GetString(environmentKeyEmailJSTemplateID)),
		EmailJSPublicKey:   strings.TrimSpace(loader.GetString(environmentKeyEmailJSPublicKey)),
		ButtondownAPIKey:   strings.TrimSpace(loader.GetString(environmentKeyButtondownAPIKey)),
		AdminBearerToken:   strings.TrimSpace(loader.GetString(environmentKeyAdminBearerToken)),
	}
}

func (application *ServerApplication) runCommand(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("%s: %s", unexpectedArgumentsMessage, strings.Join(arguments, " "))
	}

	serverConfig := application.loadConfiguration()
	if validationErr := application.ensureRequiredConfiguration(serverConfig); validationErr != nil {
		return validationErr
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	database, databaseErr := application.databaseOpener(storage.Config{
		DriverName:     serverConfig.DatabaseDriver,
		DataSourceName: serverConfig.DatabaseDSN,
	})
	if databaseErr != nil {
		logger.Fatal(loggerContextOpenDatabase, zap.Error(databaseErr))
	}

	if migrateErr := storage.AutoMigrate(database); migrateErr != nil {
		logger.Fatal(loggerContextAutoMigrate, zap.Error(migrateErr))
	}

	router := buildRouter(database, logger, serverConfig)

	httpServer := &http.Server{
		Addr:              serverConfig.ApplicationAddress,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeoutSeconds * time.Second,
	}

	logger.Info(logEventListening, zap.String(logFieldAddress, serverConfig.ApplicationAddress))
	if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		logger.Fatal(loggerContextServer, zap.Error(serveErr))
	}

	return nil
}

func buildRouter(database *gorm.DB, logger *zap.Logger, serverConfig ServerConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger(logger))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsAllowOrigins,
		AllowMethods:     corsAllowedMethods,
		AllowHeaders:     corsAllowedHeaders,
		ExposeHeaders:    corsExposedHeaders,
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	messageStore := storage.NewMessageStore(database)
	verifier := verification.NewTurnstileVerifier(serverConfig.TurnstileSecret, logger)
	submissionGateway := gateway.NewGateway(messageStore, verifier, logger, serverConfig.IPHashSecret)

	var contactNotifier httpapi.ContactNotifier
	emailJSConfiguration := notifications.EmailJSConfig{
		ServiceID:  serverConfig.EmailJSServiceID,
		TemplateID: serverConfig.EmailJSTemplateID,
		PublicKey:  serverConfig.EmailJSPublicKey,
	}
	if emailJSConfiguration.Configured() {
		contactNotifier = notifications.NewEmailJSSender(emailJSConfiguration, logger)
	}

	newsletterClient := notifications.NewButtondownClient(serverConfig.ButtondownAPIKey, logger)

	contactHandlers := httpapi.NewContactHandlers(submissionGateway, contactNotifier, logger)
	subscribeHandlers := httpapi.NewSubscribeHandlers(newsletterClient, logger)
	adminHandlers := httpapi.NewAdminHandlers(messageStore, logger)

	router.POST(publicRouteContact, contactHandlers.CreateContact)
	router.POST(publicRouteSubscribe, subscribeHandlers.CreateSubscription)

	adminGroup := router.Group(adminRoutePrefix)
	adminGroup.Use(httpapi.AdminAuthMiddleware(serverConfig.AdminBearerToken))
	adminGroup.GET(adminRouteMessages, adminHandlers.ListMessages)

	return router
}

func (application *ServerApplication) ensureRequiredConfiguration(configuration ServerConfig) error {
	var missingParameters []string

	if configuration.DatabaseDSN == "" {
		missingParameters = append(missingParameters, flagNameDatabaseDSN)
	}

	if configuration.AdminBearerToken == "" {
		missingParameters = append(missingParameters, flagNameAdminBearerToken)
	}

	if len(missingParameters) == 0 {
		return nil
	}

	return fmt.Errorf("%s: %s", missingConfigurationMessage, strings.Join(missingParameters, ", "))
}

func main() {
	_ = godotenv.Load()

	application := NewServerApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		os.Exit(1)
	}
}
