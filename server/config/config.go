package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix = "VRISK"
)

// MysqlConfig defines configs related to MySQL
type MysqlConfig struct {
	Protocol        string
	Address         string
	Username        string
	Password        string
	PasswordPath    string `yaml:"password_path"`
	Database        string
	MaxOpenConns    int `yaml:"max_open_conns"`
	MaxIdleConns    int `yaml:"max_idle_conns"`
	ConnMaxLifetime int `yaml:"conn_max_lifetime"`
}

// ServerConfig defines configs related to the vrisk API server
type ServerConfig struct {
	Address   string
	URLPrefix string `yaml:"url_prefix"`
}

// ApplianceConfig defines configs for the vulnerability appliance the
// worker pulls VM exports from.
type ApplianceConfig struct {
	Address      string
	Username     string
	Password     string
	PasswordPath string `yaml:"password_path"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	// TokenTimeout bounds the token request; ExportTimeout bounds the
	// (much slower) grid export.
	TokenTimeout  time.Duration `yaml:"token_timeout"`
	ExportTimeout time.Duration `yaml:"export_timeout"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify"`
	// OSExclude is a comma-separated list of OS names dropped from the
	// grid export; ExportLimit caps the exported rows (0 means no cap).
	OSExclude   string `yaml:"os_exclude"`
	ExportLimit int    `yaml:"export_limit"`
}

// OSExcludeList splits the comma-separated OSExclude into trimmed names.
func (c ApplianceConfig) OSExcludeList() []string {
	var out []string
	for _, name := range strings.Split(c.OSExclude, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// FeedsConfig holds the external feed endpoints.
type FeedsConfig struct {
	EPSSURL       string `yaml:"epss_url"`
	ExploitDBURL  string `yaml:"exploitdb_url"`
	NVDBaseURL    string `yaml:"nvd_base_url"`
	MetasploitURL string `yaml:"metasploit_url"`
	// NVDStartYear is the first yearly NVD file fetched by cve_import.
	NVDStartYear int `yaml:"nvd_start_year"`
}

// TasksConfig defines configs for the background worker.
type TasksConfig struct {
	// DataDir holds downloaded feed files and VM export dumps.
	DataDir string `yaml:"data_dir"`
	// LogsDir holds the per-task log files.
	LogsDir          string        `yaml:"logs_dir"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	LogRetentionDays int           `yaml:"log_retention_days"`
}

// LoggingConfig defines configs related to logging
type LoggingConfig struct {
	Debug         bool
	JSON          bool
	DisableBanner bool `yaml:"disable_banner"`
}

// VriskConfig stores the application configuration. Each subcategory is
// broken up into its own struct, defined above. When editing any of these
// structs, Manager.addConfigs and Manager.LoadConfig should be updated to
// set and retrieve the configurations as appropriate.
type VriskConfig struct {
	Mysql     MysqlConfig
	Server    ServerConfig
	Appliance ApplianceConfig
	Feeds     FeedsConfig
	Tasks     TasksConfig
	Logging   LoggingConfig
}

// addConfigs adds the configuration keys and default values that will be
// filled into the VriskConfig struct
func (man Manager) addConfigs() {
	// MySQL
	man.addConfigString("mysql.protocol", "tcp",
		"MySQL server communication protocol (tcp,unix,...)")
	man.addConfigString("mysql.address", "localhost:3306",
		"MySQL server address (host:port)")
	man.addConfigString("mysql.username", "vrisk",
		"MySQL server username")
	man.addConfigString("mysql.password", "",
		"MySQL server password (prefer env variable for security)")
	man.addConfigString("mysql.password_path", "",
		"Path to file containing MySQL server password")
	man.addConfigString("mysql.database", "vrisk",
		"MySQL database name")
	man.addConfigInt("mysql.max_open_conns", 50, "MySQL maximum open connection handles")
	man.addConfigInt("mysql.max_idle_conns", 50, "MySQL maximum idle connection handles")
	man.addConfigInt("mysql.conn_max_lifetime", 0, "MySQL maximum amount of time a connection may be reused")

	// Server
	man.addConfigString("server.address", "0.0.0.0:8080",
		"vrisk API server address (host:port)")
	man.addConfigString("server.url_prefix", "",
		"URL prefix used on server and frontend endpoints")

	// Appliance
	man.addConfigString("appliance.address", "",
		"Base URL of the vulnerability appliance API")
	man.addConfigString("appliance.username", "",
		"Appliance API username")
	man.addConfigString("appliance.password", "",
		"Appliance API password (prefer env variable for security)")
	man.addConfigString("appliance.password_path", "",
		"Path to file containing appliance API password")
	man.addConfigString("appliance.client_id", "",
		"Appliance OAuth client id")
	man.addConfigString("appliance.client_secret", "",
		"Appliance OAuth client secret")
	man.addConfigDuration("appliance.token_timeout", 30*time.Second,
		"Timeout for appliance token requests")
	man.addConfigDuration("appliance.export_timeout", 300*time.Second,
		"Timeout for appliance grid export requests")
	man.addConfigBool("appliance.tls_skip_verify", false,
		"Skip TLS certificate verification for the appliance")
	man.addConfigString("appliance.os_exclude", "",
		"Comma-separated OS names excluded from the appliance export")
	man.addConfigInt("appliance.export_limit", 0,
		"Maximum rows requested from the appliance export (0 for no limit)")

	// Feeds
	man.addConfigString("feeds.epss_url", "https://epss.cyentia.com/epss_scores-current.csv.gz",
		"URL of the EPSS daily snapshot")
	man.addConfigString("feeds.exploitdb_url", "https://gitlab.com/exploit-database/exploitdb/-/raw/main/files_exploits.csv",
		"URL of the ExploitDB exploits index CSV")
	man.addConfigString("feeds.nvd_base_url", "https://nvd.nist.gov/feeds/json/cve/2.0",
		"Base URL of the NVD yearly JSON feeds")
	man.addConfigString("feeds.metasploit_url", "https://raw.githubusercontent.com/rapid7/metasploit-framework/master/db/modules_metadata_base.json",
		"URL of the Metasploit modules metadata file")
	man.addConfigInt("feeds.nvd_start_year", 2002,
		"First NVD feed year fetched by the CVE import")

	// Tasks
	man.addConfigString("tasks.data_dir", "/var/lib/vrisk",
		"Directory for downloaded feed files and VM export dumps")
	man.addConfigString("tasks.logs_dir", "/var/log/vrisk",
		"Directory for per-task log files")
	man.addConfigDuration("tasks.poll_interval", 5*time.Second,
		"Worker queue poll interval")
	man.addConfigInt("tasks.log_retention_days", 30,
		"Days to keep task log files before cleanup")

	// Logging
	man.addConfigBool("logging.debug", false,
		"Enable debug logging")
	man.addConfigBool("logging.json", false,
		"Log in JSON format")
	man.addConfigBool("logging.disable_banner", false,
		"Disable startup banner")
}

// LoadConfig will load the config variables into a fully initialized
// VriskConfig struct
func (man Manager) LoadConfig() VriskConfig {
	man.loadConfigFile()

	return VriskConfig{
		Mysql: MysqlConfig{
			Protocol:        man.getConfigString("mysql.protocol"),
			Address:         man.getConfigString("mysql.address"),
			Username:        man.getConfigString("mysql.username"),
			Password:        man.getConfigString("mysql.password"),
			PasswordPath:    man.getConfigString("mysql.password_path"),
			Database:        man.getConfigString("mysql.database"),
			MaxOpenConns:    man.getConfigInt("mysql.max_open_conns"),
			MaxIdleConns:    man.getConfigInt("mysql.max_idle_conns"),
			ConnMaxLifetime: man.getConfigInt("mysql.conn_max_lifetime"),
		},
		Server: ServerConfig{
			Address:   man.getConfigString("server.address"),
			URLPrefix: man.getConfigString("server.url_prefix"),
		},
		Appliance: ApplianceConfig{
			Address:       man.getConfigString("appliance.address"),
			Username:      man.getConfigString("appliance.username"),
			Password:      man.getConfigString("appliance.password"),
			PasswordPath:  man.getConfigString("appliance.password_path"),
			ClientID:      man.getConfigString("appliance.client_id"),
			ClientSecret:  man.getConfigString("appliance.client_secret"),
			TokenTimeout:  man.getConfigDuration("appliance.token_timeout"),
			ExportTimeout: man.getConfigDuration("appliance.export_timeout"),
			TLSSkipVerify: man.getConfigBool("appliance.tls_skip_verify"),
			OSExclude:     man.getConfigString("appliance.os_exclude"),
			ExportLimit:   man.getConfigInt("appliance.export_limit"),
		},
		Feeds: FeedsConfig{
			EPSSURL:       man.getConfigString("feeds.epss_url"),
			ExploitDBURL:  man.getConfigString("feeds.exploitdb_url"),
			NVDBaseURL:    man.getConfigString("feeds.nvd_base_url"),
			MetasploitURL: man.getConfigString("feeds.metasploit_url"),
			NVDStartYear:  man.getConfigInt("feeds.nvd_start_year"),
		},
		Tasks: TasksConfig{
			DataDir:          man.getConfigString("tasks.data_dir"),
			LogsDir:          man.getConfigString("tasks.logs_dir"),
			PollInterval:     man.getConfigDuration("tasks.poll_interval"),
			LogRetentionDays: man.getConfigInt("tasks.log_retention_days"),
		},
		Logging: LoggingConfig{
			Debug:         man.getConfigBool("logging.debug"),
			JSON:          man.getConfigBool("logging.json"),
			DisableBanner: man.getConfigBool("logging.disable_banner"),
		},
	}
}

// IsSet determines whether a given config key has been explicitly set by any
// of the configuration sources. If false, the default value is being used.
func (man Manager) IsSet(key string) bool {
	return man.viper.IsSet(key)
}

// envNameFromConfigKey converts a config key into the corresponding
// environment variable name
func envNameFromConfigKey(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.Replace(key, ".", "_", -1))
}

// flagNameFromConfigKey converts a config key into the corresponding flag name
func flagNameFromConfigKey(key string) string {
	return strings.Replace(key, ".", "_", -1)
}

// Manager manages the addition and retrieval of config values for vrisk
// configs. Its only public API method is LoadConfig, which will return the
// populated VriskConfig struct.
type Manager struct {
	viper    *viper.Viper
	command  *cobra.Command
	defaults map[string]interface{}
}

// NewManager initializes a Manager wrapping the provided cobra
// command. All config flags will be attached to that command (and inherited by
// the subcommands). Typically this should be called just once, with the root
// command.
func NewManager(command *cobra.Command) Manager {
	man := Manager{
		viper:    viper.New(),
		command:  command,
		defaults: map[string]interface{}{},
	}
	man.addConfigs()
	return man
}

// addDefault will check for duplication, then add a default value to the
// defaults map
func (man Manager) addDefault(key string, defVal interface{}) {
	if _, exists := man.defaults[key]; exists {
		panic("Trying to add duplicate config for key " + key)
	}

	man.defaults[key] = defVal
}

func getFlagUsage(key string, usage string) string {
	return fmt.Sprintf("Env: %s\n\t\t%s", envNameFromConfigKey(key), usage)
}

// getInterfaceVal is a helper function used by the getConfig* functions to
// retrieve the config value as interface{}, which will then be cast to the
// appropriate type by the getConfig* function.
func (man Manager) getInterfaceVal(key string) interface{} {
	interfaceVal := man.viper.Get(key)
	if interfaceVal == nil {
		var ok bool
		interfaceVal, ok = man.defaults[key]
		if !ok {
			panic("Tried to look up default value for nonexistent config option: " + key)
		}
	}
	return interfaceVal
}

// addConfigString adds a string config to the config options
func (man Manager) addConfigString(key, defVal, usage string) {
	man.command.PersistentFlags().String(flagNameFromConfigKey(key), defVal, getFlagUsage(key, usage))
	man.viper.BindPFlag(key, man.command.PersistentFlags().Lookup(flagNameFromConfigKey(key)))
	man.viper.BindEnv(key, envNameFromConfigKey(key))

	// Add default
	man.addDefault(key, defVal)
}

// getConfigString retrieves a string from the loaded config
func (man Manager) getConfigString(key string) string {
	interfaceVal := man.getInterfaceVal(key)
	stringVal, err := cast.ToStringE(interfaceVal)
	if err != nil {
		panic("Unable to cast to string for key " + key + ": " + err.Error())
	}

	return stringVal
}

// addConfigInt adds a int config to the config options
func (man Manager) addConfigInt(key string, defVal int, usage string) {
	man.command.PersistentFlags().Int(flagNameFromConfigKey(key), defVal, getFlagUsage(key, usage))
	man.viper.BindPFlag(key, man.command.PersistentFlags().Lookup(flagNameFromConfigKey(key)))
	man.viper.BindEnv(key, envNameFromConfigKey(key))

	// Add default
	man.addDefault(key, defVal)
}

// getConfigInt retrieves a int from the loaded config
func (man Manager) getConfigInt(key string) int {
	interfaceVal := man.getInterfaceVal(key)
	intVal, err := cast.ToIntE(interfaceVal)
	if err != nil {
		panic("Unable to cast to int for key " + key + ": " + err.Error())
	}

	return intVal
}

// addConfigBool adds a bool config to the config options
func (man Manager) addConfigBool(key string, defVal bool, usage string) {
	man.command.PersistentFlags().Bool(flagNameFromConfigKey(key), defVal, getFlagUsage(key, usage))
	man.viper.BindPFlag(key, man.command.PersistentFlags().Lookup(flagNameFromConfigKey(key)))
	man.viper.BindEnv(key, envNameFromConfigKey(key))

	// Add default
	man.addDefault(key, defVal)
}

// getConfigBool retrieves a bool from the loaded config
func (man Manager) getConfigBool(key string) bool {
	interfaceVal := man.getInterfaceVal(key)
	boolVal, err := cast.ToBoolE(interfaceVal)
	if err != nil {
		panic("Unable to cast to bool for key " + key + ": " + err.Error())
	}

	return boolVal
}

// addConfigDuration adds a duration config to the config options
func (man Manager) addConfigDuration(key string, defVal time.Duration, usage string) {
	man.command.PersistentFlags().Duration(flagNameFromConfigKey(key), defVal, getFlagUsage(key, usage))
	man.viper.BindPFlag(key, man.command.PersistentFlags().Lookup(flagNameFromConfigKey(key)))
	man.viper.BindEnv(key, envNameFromConfigKey(key))

	// Add default
	man.addDefault(key, defVal)
}

// getConfigDuration retrieves a duration from the loaded config
func (man Manager) getConfigDuration(key string) time.Duration {
	interfaceVal := man.getInterfaceVal(key)
	durationVal, err := cast.ToDurationE(interfaceVal)
	if err != nil {
		panic("Unable to cast to duration for key " + key + ": " + err.Error())
	}

	return durationVal
}

// loadConfigFile handles the loading of the config file.
func (man Manager) loadConfigFile() {
	man.viper.SetConfigType("yaml")

	configFile := man.command.PersistentFlags().Lookup("config").Value.String()

	if configFile == "" {
		// No config file set, only use configs from env
		// vars/flags/defaults
		return
	}

	man.viper.SetConfigFile(configFile)
	err := man.viper.ReadInConfig()
	if err != nil {
		fmt.Println("Error loading config file:", err)
		os.Exit(1)
	}

	fmt.Println("Using config file: ", man.viper.ConfigFileUsed())
}

// TestConfig returns a barebones configuration suitable for use in tests.
// Individual tests may want to override some of the values provided.
func TestConfig() VriskConfig {
	return VriskConfig{
		Mysql: MysqlConfig{
			Protocol: "tcp",
			Address:  "localhost:3306",
			Username: "vrisk",
			Database: "vrisk",
		},
		Server: ServerConfig{
			Address: "localhost:8080",
		},
		Appliance: ApplianceConfig{
			TokenTimeout:  30 * time.Second,
			ExportTimeout: 300 * time.Second,
		},
		Feeds: FeedsConfig{
			NVDStartYear: 2002,
		},
		Tasks: TasksConfig{
			PollInterval:     time.Millisecond,
			LogRetentionDays: 30,
		},
		Logging: LoggingConfig{
			Debug:         true,
			DisableBanner: true,
		},
	}
}
