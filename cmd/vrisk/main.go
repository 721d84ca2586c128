package main

import (
	"fmt"
	"os"
	"strings"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/vriskhq/vrisk/server/config"
)

func main() {
	rootCmd := createRootCmd()

	configManager := config.NewManager(rootCmd)

	rootCmd.AddCommand(createPrepareCmd(configManager))
	rootCmd.AddCommand(createServeCmd(configManager))
	rootCmd.AddCommand(createWorkerCmd(configManager))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func createRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vrisk",
		Short: "vrisk is the host vulnerability risk server",
		Long: `
vrisk is the host vulnerability risk server

Use vrisk serve to run the API server, vrisk worker to run the background
task worker, and vrisk prepare db to initialize the database.
`,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
			os.Exit(1)
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a configuration file")

	return rootCmd
}

// initFatal prints an error and exits with exit code 1
func initFatal(err error, message string) {
	fmt.Fprintf(os.Stderr, "Error %s: %v\n", message, err)
	os.Exit(1)
}

func initLogger(conf config.VriskConfig) kitlog.Logger {
	var logger kitlog.Logger
	if conf.Logging.JSON {
		logger = kitlog.NewJSONLogger(os.Stderr)
	} else {
		logger = kitlog.NewLogfmtLogger(os.Stderr)
	}
	if conf.Logging.Debug {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)
	return logger
}

// resolvePasswords replaces password_path configs with the file contents so
// the rest of the code only ever deals with the password values.
func resolvePasswords(conf *config.VriskConfig) error {
	if conf.Mysql.PasswordPath != "" && conf.Mysql.Password == "" {
		pw, err := readPasswordFile(conf.Mysql.PasswordPath)
		if err != nil {
			return err
		}
		conf.Mysql.Password = pw
	}
	if conf.Appliance.PasswordPath != "" && conf.Appliance.Password == "" {
		pw, err := readPasswordFile(conf.Appliance.PasswordPath)
		if err != nil {
			return err
		}
		conf.Appliance.Password = pw
	}
	return nil
}

func readPasswordFile(path string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading password file: %w", err)
	}
	return strings.TrimSpace(string(contents)), nil
}
