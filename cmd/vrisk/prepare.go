package main

import (
	"fmt"

	"github.com/WatchBeam/clock"
	"github.com/spf13/cobra"

	"github.com/vriskhq/vrisk/server/config"
	"github.com/vriskhq/vrisk/server/datastore/mysql"
)

func createPrepareCmd(configManager config.Manager) *cobra.Command {
	prepareCmd := &cobra.Command{
		Use:   "prepare",
		Short: "Subcommands for initializing vrisk infrastructure",
		Long: `
Subcommands for initializing vrisk infrastructure

To setup vrisk infrastructure, use one of the available commands.
`,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Given correct database configurations, prepare the database for use",
		Long:  ``,
		Run: func(cmd *cobra.Command, args []string) {
			config := configManager.LoadConfig()
			if err := resolvePasswords(&config); err != nil {
				initFatal(err, "resolving passwords")
			}

			ds, err := mysql.New(config.Mysql, clock.C)
			if err != nil {
				initFatal(err, "creating db connection")
			}
			defer ds.Close()

			if err := ds.MigrateTables(cmd.Context()); err != nil {
				initFatal(err, "migrating db schema")
			}

			fmt.Println("Migrations completed.")
		},
	}

	prepareCmd.AddCommand(dbCmd)

	return prepareCmd
}
