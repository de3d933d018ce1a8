package main

import (
	"github.com/trezcool/darasa/storage/database"
)

var migrateRunFunc = database.RunGoose // mockable

func (cli *commandLine) migrate(args []string) error {
	return migrateRunFunc(args[0], cli.db, args[1:]...)
}
