package main

import (
	"flag"

	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/tokenledger/internal/config"
	"github.com/punchamoorthee/tokenledger/internal/logging"
	"github.com/punchamoorthee/tokenledger/internal/store/migrations"
)

func main() {
	down := flag.Bool("down", false, "roll back all migrations instead of applying them")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	if *down {
		if err := migrations.Down(cfg.DBSource); err != nil {
			log.WithError(err).Fatal("rollback failed")
		}
		log.Info("migrations rolled back")
		return
	}
	if err := migrations.Up(cfg.DBSource); err != nil {
		log.WithError(err).Fatal("migration failed")
	}
	log.Info("migrations applied")
}
