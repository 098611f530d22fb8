package main

import (
	"context"
	"flag"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/tokenledger/internal/config"
	"github.com/punchamoorthee/tokenledger/internal/logging"
)

func main() {
	accounts := flag.Int("accounts", 1000, "number of accounts to create, user IDs 1..N")
	initial := flag.String("balance", "10000", "starting balance for every account")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	balance, err := decimal.NewFromString(*initial)
	if err != nil || balance.IsNegative() {
		log.Fatalf("invalid starting balance %q", *initial)
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, cfg.DBSource)
	if err != nil {
		log.WithError(err).Fatal("unable to connect to database")
	}
	defer conn.Close(ctx)

	var count int
	if err := conn.QueryRow(ctx, "SELECT COUNT(*) FROM balances").Scan(&count); err != nil {
		log.WithError(err).Fatal("count failed")
	}
	if count >= *accounts {
		log.Infof("database already has %d accounts, skipping", count)
		return
	}

	// COPY cannot skip conflicts, so only seed an empty table.
	if count > 0 {
		log.Fatalf("balances holds %d rows; truncate it before seeding", count)
	}

	numeric := pgtype.Numeric{Int: balance.Coefficient(), Exp: balance.Exponent(), Valid: true}
	now := time.Now().UTC()
	rows := make([][]any, 0, *accounts)
	for i := 1; i <= *accounts; i++ {
		rows = append(rows, []any{int64(i), numeric, now, now})
	}

	copied, err := conn.CopyFrom(
		ctx,
		pgx.Identifier{"balances"},
		[]string{"user_id", "balance", "created_at", "updated_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		log.WithError(err).Fatal("bulk insert failed")
	}
	log.WithField("accounts", copied).Info("seeded balances")
}
