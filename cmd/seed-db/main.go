package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/user-discounts/internal/domain/discount"
	"github.com/xenking/user-discounts/internal/repository"
)

func main() {
	var (
		databaseURL string
		demoUsers   string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&demoUsers, "demo-users", "", "comma-separated user ids to grant every seeded discount")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, splitUsers(demoUsers)); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func splitUsers(raw string) []string {
	var users []string
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			users = append(users, u)
		}
	}
	return users
}

func run(ctx context.Context, databaseURL string, demoUsers []string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	definitions := repository.NewDefinitionRepository(pool)

	if err := seedDefinitions(ctx, definitions); err != nil {
		return errors.Wrap(err, "seed definitions")
	}

	if len(demoUsers) > 0 {
		if err := seedEntitlements(ctx, pool, demoUsers); err != nil {
			return errors.Wrap(err, "seed entitlements")
		}
	}

	return nil
}

func seedDefinitions(ctx context.Context, definitions *repository.DefinitionRepository) error {
	slog.Info("seeding sample discounts")

	samples := []discount.Definition{
		{
			ID:     uuid.New().String(),
			Name:   "Welcome 10% off",
			Code:   "WELCOME10",
			Kind:   discount.KindPercentage,
			Value:  decimal.NewFromInt(10),
			Active: true,
		},
		{
			ID:             uuid.New().String(),
			Name:           "Loyalty 15% off",
			Code:           "LOYAL15",
			Kind:           discount.KindPercentage,
			Value:          decimal.NewFromInt(15),
			MaxUsesPerUser: 3,
			Active:         true,
		},
		{
			ID:             uuid.New().String(),
			Name:           "Five dollars off",
			Code:           "FIVER",
			Kind:           discount.KindFixed,
			Value:          decimal.NewFromInt(5),
			MaxUsesPerUser: 1,
			Active:         true,
		},
	}

	for i := range samples {
		if err := definitions.Upsert(ctx, &samples[i]); err != nil {
			return errors.Wrapf(err, "upsert discount %s", samples[i].Code)
		}
		slog.Info("upserted discount",
			slog.String("code", samples[i].Code),
			slog.String("kind", string(samples[i].Kind)),
		)
	}

	return nil
}

func seedEntitlements(ctx context.Context, pool repository.Querier, users []string) error {
	slog.Info("granting seeded discounts to demo users", slog.Int("users", len(users)))

	definitions := repository.NewDefinitionRepository(pool)
	entitlements := repository.NewEntitlementRepository(pool)

	for _, code := range []string{"WELCOME10", "LOYAL15", "FIVER"} {
		def, err := definitions.FindByCode(ctx, code)
		if err != nil {
			return errors.Wrapf(err, "find discount %s", code)
		}

		for _, userID := range users {
			ent := &discount.Entitlement{
				ID:           uuid.New().String(),
				UserID:       userID,
				DefinitionID: def.ID,
				AssignedAt:   time.Now().UTC(),
			}
			err := entitlements.Create(ctx, ent)
			switch {
			case err == nil:
				slog.Info("granted discount", slog.String("user", userID), slog.String("code", code))
			case errors.Is(err, discount.ErrDuplicateAssignment):
				slog.Info("already granted", slog.String("user", userID), slog.String("code", code))
			default:
				return errors.Wrapf(err, "grant %s to %s", code, userID)
			}
		}
	}

	return nil
}
