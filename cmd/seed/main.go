package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"crm-licensing/internal/config"
	"crm-licensing/internal/domain"
	"crm-licensing/internal/domain/model"
	"crm-licensing/internal/domain/ports/repository"
	"crm-licensing/internal/infra/api"
	"crm-licensing/internal/infra/db/memory"
	pg "crm-licensing/internal/infra/db/postgres"
	"crm-licensing/internal/infra/logging"
	"crm-licensing/internal/usecase"
)

type tierFile struct {
	Tiers []struct {
		Name             string              `yaml:"name"`
		Price            int64               `yaml:"price"`
		Duration         string              `yaml:"duration"` // "30 days", "1 years", "lifetime"
		RefundPeriodDays int                 `yaml:"refund_period_days"`
		Modules          []string            `yaml:"modules"`
		Availability     string              `yaml:"availability"`
		Limits           config.LimitsConfig `yaml:"limits"`
	} `yaml:"tiers"`
}

func parseDuration(s string) (model.Duration, error) {
	f := strings.Fields(strings.ToLower(s))
	if len(f) == 1 && f[0] == string(model.DurationLifetime) {
		return model.Duration{Unit: model.DurationLifetime}, nil
	}
	if len(f) != 2 {
		return model.Duration{}, fmt.Errorf("duration %q: want \"<n> <unit>\" or \"lifetime\"", s)
	}
	var n int
	if _, err := fmt.Sscanf(f[0], "%d", &n); err != nil {
		return model.Duration{}, fmt.Errorf("duration %q: %w", s, err)
	}
	d := model.Duration{Amount: n, Unit: model.DurationUnit(f[1])}
	return d, d.Validate()
}

func main() {
	tiersPath := flag.String("tiers", "tiers.yaml", "YAML file with the tier catalog to seed")
	mint := flag.String("token", "", "mint a JWT for this subject and exit")
	role := flag.String("role", api.RoleAdmin, "role of the minted token: admin or payment-gateway")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if *mint != "" {
		tok, err := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL).MintRole(*mint, *role)
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	var repo repository.TierRepository
	if cfg.Storage.Driver == "memory" {
		repo = memory.NewTierRepo(memory.NewStore())
		fmt.Println("memory storage driver: seeding a throwaway catalog (dry run)")
	} else {
		pool, err := pg.Connect(ctx, &cfg.Database)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pool.Close()
		if err := pg.Migrate(ctx, pool); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		repo = pg.NewTierRepo(pool)
	}
	tiers := usecase.NewTierUseCase(repo, logger)

	raw, err := os.ReadFile(*tiersPath)
	if err != nil {
		log.Fatalf("read %s: %v", *tiersPath, err)
	}
	var file tierFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		log.Fatalf("parse %s: %v", *tiersPath, err)
	}

	for _, t := range file.Tiers {
		dur, err := parseDuration(t.Duration)
		if err != nil {
			log.Fatalf("tier %q: %v", t.Name, err)
		}
		tier, err := tiers.Create(ctx, usecase.TierInput{
			Name:             t.Name,
			Price:            t.Price,
			Duration:         dur,
			RefundPeriodDays: t.RefundPeriodDays,
			Modules:          t.Modules,
			Availability:     model.TierAvailability(t.Availability),
			Limits: model.Limits{
				MaxSalesReps: t.Limits.MaxSalesReps,
				MaxContacts:  t.Limits.MaxContacts,
				StorageBytes: t.Limits.StorageBytes,
			},
		})
		if errors.Is(err, domain.ErrAlreadyExists) {
			fmt.Printf("exists: %s\n", t.Name)
			continue
		}
		if err != nil {
			log.Fatalf("create tier %q: %v", t.Name, err)
		}
		fmt.Printf("seeded: %s (id=%s, %s, price=%d, modules=%d)\n", tier.Name, tier.ID, tier.Duration, tier.Price, len(tier.Modules))
	}
}
