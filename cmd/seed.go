package cmd

import (
	"fmt"
	"log"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"

	"github.com/jmehdipour/ingest-gateway/internal/config"
	"github.com/jmehdipour/ingest-gateway/internal/db"
	"github.com/jmehdipour/ingest-gateway/internal/model"
	"github.com/jmehdipour/ingest-gateway/internal/repository"
)

var (
	seedFake     int
	seedFakeSeed int64
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the client store with demo API clients",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// 2) connect MySQL
		sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo clients...")

		clients := demoClients()
		clients = append(clients, fakeClients(seedFake, seedFakeSeed)...)

		repo := repository.NewClientsRepository(sqlDB)
		if err := repo.Upsert(cmd.Context(), clients); err != nil {
			return fmt.Errorf("upsert clients: %w", err)
		}

		log.Printf(">> Seed completed (%d clients)", len(clients))
		return nil
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedFake, "fake", 0, "additional generated clients")
	seedCmd.Flags().Int64Var(&seedFakeSeed, "fake-seed", 1, "generator seed for --fake")
}

// demoClients are 5 deterministic demo clients (idempotent by api_key).
func demoClients() []model.APIClient {
	return []model.APIClient{
		{Name: "Acme Corp", APIKey: "11111111111111111111111111111111", Status: model.ClientActive, RateLimitRPS: intptr(20)},
		{Name: "Foobar LLC", APIKey: "22222222222222222222222222222222", Status: model.ClientActive, RateLimitRPS: intptr(50)},
		{Name: "Beta Testers", APIKey: "33333333333333333333333333333333", Status: model.ClientActive, RateLimitRPS: intptr(5)},
		{Name: "Suspended Inc", APIKey: "44444444444444444444444444444444", Status: model.ClientSuspended},
		{Name: "Express Partner", APIKey: "55555555555555555555555555555555", Status: model.ClientActive, RateLimitRPS: intptr(100)},
	}
}

// fakeClients generates n clients; the same seed yields the same clients.
func fakeClients(n int, seed int64) []model.APIClient {
	if n <= 0 {
		return nil
	}
	f := gofakeit.New(seed)

	out := make([]model.APIClient, 0, n)
	for i := 0; i < n; i++ {
		c := model.APIClient{
			Name:   f.Company(),
			APIKey: f.LetterN(32),
			Status: model.ClientActive,
		}
		if f.Number(1, 10) == 1 {
			c.Status = model.ClientSuspended
		}
		if f.Bool() {
			c.RateLimitRPS = intptr(f.Number(1, 200))
		}
		out = append(out, c)
	}
	return out
}

func intptr(i int) *int { return &i }
