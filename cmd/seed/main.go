// Command main runs the database seeder for Forge.
package main

import (
	"flag"
	"log"

	"forge/internal/config"
	"forge/internal/database"
	"forge/internal/seed"
)

func main() {
	// Parse command line flags
	numFounders := flag.Int("founders", 20, "Number of founders to simulate")
	numInvestors := flag.Int("investors", 10, "Number of investors to simulate")
	requestsPer := flag.Int("requests", 3, "Connection requests sent per founder")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	randSeed := flag.Int64("seed", 0, "Random seed (0 = time-based)")
	profilePath := flag.String("profile", "", "Apply a YAML seed profile instead of random traffic")
	flag.Parse()

	log.Println("Forge demo seeder")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Connect to database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	s := seed.NewSeeder(db)

	if *shouldClean {
		if err := s.ClearAll(); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}

	if *profilePath != "" {
		profile, err := seed.LoadProfile(*profilePath)
		if err != nil {
			log.Fatalf("Profile load failed: %v", err)
		}
		if _, err := s.ApplyProfile(profile); err != nil {
			log.Fatalf("Profile seeding failed: %v", err)
		}
		log.Println("Profile applied")
		return
	}

	if _, err := s.Seed(seed.Options{
		NumFounders:        *numFounders,
		NumInvestors:       *numInvestors,
		RequestsPerFounder: *requestsPer,
		AcceptRatio:        0.5,
		RejectRatio:        0.2,
		ProvisionRooms:     true,
		RandSeed:           *randSeed,
	}); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
}
