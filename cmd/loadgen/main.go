package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/brewlog/auth-service/internal/tools/loadgen"
)

func main() {
	cfg := loadgen.Config{}
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Generate synthetic traffic against a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := loadgen.Run(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Printf("requests=%d failures=%d elapsed=%s\n", res.TotalRequests, res.Failures, res.Elapsed.Round(time.Millisecond))
			for class, n := range res.StatusClasses {
				fmt.Printf("  %s=%d\n", class, n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&cfg.Profile, "profile", "mixed", "traffic profile: mixed, auth, or health")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long to run")
	cmd.Flags().IntVar(&cfg.RPS, "rps", 50, "target requests per second")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 8, "number of concurrent workers")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", time.Now().UnixNano(), "random seed for endpoint selection")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
