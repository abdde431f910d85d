package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gopherai-rag/internal/pkg/jwtutil"
)

const defaultTokenTTL = 2 * time.Hour

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "ragctl", "token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", defaultTokenTTL, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	if jwtSecret == "" {
		return errors.New("jwt secret not configured")
	}
	token, err := jwtutil.GenerateToken(jwtSecret, tokenTTL, tokenSubject)
	if err != nil {
		return fmt.Errorf("generate token failed: %w", err)
	}
	cmd.Println(token)
	return nil
}
