package main

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an HS256 development token",
	Long: `Sign a token the server accepts when it shares --secret. Only meant for
local development; production tokens come from the account service.`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().String("secret", "", "Shared HMAC secret (auth.jwt_secret on the server)")
	tokenCmd.Flags().String("identity", "", "Identity to embed")
	tokenCmd.Flags().String("claim", "_id", "Claim carrying the identity")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("secret")
	_ = tokenCmd.MarkFlagRequired("identity")
}

func mintToken(secret, claim, identity string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		claim: identity,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func runToken(cmd *cobra.Command, args []string) error {
	secret, _ := cmd.Flags().GetString("secret")
	identity, _ := cmd.Flags().GetString("identity")
	claim, _ := cmd.Flags().GetString("claim")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	token, err := mintToken(secret, claim, identity, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
