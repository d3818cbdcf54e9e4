// Command devtoken prints an access token for local testing of the API.
//
//	go run ./cmd/devtoken -user member-1 -role CUSTOMER
//
// The secret is read from JWT_SECRET (a .env file is honoured).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/studio-booking/internal/middleware"
	"github.com/iliyamo/studio-booking/internal/utils"
)

func main() {
	user := flag.String("user", "", "subject (member or staff id)")
	role := flag.String("role", middleware.RoleMember, "CUSTOMER or STAFF")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}
	r := strings.ToUpper(*role)
	if r != middleware.RoleMember && r != middleware.RoleStaff {
		log.Fatalf("unknown role %q", *role)
	}
	tok, err := utils.NewAccessToken(secret, *user, r, *ttl)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(tok.Token)
}
