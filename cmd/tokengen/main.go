// Command tokengen mints a bearer credential for local testing, signed with
// the same JWT_SECRET the server reads.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/fitcoach/coachchat/internal/auth"
)

type settings struct {
	Secret string `env:"JWT_SECRET,required,notEmpty"`
	Issuer string `env:"JWT_ISSUER"`
}

func main() {
	userID := flag.String("user", "", "user id")
	tenantID := flag.String("tenant", "", "tenant id")
	role := flag.String("role", string(auth.RoleCustomer), "role: customer, trainer, admin or tenant_admin")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()
	var s settings
	if err := env.Parse(&s); err != nil {
		slog.Error("Missing configuration", "error", err)
		os.Exit(1)
	}

	id := auth.Identity{UserID: *userID, TenantID: *tenantID, Role: auth.Role(*role)}
	if id.UserID == "" || !id.Role.Valid() {
		flag.Usage()
		os.Exit(2)
	}

	token, err := auth.NewAuthenticator(s.Secret, s.Issuer, *ttl).GenerateToken(id)
	if err != nil {
		slog.Error("Failed to sign token", "error", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
