// Command seed-users loads a set of demo accounts into the booking database
// and prints a ready-to-use bearer token for each, for local development and
// manual API testing.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/nahid-mahmud/clinicbook/libs/auth"
	"github.com/nahid-mahmud/clinicbook/libs/db"
)

type seedUser struct {
	name     string
	email    string
	phone    string
	role     string
	password string
}

var seedUsers = []seedUser{
	{"Asha Rahman", "asha@example.com", "+8801711111111", "patient", "patient-demo"},
	{"Tariq Islam", "tariq@example.com", "+8801722222222", "patient", "patient-demo"},
	{"Dr. Farida Khanom", "farida@example.com", "+8801733333333", "doctor", "doctor-demo"},
	{"Dr. Kamal Hossain", "kamal@example.com", "+8801744444444", "doctor", "doctor-demo"},
	{"Clinic Admin", "admin@example.com", "", "admin", "admin-demo"},
}

func main() {
	var (
		databaseURL = flag.String("database-url", getenv("DATABASE_URL", ""), "postgres connection url")
		jwtSecret   = flag.String("jwt-secret", getenv("JWT_SECRET", ""), "token signing secret")
		tokenTTL    = flag.Duration("token-ttl", 24*time.Hour, "lifetime of the printed tokens")
	)
	flag.Parse()

	if *databaseURL == "" {
		fatal("DATABASE_URL is required")
	}
	if *jwtSecret == "" {
		fatal("JWT_SECRET is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Open(ctx, *databaseURL, db.Options{MaxConns: 2})
	if err != nil {
		fatal("connect: " + err.Error())
	}
	defer pool.Close()

	for _, u := range seedUsers {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			fatal("hash password: " + err.Error())
		}

		var id int64
		err = pool.QueryRow(ctx, `
			INSERT INTO users (name, email, phone, role, password_hash)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, phone = EXCLUDED.phone
			RETURNING id
		`, u.name, u.email, u.phone, u.role, string(hash)).Scan(&id)
		if err != nil {
			fatal("insert " + u.email + ": " + err.Error())
		}

		now := time.Now()
		token, err := auth.SignHS256(auth.Claims{
			Sub:  fmt.Sprintf("%d", id),
			Role: u.role,
			Name: u.name,
			Exp:  now.Add(*tokenTTL).Unix(),
			Iat:  now.Unix(),
		}, *jwtSecret)
		if err != nil {
			fatal("sign token for " + u.email + ": " + err.Error())
		}

		fmt.Printf("%-7s id=%-3d %-22s token=%s\n", u.role, id, u.email, token)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, "seed-users: "+msg)
	os.Exit(1)
}
