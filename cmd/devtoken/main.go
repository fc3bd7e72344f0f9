// Package main выпускает токены участников для локальной разработки и ручных проверок.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/stallorder/internal/middleware"
	"github.com/mmeshcher/stallorder/internal/model"
)

type options struct {
	AuthSecret string `env:"AUTH_SECRET"`
}

func main() {
	var opts options
	if err := env.Parse(&opts); err != nil {
		fmt.Fprintln(os.Stderr, "parse env:", err)
		os.Exit(1)
	}

	id := flag.String("id", "", "participant id; for vendors the vendor id")
	role := flag.String("role", string(model.RoleCustomer), "customer, vendor or admin")
	verified := flag.Bool("verified", true, "email address verified")
	flag.StringVar(&opts.AuthSecret, "s", opts.AuthSecret, "secret for identity tokens")
	flag.Parse()

	if *id == "" || opts.AuthSecret == "" {
		flag.Usage()
		os.Exit(2)
	}

	actor := model.Actor{ID: *id, Role: model.Role(*role), EmailVerified: *verified}
	auth := middleware.NewAuthMiddleware(opts.AuthSecret)

	token := auth.IssueToken(actor)
	if _, ok := auth.ParseToken(token); !ok {
		fmt.Fprintf(os.Stderr, "cannot issue token for role %q\n", *role)
		os.Exit(1)
	}

	fmt.Println(token)
}
