// Command devtoken prints a session token for a user, signed with the
// relay's JWT_SECRET. It stands in for the login service during development.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jrsteele09/go-call-relay/internal/config"
	"github.com/jrsteele09/go-call-relay/token"
)

var (
	flagUser = flag.String("user", "", "User id to put in the token")
	flagTTL  = flag.Duration("ttl", 0, "Token lifetime, defaults to MAX_SESSION_AGE")
)

func main() {
	flag.Parse()
	if *flagUser == "" {
		flag.Usage()
		os.Exit(2)
	}

	c, err := config.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if c.GetJWTSecret() == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET must be set")
		os.Exit(1)
	}

	ttl := *flagTTL
	if ttl <= 0 {
		ttl = c.GetMaxSessionAge()
	}
	signed, expiry, err := token.NewCreator(token.NewHMACSigner(c.GetJWTSecret()), ttl).CreateSessionToken(*flagUser)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(signed)
	fmt.Fprintf(os.Stderr, "expires %s, send it as the %q cookie or a Bearer header\n", expiry.Format(time.RFC3339), c.GetSessionCookieName())
}
