// Command genkeys provisions an RS256 signing key pair for the authorization
// server: a 2048-bit RSA key written as PKCS8 (private) and SPKI (public)
// PEM files.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cadencehq/cadence-mcp/internal/oauth"
)

func main() {
	privPath := flag.String("private", "oauth_private.pem", "path for the private key (PKCS8 PEM)")
	pubPath := flag.String("public", "oauth_public.pem", "path for the public key (SPKI PEM)")
	flag.Parse()

	privatePEM, publicPEM, err := oauth.GenerateKeyPair()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate key pair: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*privPath, []byte(privatePEM), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", *privPath, err)
		os.Exit(1)
	}
	if err := os.WriteFile(*pubPath, []byte(publicPEM), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", *pubPath, err)
		os.Exit(1)
	}

	fmt.Printf("wrote %s and %s\n", *privPath, *pubPath)
}
