// Command keytool generates and verifies license keys offline. It reads the
// same PRODUCT_SECRETS and PRODUCT_NAMES as the server but never touches a
// store, so generated keys must still be registered through the admin API
// before they can be activated.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/eyesee/license-server-go/internal/config"
	"github.com/eyesee/license-server-go/internal/license"
	"github.com/eyesee/license-server-go/internal/service"
)

const usage = `usage:
  keytool generate -product CODE [-count N]
  keytool verify KEY [KEY...]
  keytool products`

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return 1
	}
	registry, err := cfg.Products()
	if err != nil {
		log.Error().Err(err).Msg("invalid product configuration")
		return 1
	}
	if codes := cfg.UsesDefaultSecret(); len(codes) > 0 {
		log.Warn().Strs("products", codes).Msg("using built-in product secrets")
	}
	codec := license.NewCodec(registry)

	switch args[0] {
	case "generate":
		return generate(codec, args[1:], stdout, stderr)
	case "verify":
		return verify(codec, args[1:], stdout, stderr)
	case "products":
		for _, p := range registry.Products() {
			fmt.Fprintf(stdout, "%s\t%s\n", p.Code, p.Name)
		}
		return 0
	default:
		fmt.Fprintln(stderr, usage)
		return 2
	}
}

func generate(codec *license.Codec, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	product := fs.String("product", "", "product code, e.g. BM01")
	count := fs.Int("count", 1, "number of keys to generate (1-100)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *product == "" {
		fmt.Fprintln(stderr, "generate: -product is required")
		return 2
	}

	code := strings.ToUpper(strings.TrimSpace(*product))
	n := service.ClampGenerateCount(*count)
	for i := 0; i < n; i++ {
		key, err := codec.Generate(code)
		if err != nil {
			fmt.Fprintf(stderr, "generate: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, key)
	}
	return 0
}

// verify prints one line per key and exits non-zero if any key fails.
func verify(codec *license.Codec, keys []string, stdout, stderr io.Writer) int {
	if len(keys) == 0 {
		fmt.Fprintln(stderr, "verify: at least one key is required")
		return 2
	}

	status := 0
	for _, raw := range keys {
		v := codec.ParseAndVerify(raw)
		if !v.Valid {
			fmt.Fprintf(stdout, "%s\tINVALID\t%s\t%s\n", raw, v.Kind, v.Reason)
			status = 1
			continue
		}
		fmt.Fprintf(stdout, "%s\tVALID\t%s\t%s\n", v.Key, v.ProductCode, v.Product.Name)
	}
	return status
}
