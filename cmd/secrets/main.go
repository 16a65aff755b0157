// Команда secrets готовит значения для .env:
//
//	secrets hash <token>   - bcrypt хеш для WEBHOOK_TOKEN_HASH
//	secrets seal <value>   - "enc:..." для *_API_SECRET (ключ из ENCRYPTION_KEY)
//	secrets keygen         - новый ENCRYPTION_KEY
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"tvtrader/pkg/crypto"
)

func main() {
	cost := flag.Int("cost", crypto.DefaultCost, "bcrypt cost for hash")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: secrets [-cost N] hash <token> | seal <value> | keygen")
	}
	flag.Parse()

	_ = godotenv.Load()

	out, err := runCommand(flag.Args(), *cost, os.Getenv("ENCRYPTION_KEY"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		flag.Usage()
		os.Exit(1)
	}
	fmt.Println(out)
}

func runCommand(args []string, cost int, key string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("command is required")
	}

	switch args[0] {
	case "hash":
		if len(args) != 2 {
			return "", errors.New("hash takes exactly one token")
		}
		return crypto.HashToken(args[1], cost)
	case "seal":
		if len(args) != 2 {
			return "", errors.New("seal takes exactly one value")
		}
		if key == "" {
			return "", crypto.ErrMissingKey
		}
		return crypto.SealSecret(args[1], key)
	case "keygen":
		raw, err := crypto.GenerateKey()
		if err != nil {
			return "", err
		}
		// 32 hex символа = 32 байта ключа AES-256 в виде строки
		return hex.EncodeToString(raw)[:32], nil
	}
	return "", errors.Errorf("unknown command %q", args[0])
}
