// Command pipirc-encrypt is an operator tool for producing the "enc:"-
// prefixed chat_credential values config.Load expects (spec SPEC_FULL §3,
// "stored in the config file AES-GCM-encrypted"). It reads a plaintext
// credential and prints the value to paste into config.json, keyed by the
// same PIPIRC_CONFIG_KEY the master decrypts with at load time.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/pipirc/bridge/internal/crypto"
)

func main() {
	_ = godotenv.Load()

	plaintext := flag.String("credential", "", "plaintext chat credential to encrypt (prompted if omitted)")
	flag.Parse()

	key := os.Getenv("PIPIRC_CONFIG_KEY")
	if key == "" {
		log.Fatal("Critical error: PIPIRC_CONFIG_KEY must be set to the same key the master loads config with")
	}

	value := *plaintext
	if value == "" {
		fmt.Fprint(os.Stderr, "Credential to encrypt: ")
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			log.Fatalf("Critical error reading credential: %v", scanner.Err())
		}
		value = strings.TrimSpace(scanner.Text())
	}

	encrypted, err := crypto.Encrypt(value, key)
	if err != nil {
		log.Fatalf("Critical error encrypting credential: %v", err)
	}

	fmt.Printf("enc:%s\n", encrypted)
}
