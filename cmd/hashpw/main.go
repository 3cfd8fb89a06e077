// Command hashpw prints a bcrypt hash for ADMIN_PASSWORD_HASH.
//
//	echo -n 'secret password' | go run ./cmd/hashpw
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"interactionlog/internal/auth"
)

func main() {
	password := flag.String("password", "", "password to hash (read from stdin when empty)")
	flag.Parse()

	pw := *password
	if pw == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(os.Stderr, "hashpw: no password given")
			os.Exit(2)
		}
		pw = strings.TrimRight(line, "\r\n")
	}

	hash, err := auth.HashPassword(pw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hashpw: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
