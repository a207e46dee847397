// passgate es el CLI de operación: invites, usuarios, sesiones y migraciones.
// Opera directo contra el store configurado (no pasa por la API HTTP).
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	root := newApp(os.Stdout).rootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
