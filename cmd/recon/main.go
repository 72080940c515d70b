// Command recon reconciles carrier commission statements against the bank
// feed. Run `recon --help` for the command list.
package main

import (
	"os"

	"github.com/eshaffer321/commission-recon/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
