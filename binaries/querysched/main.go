package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/querysched/binaries/querysched/cli"
)

// querysched hosts a query scheduler, simulates load against one, or queries
// a running one's status.
func main() {
	if err := cli.NewCLI(os.Stdout).Exec(); err != nil {
		log.Fatalf("error running querysched: %v", err)
	}
}
