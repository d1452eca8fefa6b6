package main

import (
	"os"

	"github.com/odyssey-erp/facturador/cmd/facturador/cli"
)

func main() {
	os.Exit(cli.Execute())
}
