// Command memory-companion keeps a resilient connection to the memory
// service from the terminal: it picks a transport, falls back when one
// degrades and optionally manages the locally installed server process.
package main

import (
	"log"
	"os"

	"github.com/lanonasis/memory-client-go/companion"
	_ "github.com/viant/scy/kms/blowfish"
)

func main() {
	if err := companion.Run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
