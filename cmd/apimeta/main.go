// Command apimeta validates SmartAPI/OpenAPI metadata and prepares it for
// search indexing.
package main

import "os"

func main() {
	os.Exit(run(os.Args[1:]))
}
