// Command objdb inspects and maintains objdb databases without loading the
// application that owns them.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
