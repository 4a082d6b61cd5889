// mysqlwriter loads CSV tables into a MySQL database.
//
// Usage:
//
//	mysqlwriter [run|test-connection|tables-info] --config config.yml
//
// Flags:
//
//	--config      Path to the YAML or JSON configuration (default: /data/config.json)
//	--log-format  console or json (default: json)
//	--log-level   trace, debug, info, warn, error (default: info)
//
// Exit codes: 0 success, 1 user error, 2 internal error.
package main

import (
	"os"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
