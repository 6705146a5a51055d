// Command ailink-gateway runs the AILink LLM provider gateway.
package main

import (
	"github.com/ailink-gateway/ailink/cmd/ailink-gateway/cmd"
)

func main() {
	cmd.Execute()
}
