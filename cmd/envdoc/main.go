package main

import (
	"fmt"
	"os"

	"httpkit/internal/config"
)

func main() {
	fmt.Println("# httpkit Environment Variables")
	fmt.Println()
	fmt.Println("The client defaults can be configured via environment variables.")
	fmt.Println("Environment variables override values from the properties file.")
	fmt.Println()
	fmt.Println("## Available Environment Variables")
	fmt.Println()

	for _, example := range config.EnvExample() {
		fmt.Printf("- `%s`\n", example)
	}

	fmt.Println()
	fmt.Println("## Examples")
	fmt.Println()
	fmt.Println("```bash")
	fmt.Println("# Raise the connection timeout to 3 seconds")
	fmt.Printf("export %s=3000\n", config.EnvKey(config.EnvPrefix, config.KeyConnectionTimeout))
	fmt.Println()
	fmt.Println("# Fall back to a 30 second keep-alive")
	fmt.Printf("export %s=30\n", config.EnvKey(config.EnvPrefix, config.KeyKeepAlive))
	fmt.Println()
	fmt.Println("# Pin TLS 1.3")
	fmt.Printf("export %s=TLSv1.3\n", config.EnvKey(config.EnvPrefix, config.KeySSLProtocol))
	fmt.Println()
	fmt.Println("# Run the probe with env vars")
	fmt.Println("./httpprobe -url https://example.com -pool-total 4 -keepalive 0")
	fmt.Println("```")

	os.Exit(0)
}
