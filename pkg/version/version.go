package version

import "fmt"

const Name = "dataforseo-mcp-gateway"

var (
	// Version and Hash are set at build time via -ldflags.
	Version = "dev"
	Hash    = ""
)

func Print() string {
	if Hash == "" {
		return Version
	}
	return fmt.Sprintf("%s-%s", Version, Hash)
}

// UserAgent is sent on every upstream request.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", Name, Version)
}
