package banner

import (
	"fmt"

	"appbridge/pkg/config"
)

const banner = `
 █████╗ ██████╗ ██████╗ ██████╗ ██████╗ ██╗██████╗  ██████╗ ███████╗
██╔══██╗██╔══██╗██╔══██╗██╔══██╗██╔══██╗██║██╔══██╗██╔════╝ ██╔════╝
███████║██████╔╝██████╔╝██████╔╝██████╔╝██║██║  ██║██║  ███╗█████╗
██╔══██║██╔═══╝ ██╔═══╝ ██╔══██╗██╔══██╗██║██║  ██║██║   ██║██╔══╝
██║  ██║██║     ██║     ██████╔╝██║  ██║██║██████╔╝╚██████╔╝███████╗
╚═╝  ╚═╝╚═╝     ╚═╝     ╚═════╝ ╚═╝  ╚═╝╚═╝╚═════╝  ╚═════╝ ╚══════╝
`

// PrintWithEff prints the banner using an effective config which provides
// runtime context (listen address, record store, config source).
func PrintWithEff(eff config.Effective, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	if eff.DBPath != "" {
		fmt.Printf("Records:  %s\n", eff.DBPath)
	} else {
		fmt.Println("Records:  disabled (set access.db_path or --db)")
	}
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", src)

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET/POST /echo           - echo app bridged through the async adapter")
	fmt.Println("GET/POST /hello          - hello app bridged through both adapters")
	fmt.Println("GET      /healthz        - liveness probe")
	fmt.Println("GET      /readyz         - readiness probe (record store)")
	fmt.Println("GET      /metrics        - Prometheus metrics")
	fmt.Println("GET      /admin/records  - recent access records")

	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost%s/echo' -d 'hello'\n", portSuffix(addr))
	fmt.Printf("curl 'http://localhost%s/admin/records?limit=10'\n", portSuffix(addr))
}

func portSuffix(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[i:]
		}
	}
	return addr
}
