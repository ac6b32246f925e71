// Command formwizard serves the onboarding wizard.
package main

import (
	"fmt"
	"os"

	"github.com/livetemplate/formwizard/cmd/formwizard/commands"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "serve":
		err = commands.ServeCommand(args)
	case "validate":
		err = commands.ValidateCommand(args)
	case "init":
		err = commands.InitCommand(args)
	case "version":
		fmt.Printf("formwizard version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("formwizard - Multi-step onboarding with autosave")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  formwizard serve [directory]     Start the server")
	fmt.Println("  formwizard validate [directory]  Check formwizard.yaml")
	fmt.Println("  formwizard init [directory]      Write a default formwizard.yaml")
	fmt.Println("  formwizard version               Show version")
	fmt.Println("  formwizard help                  Show this help")
	fmt.Println()
	fmt.Println("Serve flags:")
	fmt.Println("  -c, --config <file>   Config file (default: <directory>/formwizard.yaml)")
	fmt.Println("  -p, --port <port>     Listen port")
	fmt.Println("      --host <host>     Listen host")
	fmt.Println("  -w, --watch           Reload i18n.dir catalogs on change")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  formwizard serve                        # Serve with ./formwizard.yaml")
	fmt.Println("  formwizard serve -p 9000 --watch        # Custom port, live catalogs")
	fmt.Println("  FORMWIZARD_STORAGE_DRIVER=redis formwizard serve")
}
