package main

import (
	"flag"
	"fmt"

	"github.com/asheshgoplani/tabtint/internal/config"
)

func handleConfig(args []string) int {
	if len(args) == 0 {
		printConfigHelp()
		return exitFailed
	}
	switch args[0] {
	case "path":
		path, err := config.Path()
		if err != nil {
			return NewCLIOutput(false, false).Fail(err)
		}
		fmt.Fprintln(stdout, path)
		return exitOK
	case "init":
		return handleConfigInit(args[1:])
	case "show":
		return handleConfigShow(args[1:])
	case "help", "-h", "--help":
		printConfigHelp()
		return exitOK
	}
	fmt.Fprintf(stderr, "Error: unknown config command %q\n", args[0])
	printConfigHelp()
	return exitFailed
}

func printConfigHelp() {
	fmt.Fprintln(stdout, "Usage: tabtint config <command>")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Commands:")
	fmt.Fprintln(stdout, "  path   Print the config file location")
	fmt.Fprintln(stdout, "  init   Write a commented sample config")
	fmt.Fprintln(stdout, "  show   Print the effective config (defaults merged with the file)")
}

func handleConfigInit(args []string) int {
	fs := flag.NewFlagSet("config init", flag.ContinueOnError)
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	if !parseFlags(fs, args) {
		return exitFailed
	}
	out := NewCLIOutput(*jsonOutput, false)

	path, err := config.Path()
	if err != nil {
		return out.Fail(err)
	}
	if err := config.WriteSample(path); err != nil {
		return out.Fail(err)
	}
	if _, err := config.Load(path); err != nil {
		return out.Fail(err)
	}
	out.Success("wrote "+path, map[string]any{"success": true, "path": path})
	return exitOK
}

func handleConfigShow(args []string) int {
	fs := flag.NewFlagSet("config show", flag.ContinueOnError)
	if !parseFlags(fs, args) {
		return exitFailed
	}
	out := NewCLIOutput(false, false)

	cfg, path, err := loadConfig()
	if err != nil {
		return out.Fail(err)
	}
	data, err := cfg.Encode()
	if err != nil {
		return out.Fail(err)
	}
	fmt.Fprintf(stdout, "# %s\n\n%s", path, data)
	return exitOK
}
