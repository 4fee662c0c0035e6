package main

import "flag"

func newFlagSet(o *options) *flag.FlagSet {
	fs := flag.NewFlagSet("pageshot", flag.ExitOnError)
	fs.StringVar(&o.configPath, "config", "", "path to pageshot.yaml config file")
	fs.StringVar(&o.url, "url", "", "capture a single URL with autoscroll")
	fs.StringVar(&o.out, "out", "", "directory for <page_id>.png when -url is used")
	fs.StringVar(&o.dbPath, "db", "", "SQLite database with a shot_pages table")
	fs.StringVar(&o.displayAddr, "display", "", "serve latest composites on this address")
	fs.BoolVar(&o.mcp, "mcp", false, "serve MCP tools over stdio")
	return fs
}
