package main

import (
	"flag"
	"log"
	"path/filepath"

	"github.com/danmuck/groundctl/internal/config"
)

var kinds = []string{"tcp", "usb", "bluetooth"}

func main() {
	kind := flag.String("kind", "tcp", "config kind: tcp|usb|bluetooth|all")
	output := flag.String("output", "", "output path (directory when -kind all)")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "groundctl.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated config at %s: %s link to %s, api %s", *input, cfg.Link.Kind, cfg.Link.Target(), cfg.API.Addr)
		return
	}

	if *kind == "all" {
		dir := *output
		if dir == "" {
			dir = "configs"
		}
		for _, k := range kinds {
			write(filepath.Join(dir, k+".toml"), k, *force)
		}
		return
	}

	target := *output
	if target == "" {
		target = "groundctl.toml"
	}
	write(target, *kind, *force)
}

func write(target, kind string, force bool) {
	if err := config.WriteTemplate(target, kind, force); err != nil {
		log.Fatal(err)
	}
	if _, err := config.Load(target); err != nil {
		log.Fatalf("generated %s template does not load: %v", kind, err)
	}
	log.Printf("Wrote %s config template to %s", kind, target)
}
