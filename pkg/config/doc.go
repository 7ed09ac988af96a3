// Package config loads froyovm scope files and resolves machine
// configurations from them.
//
// # Overview
//
// A scope is one layer of machine configuration: the user's global
// Froyofile, the project's Froyofile, or any file given on the command line.
// Each scope is evaluated into its own vmconfig.VMConfig. Scopes are merged
// in order, outermost first, and the result is finalized once per machine.
//
// # Formats
//
//   - YAML and JSON (.yaml, .yml, .json)
//   - CUE (.cue, or a directory holding a CUE package), checked against the
//     built-in #Scope schema before it is decoded
//   - HCL (.hcl), with env.NAME and a small function library available in
//     expressions
//   - Starlark (.star), which drives the configuration through the vm value
//
// The declarative formats share one document shape:
//
//	box: ubuntu/jammy
//	hostname: web
//	networks:
//	  - kind: forwarded_port
//	    guest: 80
//	    host: 8080
//	synced_folders:
//	  - host: ./src
//	    guest: /srv/src
//	providers:
//	  - name: docker
//	    image: nginx:latest
//	    override:
//	      box: ""
//	machines:
//	  - name: web
//	    primary: true
//	    hostname: web.local
//
// In HCL the collections are blocks:
//
//	box = "ubuntu/jammy"
//
//	network "forwarded_port" {
//	  guest = 80
//	  host  = 8080
//	}
//
//	provider "docker" {
//	  image = "nginx:${env.NGINX_TAG}"
//	}
//
// Starlark scopes call methods on vm. Functions handed to vm.provider,
// vm.provision and vm.define run at resolve time; a failure inside them is
// reported as a *vmconfig.LoadError carrying the script line.
//
//	vm.box = "ubuntu/jammy"
//
//	def docker(cfg, override):
//	    cfg.image = "nginx:latest"
//	    override.box = ""
//
//	vm.provider("docker", docker)
//
// # Errors
//
// Parse and decode failures are returned as *ScopeError with the file, and
// where the format reports one, the line, column and document path.
//
// # Thread Safety
//
// A Loader may be shared between goroutines. Scopes and resolutions may not.
package config
