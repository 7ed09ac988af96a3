// Package policy evaluates Rego rules against resolved machine
// configurations.
//
// Policies are Rego modules that define a `deny` set. Each member is either a
// message string or an object with message, severity and subject keys:
//
//	package team.folders
//
//	deny contains violation if {
//		some f in input.synced_folders
//		f.type == "nfs"
//		violation := {"message": "nfs folders are not allowed", "subject": f.id}
//	}
//
// The input document is built by NewInput from a finalized configuration. It
// carries the machine and provider names, the scalar settings that were set
// (input.vm), networks, synced folders, provisioners in run order and the
// raw options of the active provider.
//
// Violations with error or critical severity fail validation and are reported
// under the "policy" category through Result.Errors. Info and warning
// findings are returned as Result.Warnings.
//
// # Loading
//
// Engine.LoadPolicies reads .rego files, or .json and .yaml files holding a
// Policy definition, from files and directories. Loader.Watch reloads them
// on change and is what `froyovm validate --watch --policy dir` uses together
// with Engine.Replace.
//
// # Built-in policies
//
//   - box-version: boxes should set box_version (warning)
//   - insecure-download: no box_download_insecure, no plain http box URLs
//     without a checksum
//   - public-network: no public_network entries
//   - privileged-port: forwarded host ports below 1024 (warning)
//   - docker-privileged: no privileged docker containers
package policy
