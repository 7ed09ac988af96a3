package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		boxVersionPolicy(),
		insecureDownloadPolicy(),
		publicNetworkPolicy(),
		privilegedPortPolicy(),
		dockerPrivilegedPolicy(),
	}
}

// boxVersionPolicy asks for box versions to be pinned.
func boxVersionPolicy() Policy {
	return Policy{
		Name:        "box-version",
		Description: "Boxes should be pinned with box_version so every host boots the same image",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"box", "reproducibility"},
		Rego: `package froyovm.box

deny contains violation if {
	input.provider != "docker"
	box := input.vm.box
	box != ""
	not input.vm.box_version
	violation := {
		"message": sprintf("box %q is not pinned to a version", [box]),
		"subject": "box",
	}
}
`,
	}
}

// insecureDownloadPolicy forbids skipping TLS verification for box downloads.
func insecureDownloadPolicy() Policy {
	return Policy{
		Name:        "insecure-download",
		Description: "Box downloads must verify TLS certificates",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"box", "security"},
		Rego: `package froyovm.download

deny contains violation if {
	input.vm.box_download_insecure == true
	violation := {
		"message": "box_download_insecure disables certificate verification",
		"subject": "box_download_insecure",
	}
}

deny contains violation if {
	some url in input.vm.box_url
	startswith(url, "http://")
	not input.vm.box_download_checksum
	violation := {
		"message": sprintf("box url %q is plain http and has no checksum", [url]),
		"subject": "box_url",
	}
}
`,
	}
}

// publicNetworkPolicy flags bridged networks that expose the machine to the
// host's LAN.
func publicNetworkPolicy() Policy {
	return Policy{
		Name:        "public-network",
		Description: "Public (bridged) networks expose the machine outside the host",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"network", "security"},
		Rego: `package froyovm.network.public

deny contains violation if {
	some net in input.networks
	net.kind == "public_network"
	violation := {
		"message": "public networks are not allowed",
		"subject": net.key,
	}
}
`,
	}
}

// privilegedPortPolicy warns about forwarded ports that need root on the
// host.
func privilegedPortPolicy() Policy {
	return Policy{
		Name:        "privileged-port",
		Description: "Forwarded host ports below 1024 require elevated privileges",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"network"},
		Rego: `package froyovm.network.ports

deny contains violation if {
	some net in input.networks
	net.kind == "forwarded_port"
	port := to_number(net.options.host)
	port < 1024
	violation := {
		"message": sprintf("host port %d is privileged", [port]),
		"subject": net.key,
	}
}
`,
	}
}

// dockerPrivilegedPolicy forbids privileged docker containers.
func dockerPrivilegedPolicy() Policy {
	return Policy{
		Name:        "docker-privileged",
		Description: "Docker machines must not run privileged containers",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"docker", "security"},
		Rego: `package froyovm.docker

deny contains violation if {
	input.provider == "docker"
	input.provider_options.privileged == true
	violation := {
		"message": "privileged containers are not allowed",
		"subject": "docker",
	}
}
`,
	}
}
