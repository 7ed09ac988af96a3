package vmconfig

// Merge combines two scopes into a new configuration. Settings set in
// override win. Collections are unioned by identity with override entries
// layered on top of matching base entries. Neither input is modified.
//
// Merging finalized configurations is not supported.
func Merge(base, override *VMConfig) *VMConfig {
	r := New()

	r.AllowedSyncedFolderTypes = base.AllowedSyncedFolderTypes.overlay(override.AllowedSyncedFolderTypes)
	r.AllowFstabModification = base.AllowFstabModification.overlay(override.AllowFstabModification)
	r.AllowHostsModification = base.AllowHostsModification.overlay(override.AllowHostsModification)
	r.BaseMAC = base.BaseMAC.overlay(override.BaseMAC)
	r.BaseAddress = base.BaseAddress.overlay(override.BaseAddress)
	r.BootTimeout = base.BootTimeout.overlay(override.BootTimeout)
	r.Box = base.Box.overlay(override.Box)
	r.BoxArchitecture = base.BoxArchitecture.overlay(override.BoxArchitecture)
	r.IgnoreBoxVagrantfile = base.IgnoreBoxVagrantfile.overlay(override.IgnoreBoxVagrantfile)
	r.BoxCheckUpdate = base.BoxCheckUpdate.overlay(override.BoxCheckUpdate)
	r.BoxDownloadCACert = base.BoxDownloadCACert.overlay(override.BoxDownloadCACert)
	r.BoxDownloadCAPath = base.BoxDownloadCAPath.overlay(override.BoxDownloadCAPath)
	r.BoxDownloadChecksum = base.BoxDownloadChecksum.overlay(override.BoxDownloadChecksum)
	r.BoxDownloadChecksumType = base.BoxDownloadChecksumType.overlay(override.BoxDownloadChecksumType)
	r.BoxDownloadClientCert = base.BoxDownloadClientCert.overlay(override.BoxDownloadClientCert)
	r.BoxDownloadDisableSSLRevokeBestEffort = base.BoxDownloadDisableSSLRevokeBestEffort.overlay(override.BoxDownloadDisableSSLRevokeBestEffort)
	r.BoxDownloadInsecure = base.BoxDownloadInsecure.overlay(override.BoxDownloadInsecure)
	r.BoxDownloadLocationTrusted = base.BoxDownloadLocationTrusted.overlay(override.BoxDownloadLocationTrusted)
	r.BoxDownloadOptions = base.BoxDownloadOptions.overlay(override.BoxDownloadOptions)
	r.BoxURL = base.BoxURL.overlay(override.BoxURL)
	r.BoxVersion = base.BoxVersion.overlay(override.BoxVersion)
	r.Clone = base.Clone.overlay(override.Clone)
	r.CloudInitFirstBootOnly = base.CloudInitFirstBootOnly.overlay(override.CloudInitFirstBootOnly)
	r.Communicator = base.Communicator.overlay(override.Communicator)
	r.GracefulHaltTimeout = base.GracefulHaltTimeout.overlay(override.GracefulHaltTimeout)
	r.Guest = base.Guest.overlay(override.Guest)
	r.Hostname = base.Hostname.overlay(override.Hostname)
	r.PostUpMessage = base.PostUpMessage.overlay(override.PostUpMessage)
	r.UsablePortRange = base.UsablePortRange.overlay(override.UsablePortRange)

	r.subVMs = mergeSubVMs(base.subVMs, override.subVMs)
	r.disks = mergeByID(base.disks, override.disks,
		func(d *DiskSpec) string { return d.ID }, (*DiskSpec).clone, mergeDisk)
	r.cloudInits = mergeByID(base.cloudInits, override.cloudInits,
		func(ci *CloudInitSpec) string { return ci.ID }, (*CloudInitSpec).clone, mergeCloudInit)
	r.provisioners = mergeProvisioners(base.provisioners, override.provisioners)

	r.networks = base.networks.Clone(NetworkEntry.clone)
	override.networks.Each(func(key string, n NetworkEntry) {
		if prev, ok := r.networks.Get(key); ok {
			n = NetworkEntry{Kind: n.Kind, Options: shallowMerge(prev.Options, n.Options)}
		} else {
			n = n.clone()
		}
		r.networks.Set(key, n)
	})

	r.syncedFolders = base.syncedFolders.Clone(Options.Clone)
	override.syncedFolders.Each(func(id string, opts Options) {
		prev, _ := r.syncedFolders.Get(id)
		r.syncedFolders.Set(id, shallowMerge(prev, opts))
	})

	r.providers = concatBlocks(base.providers, override.providers)
	r.providerOverrides = concatBlocks(base.providerOverrides, override.providerOverrides)
	r.providerOrder = uniqueStrings(append(append([]string(nil), base.providerOrder...), override.providerOrder...))

	return r
}

func mergeSubVMs(base, over *OrderedMap[string, *SubVM]) *OrderedMap[string, *SubVM] {
	out := base.Clone((*SubVM).clone)
	over.Each(func(name string, sub *SubVM) {
		existing, ok := out.Get(name)
		if !ok {
			out.Set(name, sub.clone())
			return
		}
		sub.Options.Each(func(k string, v interface{}) {
			existing.Options.Set(k, cloneValue(v))
		})
		existing.Blocks = append(existing.Blocks, sub.Blocks...)
	})
	return out
}

// mergeByID merges entity lists matched by identity. A match is layered on
// top of the base entry and takes its position; other override entries are
// appended.
func mergeByID[T any](base, over []T, id func(T) string, clone func(T) T, merge func(base, over T) T) []T {
	remaining := append([]T(nil), over...)
	out := make([]T, 0, len(base)+len(over))
	for _, b := range base {
		matched := false
		for i, o := range remaining {
			if id(o) == id(b) {
				out = append(out, merge(b, o))
				remaining = append(remaining[:i], remaining[i+1:]...)
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, clone(b))
		}
	}
	for _, o := range remaining {
		out = append(out, clone(o))
	}
	return out
}

func concatBlocks(base, over map[string][]ProviderBlock) map[string][]ProviderBlock {
	out := make(map[string][]ProviderBlock, len(base)+len(over))
	for name, blocks := range base {
		out[name] = append([]ProviderBlock(nil), blocks...)
	}
	for name, blocks := range over {
		out[name] = append(out[name], blocks...)
	}
	return out
}
