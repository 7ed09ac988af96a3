package machine

import (
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/disk"
	"github.com/shirou/gopsutil/host"
)

// Mockable host probes.
var (
	kernelVersion = host.KernelVersion
	partitions    = disk.Partitions
	goos          = runtime.GOOS
)

// drvfsTypes are the filesystem types WSL uses to mount Windows drives.
var drvfsTypes = map[string]bool{"drvfs": true, "9p": true}

// Platform reports facts about the host. Probes run once, on first use.
type Platform struct {
	once   sync.Once
	wsl    bool
	mounts []string
}

// DetectPlatform returns a Platform for the current host.
func DetectPlatform() *Platform {
	return &Platform{}
}

func (p *Platform) detect() {
	p.once.Do(func() {
		if goos != "linux" {
			return
		}
		version, err := kernelVersion()
		if err != nil {
			return
		}
		p.wsl = strings.Contains(strings.ToLower(version), "microsoft")
		if !p.wsl {
			return
		}

		parts, err := partitions(true)
		if err != nil {
			return
		}
		for _, part := range parts {
			if drvfsTypes[part.Fstype] {
				p.mounts = append(p.mounts, filepath.Clean(part.Mountpoint))
			}
		}
	})
}

// IsWSL implements vmconfig.HostPlatform.
func (p *Platform) IsWSL() bool {
	p.detect()
	return p.wsl
}

// IsDrvFsPath implements vmconfig.HostPlatform.
func (p *Platform) IsDrvFsPath(path string) bool {
	p.detect()
	if !p.wsl {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, mount := range p.mounts {
		if abs == mount || strings.HasPrefix(abs, mount+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
