// Package process resolves best-effort metadata about a pid from
// /proc. Everything here runs on the consumer side; a process that
// exited between capture and enrichment just yields empty fields.
package process

import (
	"bytes"
	"fmt"
	"os"
	"os/user"
	"regexp"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

const usernameCacheSize = 512

var (
	usernameCacheOnce sync.Once
	usernameCache     *lru.Cache
)

// UsernameFromUID resolves a uid to a username, caching results.
// Returns "" when the uid cannot be resolved.
func UsernameFromUID(uid uint32) string {
	usernameCacheOnce.Do(func() {
		usernameCache, _ = lru.New(usernameCacheSize)
	})

	if name, ok := usernameCache.Get(uid); ok {
		return name.(string)
	}

	u, err := user.LookupId(fmt.Sprintf("%d", uid))
	if err != nil {
		return ""
	}
	usernameCache.Add(uid, u.Username)
	return u.Username
}

var containerIDRegex = regexp.MustCompile(`^[a-f0-9]{12,64}$`)

// Metadata is what /proc could still tell us about a pid.
type Metadata struct {
	ExePath     string
	CmdLine     string
	WorkingDir  string
	ContainerID string
}

// Collect gathers metadata for a pid. Returns false if the process is
// already gone; partial results are normal and not an error.
func Collect(pid uint32) (*Metadata, bool) {
	procDir := fmt.Sprintf("/proc/%d", pid)
	if _, err := os.Stat(procDir); os.IsNotExist(err) {
		return nil, false
	}

	md := &Metadata{}

	if exePath, err := os.Readlink(procDir + "/exe"); err == nil {
		md.ExePath = exePath
	}

	if cmdlineBytes, err := os.ReadFile(procDir + "/cmdline"); err == nil && len(cmdlineBytes) > 0 {
		args := bytes.Split(cmdlineBytes, []byte{0})
		var cmdArgs []string
		for _, arg := range args {
			if len(arg) > 0 {
				cmdArgs = append(cmdArgs, string(arg))
			}
		}
		md.CmdLine = strings.Join(cmdArgs, " ")
	}

	if cwd, err := os.Readlink(procDir + "/cwd"); err == nil {
		md.WorkingDir = cwd
	}

	if cgroupData, err := os.ReadFile(procDir + "/cgroup"); err == nil {
		md.ContainerID = containerIDFromCgroup(string(cgroupData))
	}

	return md, true
}

func containerIDFromCgroup(cgroupData string) string {
	for _, line := range strings.Split(cgroupData, "\n") {
		if !strings.Contains(line, "docker") && !strings.Contains(line, "containerd") {
			continue
		}
		parts := strings.Split(line, "/")
		for i := len(parts) - 1; i >= 0; i-- {
			if containerIDRegex.MatchString(parts[i]) {
				return parts[i]
			}
		}
	}
	return ""
}
