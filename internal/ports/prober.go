// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ports answers "is anything listening on this TCP port" and frees
// ports held by other processes.
package ports

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	ps "github.com/mitchellh/go-ps"
)

// Result is the outcome of a probe. Bound=false with a nil error is the
// normal "nothing listening" answer.
type Result struct {
	Port      int    `json:"port"`
	Bound     bool   `json:"bound"`
	OwnerHint string `json:"ownerHint,omitempty"`
	PIDs      []int  `json:"pids,omitempty"`
}

// Prober checks port occupancy.
type Prober interface {
	Probe(ctx context.Context, port int) (Result, error)
}

// SystemProber queries the local OS. On Linux it reads the kernel socket
// tables under /proc; elsewhere it asks lsof, and as a last resort tries to
// connect to the port on loopback.
type SystemProber struct {
	procRoot    string
	lsofPath    string
	dialTimeout time.Duration
}

// NewSystemProber creates a prober for the local host.
func NewSystemProber() *SystemProber {
	p := &SystemProber{
		procRoot:    "/proc",
		dialTimeout: 250 * time.Millisecond,
	}
	if path, err := exec.LookPath("lsof"); err == nil {
		p.lsofPath = path
	}
	return p
}

// Probe reports whether any process is listening on port.
func (p *SystemProber) Probe(ctx context.Context, port int) (Result, error) {
	if port <= 0 || port > 65535 {
		return Result{Port: port}, fmt.Errorf("invalid port %d", port)
	}

	res := Result{Port: port}
	inodes, err := p.listeningInodes(port)
	switch {
	case err == nil:
		res.Bound = len(inodes) > 0
		if res.Bound {
			res.PIDs = p.pidsForInodes(inodes)
			if len(res.PIDs) == 0 && p.lsofPath != "" {
				res.PIDs, _ = p.lsofPIDs(ctx, port)
			}
		}
	case p.lsofPath != "":
		pids, lerr := p.lsofPIDs(ctx, port)
		if lerr != nil {
			return res, lerr
		}
		res.Bound = len(pids) > 0
		res.PIDs = pids
	default:
		res.Bound = p.dial(ctx, port)
	}

	if len(res.PIDs) > 0 {
		res.OwnerHint = ownerName(res.PIDs[0])
	}
	return res, nil
}

// listeningInodes returns socket inodes of LISTEN entries for port across
// tcp and tcp6. It fails only when neither table can be read.
func (p *SystemProber) listeningInodes(port int) (map[string]struct{}, error) {
	inodes := make(map[string]struct{})
	readAny := false
	for _, table := range []string{"net/tcp", "net/tcp6"} {
		f, err := os.Open(filepath.Join(p.procRoot, table))
		if err != nil {
			continue
		}
		readAny = true
		scanListeners(f, port, inodes)
		f.Close()
	}
	if !readAny {
		return nil, errors.New("kernel socket table unavailable")
	}
	return inodes, nil
}

// tcpListen is the kernel's TCP_LISTEN state code.
const tcpListen = "0A"

func scanListeners(f *os.File, port int, inodes map[string]struct{}) {
	scanner := bufio.NewScanner(f)
	scanner.Scan() // header
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 || fields[3] != tcpListen {
			continue
		}
		local := fields[1]
		idx := strings.LastIndexByte(local, ':')
		if idx < 0 {
			continue
		}
		p, err := strconv.ParseUint(local[idx+1:], 16, 16)
		if err != nil || int(p) != port {
			continue
		}
		if inode := fields[9]; inode != "0" {
			inodes[inode] = struct{}{}
		}
	}
}

// pidsForInodes finds processes holding any of the socket inodes. Processes
// whose fd table we cannot read are skipped.
func (p *SystemProber) pidsForInodes(inodes map[string]struct{}) []int {
	entries, err := os.ReadDir(p.procRoot)
	if err != nil {
		return nil
	}
	var pids []int
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		fdDir := filepath.Join(p.procRoot, e.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			link, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err != nil || !strings.HasPrefix(link, "socket:[") {
				continue
			}
			if _, ok := inodes[link[len("socket:["):len(link)-1]]; ok {
				pids = append(pids, pid)
				break
			}
		}
	}
	sort.Ints(pids)
	return pids
}

func (p *SystemProber) lsofPIDs(ctx context.Context, port int) ([]int, error) {
	cmd := exec.CommandContext(ctx, p.lsofPath, "-nP", fmt.Sprintf("-iTCP:%d", port), "-sTCP:LISTEN", "-t")
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		// lsof exits 1 when nothing matches.
		if errors.As(err, &exitErr) && len(out) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("lsof port %d: %w", port, err)
	}
	seen := make(map[int]bool)
	var pids []int
	for _, line := range strings.Fields(string(out)) {
		pid, err := strconv.Atoi(line)
		if err != nil || seen[pid] {
			continue
		}
		seen[pid] = true
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids, nil
}

func (p *SystemProber) dial(ctx context.Context, port int) bool {
	d := net.Dialer{Timeout: p.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// ownerName returns the executable name of pid, or "" if unknown.
func ownerName(pid int) string {
	proc, err := ps.FindProcess(pid)
	if err != nil || proc == nil {
		return ""
	}
	return proc.Executable()
}
