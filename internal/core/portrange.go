package core

import (
	"sort"
	"strconv"
	"strings"

	"github.com/edvin/fleet/internal/model"
)

// portSet flattens the port lists of leased blocks into a lookup set.
func portSet(blocks [][]int) map[int]struct{} {
	set := make(map[int]struct{})
	for _, ports := range blocks {
		for _, p := range ports {
			set[p] = struct{}{}
		}
	}
	return set
}

// FirstFit returns the lowest-starting run of count consecutive ports within
// [start, end] that contains no taken port.
func FirstFit(start, end, count int, taken map[int]struct{}) ([]int, bool) {
	if count <= 0 || end-start+1 < count {
		return nil, false
	}
	run := 0
	for p := start; p <= end; p++ {
		if _, ok := taken[p]; ok {
			run = 0
			continue
		}
		run++
		if run == count {
			return contiguous(p-count+1, count), true
		}
	}
	return nil, false
}

func contiguous(first, count int) []int {
	ports := make([]int, count)
	for i := range ports {
		ports[i] = first + i
	}
	return ports
}

// overlapping returns the ports in want that are already taken, ascending.
func overlapping(want []int, taken map[int]struct{}) []int {
	var out []int
	for _, p := range want {
		if _, ok := taken[p]; ok {
			out = append(out, p)
		}
	}
	sort.Ints(out)
	return out
}

// normalizeExplicitPorts sorts an explicit port list and rejects duplicates
// and ports outside the pool.
func normalizeExplicitPorts(pool *model.PortPool, ports []int) ([]int, error) {
	if len(ports) == 0 {
		return nil, invalid("ports", "must not be empty")
	}
	out := append([]int(nil), ports...)
	sort.Ints(out)
	for i, p := range out {
		if !pool.Contains(p) {
			return nil, invalid("ports", "port %d outside pool range %d-%d", p, pool.StartPort, pool.EndPort)
		}
		if i > 0 && out[i-1] == p {
			return nil, invalid("ports", "duplicate port %d", p)
		}
	}
	return out, nil
}

// FormatPorts renders a port list the way job payloads carry it.
func FormatPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
