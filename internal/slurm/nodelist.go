// Package slurm reads the node allocation of a slurm job.
package slurm

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// NodelistEnv holds the compressed node list of the current job.
const NodelistEnv = "SLURM_JOB_NODELIST"

// Nodes returns the expanded node list of the current job.
func Nodes() ([]string, error) {
	list := os.Getenv(NodelistEnv)
	if list == "" {
		return nil, errors.Errorf("%s is not set, run inside a slurm allocation", NodelistEnv)
	}
	return ParseNodelist(list)
}

// ParseNodelist expands a compressed slurm node list, such as
// "cn[01-03,07],gpu1", into one host name per node. Entries may be separated
// by commas or spaces. Zero padding of ranges is preserved.
func ParseNodelist(list string) ([]string, error) {
	var nodes []string
	for _, entry := range splitEntries(list) {
		open := strings.IndexByte(entry, '[')
		if open < 0 {
			if strings.ContainsAny(entry, "]") {
				return nil, errors.Errorf("unbalanced bracket in %q", entry)
			}
			nodes = append(nodes, entry)
			continue
		}
		if !strings.HasSuffix(entry, "]") {
			return nil, errors.Errorf("unbalanced bracket in %q", entry)
		}
		prefix := entry[:open]
		for _, r := range strings.Split(entry[open+1:len(entry)-1], ",") {
			expanded, err := expandRange(prefix, r)
			if err != nil {
				return nil, errors.WithMessagef(err, "node list entry %q", entry)
			}
			nodes = append(nodes, expanded...)
		}
	}
	if len(nodes) == 0 {
		return nil, errors.Errorf("empty node list %q", list)
	}
	return nodes, nil
}

// splitEntries splits at commas and spaces outside brackets.
func splitEntries(list string) []string {
	var entries []string
	depth, start := 0, 0
	flush := func(end int) {
		if s := strings.TrimSpace(list[start:end]); s != "" {
			entries = append(entries, s)
		}
		start = end + 1
	}
	for i, c := range list {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
		case ',', ' ':
			if depth == 0 {
				flush(i)
			}
		}
	}
	flush(len(list))
	return entries
}

func expandRange(prefix, r string) ([]string, error) {
	lo, hi, isRange := strings.Cut(r, "-")
	if !isRange {
		if _, err := strconv.Atoi(lo); err != nil {
			return nil, errors.Errorf("bad index %q", lo)
		}
		return []string{prefix + lo}, nil
	}
	low, err := strconv.Atoi(lo)
	if err != nil {
		return nil, errors.Errorf("bad range %q", r)
	}
	high, err := strconv.Atoi(hi)
	if err != nil || high < low {
		return nil, errors.Errorf("bad range %q", r)
	}
	width := len(lo)
	names := make([]string, 0, high-low+1)
	for i := low; i <= high; i++ {
		names = append(names, fmt.Sprintf("%s%0*d", prefix, width, i))
	}
	return names, nil
}

// Addrs returns one address per node, ports counting up from baseport.
func Addrs(nodes []string, baseport int) []string {
	addrs := make([]string, len(nodes))
	for i, node := range nodes {
		addrs[i] = node + ":" + strconv.Itoa(baseport+i)
	}
	return addrs
}
