// Package params derives parameters ids and tracks the ids known per layer.
package params

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ID returns the canonical parameters id of a parameter map: keys upper-cased and sorted,
// joined as K=V&K=V and hashed with xxhash64, rendered as 16 hex digits.
// An empty map is the default partition and yields "".
func ID(parameters map[string]string) string {
	if len(parameters) == 0 {
		return ""
	}
	canon := make(map[string]string, len(parameters))
	keys := make([]string, 0, len(parameters))
	for k, v := range parameters {
		uk := strings.ToUpper(strings.TrimSpace(k))
		prev, dup := canon[uk]
		if !dup {
			keys = append(keys, uk)
		}
		// keys differing only by case collapse onto the greatest value
		if !dup || v > prev {
			canon[uk] = v
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(canon[k])
	}
	return formatID(xxhash.Sum64String(b.String()))
}

func formatID(h uint64) string {
	s := strconv.FormatUint(h, 16)
	if len(s) < 16 {
		s = strings.Repeat("0", 16-len(s)) + s
	}
	return s
}

// Registry records the non-default parameters ids seen for each layer.
type Registry interface {
	ParametersIDs(ctx context.Context, layer string) ([]string, error)
	Add(ctx context.Context, layer string, ids ...string) error
}
