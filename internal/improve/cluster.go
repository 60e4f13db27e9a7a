package improve

import (
	"regexp"
	"strings"
)

// Cluster groups similar unmatched messages. The representative is the
// message that seeded the cluster; keywords are the tokens appearing at
// least twice across members, in order of first appearance.
type Cluster struct {
	Representative string
	Members        []string
	Keywords       []string
}

// Pattern renders the cluster's keywords as a loose regex candidate for a
// new route, e.g. "price.*check".
func (c *Cluster) Pattern() string {
	if len(c.Keywords) == 0 {
		return regexp.QuoteMeta(c.Representative)
	}
	quoted := make([]string, len(c.Keywords))
	for i, k := range c.Keywords {
		quoted[i] = regexp.QuoteMeta(k)
	}
	return strings.Join(quoted, ".*")
}

type clusterState struct {
	representative string
	members        []string
	tokens         map[string]bool
	tokenCounts    map[string]int
	tokenOrder     []string
}

// clusterMessages runs a greedy single pass: each message joins the first
// existing cluster it shares at least two tokens with (one token suffices
// for short messages of three tokens or fewer), otherwise it seeds a new
// cluster. Joining unions the message's tokens into the cluster.
func clusterMessages(messages []string) []*Cluster {
	var states []*clusterState

	for _, msg := range messages {
		tokens := tokenize(msg)
		short := len(tokens) <= 3

		var joined *clusterState
		for _, s := range states {
			shared := 0
			for _, t := range tokens {
				if s.tokens[t] {
					shared++
				}
			}
			if shared >= 2 || (short && shared >= 1) {
				joined = s
				break
			}
		}
		if joined == nil {
			joined = &clusterState{
				representative: msg,
				tokens:         make(map[string]bool),
				tokenCounts:    make(map[string]int),
			}
			states = append(states, joined)
		}
		joined.members = append(joined.members, msg)
		for _, t := range tokens {
			if !joined.tokens[t] {
				joined.tokens[t] = true
				joined.tokenOrder = append(joined.tokenOrder, t)
			}
			joined.tokenCounts[t]++
		}
	}

	out := make([]*Cluster, 0, len(states))
	for _, s := range states {
		c := &Cluster{Representative: s.representative, Members: s.members}
		for _, t := range s.tokenOrder {
			if s.tokenCounts[t] >= 2 {
				c.Keywords = append(c.Keywords, t)
			}
		}
		out = append(out, c)
	}
	return out
}

var tokenRegexp = regexp.MustCompile(`[a-z0-9]+`)

// tokenize lowercases and keeps alphanumeric runs longer than three chars.
func tokenize(message string) []string {
	var out []string
	for _, t := range tokenRegexp.FindAllString(strings.ToLower(message), -1) {
		if len(t) > 3 {
			out = append(out, t)
		}
	}
	return out
}
