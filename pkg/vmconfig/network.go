package vmconfig

import (
	"fmt"

	"github.com/google/uuid"
)

// Network kinds.
const (
	NetworkForwardedPort = "forwarded_port"
	NetworkPrivate       = "private_network"
	NetworkPublic        = "public_network"
)

var validNetworkKinds = map[string]bool{
	NetworkForwardedPort: true,
	NetworkPrivate:       true,
	NetworkPublic:        true,
}

// newID returns a random identity for entities declared without an id.
var newID = func() string {
	return uuid.NewString()
}

// NetworkEntry is one declared network. Its identity key is Kind + "-" + id.
type NetworkEntry struct {
	Kind    string  `json:"kind" yaml:"kind"`
	Options Options `json:"options" yaml:"options"`
}

// ID returns the entry's id option.
func (n NetworkEntry) ID() string {
	return n.Options.String("id")
}

// Key returns the identity key of the entry.
func (n NetworkEntry) Key() string {
	return networkKey(n.Kind, n.ID())
}

func (n NetworkEntry) clone() NetworkEntry {
	return NetworkEntry{Kind: n.Kind, Options: n.Options.Clone()}
}

func networkKey(kind, id string) string {
	return kind + "-" + id
}

// Network declares a network of the given kind. Without an explicit id a
// forwarded port is identified by host IP, protocol and host port, so two
// declarations colliding on the host side are the same entry. Redeclaring an
// existing entry layers the new options on top of the old ones.
func (c *VMConfig) Network(kind string, opts Options) {
	opts = opts.Clone()
	if opts["protocol"] == nil {
		opts["protocol"] = "tcp"
	}
	if opts.String("id") == "" {
		id := ""
		if kind == NetworkForwardedPort {
			id = fmt.Sprintf("%s%s%s", opts.String("host_ip"), opts.String("protocol"), opts.String("host"))
		}
		if id == "" {
			id = newID()
		}
		opts["id"] = id
	}

	key := networkKey(kind, opts.String("id"))
	if prev, ok := c.networks.Get(key); ok {
		opts = shallowMerge(prev.Options, opts)
	}
	c.networks.Set(key, NetworkEntry{Kind: kind, Options: opts})
}

// Networks returns the declared networks in declaration order.
func (c *VMConfig) Networks() []NetworkEntry {
	return c.networks.Values()
}

// NetworkByKey returns the network stored under an identity key such as
// "forwarded_port-ssh".
func (c *VMConfig) NetworkByKey(key string) (NetworkEntry, bool) {
	return c.networks.Get(key)
}
