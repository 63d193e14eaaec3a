// Package catalog describes what the agent offers: its identity and, for each
// advertised capability, whether calling it requires payment.
package catalog

import (
	"errors"
	"strings"

	"github.com/ent0n29/xiaobei/internal/agenterr"
)

var ErrNotFound = errors.New("capability not found")

// Agent is the static identity published through discovery.
type Agent struct {
	Protocol    string            `json:"protocol"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Version     string            `json:"version"`
	Created     string            `json:"created"`
	Links       map[string]string `json:"links,omitempty"`
}

// Descriptor describes a single capability. Price, PayTo and PaymentProtocol
// only carry meaning when PaymentRequired is set.
type Descriptor struct {
	Name            string
	Description     string
	PaymentRequired bool
	Price           string
	PayTo           string
	PaymentProtocol string
}

// Price is the per-capability pricing entry returned by the handshake.
type Price struct {
	Price    string `json:"price"`
	Protocol string `json:"protocol,omitempty"`
	PayTo    string `json:"pay_to,omitempty"`
}

// Catalog is immutable after New and safe for concurrent use.
type Catalog struct {
	agent  Agent
	order  []string
	byName map[string]Descriptor
}

func New(agent Agent, descriptors []Descriptor) (*Catalog, error) {
	if len(descriptors) == 0 {
		return nil, agenterr.Internal(agenterr.KindCatalogMisconfigured, "catalog has no capabilities")
	}
	c := &Catalog{
		agent:  agent,
		order:  make([]string, 0, len(descriptors)),
		byName: make(map[string]Descriptor, len(descriptors)),
	}
	for _, d := range descriptors {
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			return nil, agenterr.Internal(agenterr.KindCatalogMisconfigured, "capability with empty name")
		}
		if _, dup := c.byName[d.Name]; dup {
			return nil, agenterr.Internal(agenterr.KindCatalogMisconfigured, "duplicate capability %q", d.Name)
		}
		if d.PaymentRequired {
			if strings.TrimSpace(d.Price) == "" || strings.TrimSpace(d.PayTo) == "" || strings.TrimSpace(d.PaymentProtocol) == "" {
				return nil, agenterr.Internal(agenterr.KindCatalogMisconfigured,
					"paid capability %q needs price, pay_to and payment protocol", d.Name)
			}
		} else {
			d.Price, d.PayTo, d.PaymentProtocol = "", "", ""
		}
		c.order = append(c.order, d.Name)
		c.byName[d.Name] = d
	}
	return c, nil
}

func (c *Catalog) Agent() Agent {
	a := c.agent
	if a.Links != nil {
		links := make(map[string]string, len(a.Links))
		for k, v := range a.Links {
			links[k] = v
		}
		a.Links = links
	}
	return a
}

func (c *Catalog) Describe(name string) (Descriptor, error) {
	d, ok := c.byName[name]
	if !ok {
		return Descriptor{}, ErrNotFound
	}
	return d, nil
}

// AdvertisedNames returns capability names in declaration order.
func (c *Catalog) AdvertisedNames() []string {
	return append([]string(nil), c.order...)
}

func (c *Catalog) Pricing() map[string]Price {
	out := make(map[string]Price, len(c.order))
	for _, name := range c.order {
		d := c.byName[name]
		if !d.PaymentRequired {
			out[name] = Price{Price: "free"}
			continue
		}
		out[name] = Price{Price: d.Price, Protocol: d.PaymentProtocol, PayTo: d.PayTo}
	}
	return out
}
