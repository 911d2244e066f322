// ABOUTME: Static roadmap and community directory embedded in the binary.
// ABOUTME: Parses the bundled TOML document and filters communities by platform.
package catalog

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"
)

//go:embed catalog.toml
var catalogData []byte

// Stage is one step of a roadmap.
type Stage struct {
	Title  string   `toml:"title" json:"title"`
	Topics []string `toml:"topics" json:"topics"`
}

// Roadmap is a learning path made of ordered stages.
type Roadmap struct {
	Title  string  `toml:"title" json:"title"`
	Stages []Stage `toml:"stages" json:"stages"`
}

// Community is a single group a developer can join.
type Community struct {
	Name        string `toml:"name" json:"name"`
	Description string `toml:"description" json:"description"`
	Link        string `toml:"link" json:"link"`
}

// Platform groups communities hosted on the same service.
type Platform struct {
	Name        string      `toml:"name" json:"name"`
	Key         string      `toml:"key" json:"key"`
	Communities []Community `toml:"communities" json:"communities"`
}

// Catalog is the full directory.
type Catalog struct {
	Roadmaps  []Roadmap  `toml:"roadmaps" json:"roadmaps"`
	Platforms []Platform `toml:"platforms" json:"platforms"`
}

// AllPlatforms selects every platform in Communities.
const AllPlatforms = "all"

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(catalogData)
}

// Parse decodes a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return &c, nil
}

// Communities returns the platforms whose name contains filter, ignoring
// case. An empty filter or "all" returns every platform.
func (c *Catalog) Communities(filter string) []Platform {
	filter = strings.ToLower(strings.TrimSpace(filter))
	if filter == "" || filter == AllPlatforms {
		return c.Platforms
	}
	return lo.Filter(c.Platforms, func(p Platform, _ int) bool {
		return p.Key == filter || strings.Contains(strings.ToLower(p.Name), filter)
	})
}

// PlatformKeys lists the short filter names in document order.
func (c *Catalog) PlatformKeys() []string {
	return lo.Map(c.Platforms, func(p Platform, _ int) string { return p.Key })
}
