package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Node is one remote DNS server instance whose query log gets ingested
type Node struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	BaseURL      string `yaml:"baseUrl"`
	Token        string `yaml:"token"`
	LogApp       string `yaml:"logApp" default:"Query Logs (Sqlite)"`
	LogClassPath string `yaml:"logClassPath" default:"QueryLogsSqlite.App"`
}

// DisplayName returns the name or the id if no name is set
func (n *Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}

	return n.ID
}

// Nodes list of configured nodes
type Nodes []Node

// IsEnabled implements `config.Configurable`.
func (c *Nodes) IsEnabled() bool {
	return len(*c) > 0
}

// ByID returns the node with passed id
func (c Nodes) ByID(id string) (Node, bool) {
	for _, n := range c {
		if n.ID == id {
			return n, true
		}
	}

	return Node{}, false
}

// IDs returns the ids of all nodes in configuration order
func (c Nodes) IDs() []string {
	ids := make([]string, 0, len(c))
	for _, n := range c {
		ids = append(ids, n.ID)
	}

	return ids
}

// Validate checks that every node has a unique id and a base URL
func (c Nodes) Validate() error {
	seen := make(map[string]struct{}, len(c))

	for i, n := range c {
		if strings.TrimSpace(n.ID) == "" {
			return fmt.Errorf("node %d: id must be set", i)
		}

		if n.ID == AllNodes {
			return fmt.Errorf("node %d: id '%s' is reserved", i, AllNodes)
		}

		if _, ok := seen[n.ID]; ok {
			return fmt.Errorf("node '%s': duplicate id", n.ID)
		}

		seen[n.ID] = struct{}{}

		if strings.TrimSpace(n.BaseURL) == "" {
			return errors.New("node '" + n.ID + "': baseUrl must be set")
		}
	}

	return nil
}

// AllNodes is the pseudo node id selecting the combined view
const AllNodes = "all"

// LogConfig implements `config.Configurable`.
func (c *Nodes) LogConfig(logger *logrus.Entry) {
	for _, n := range *c {
		token := ""
		if n.Token != "" {
			token = secretObfuscator
		}

		logger.Infof("- %s (%s) = %s token=%q", n.ID, n.DisplayName(), n.BaseURL, token)
	}
}
