package fleetctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/edvin/fleet/internal/model"
)

// LoadConfig reads and checks a fleet file. The API key falls back to the
// FLEET_API_KEY environment variable.
func LoadConfig(path string) (*FleetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg FleetConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("FLEET_API_KEY")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "http://localhost:8090"
	}
	if cfg.APIKey == "" {
		return nil, errors.New("no API key: set api_key in config or FLEET_API_KEY env var")
	}

	seen := make(map[string]bool, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		if n.Name == "" {
			return nil, errors.New("node without a name")
		}
		if seen[n.Name] {
			return nil, fmt.Errorf("node %q defined twice", n.Name)
		}
		seen[n.Name] = true
	}
	return &cfg, nil
}

// Apply brings the fleet in line with the file at configPath.
func Apply(ctx context.Context, configPath string, out io.Writer) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	return ApplyConfig(ctx, cfg, NewClient(cfg.APIURL, cfg.APIKey), out)
}

// ApplyConfig registers missing nodes, replaces disk policies that are
// declared, and creates declared port pools a node does not have yet.
// Nothing is deleted. Secrets of newly registered nodes are written to out;
// the API never shows them again.
func ApplyConfig(ctx context.Context, cfg *FleetConfig, client *Client, out io.Writer) error {
	existing, err := listNodes(ctx, client)
	if err != nil {
		return err
	}

	for _, def := range cfg.Nodes {
		node, ok := existing[def.Name]
		if ok {
			fmt.Fprintf(out, "Node %q exists: %s\n", def.Name, node.ID)
		} else {
			node, err = registerNode(ctx, client, def, out)
			if err != nil {
				return err
			}
		}

		if def.Disk != nil {
			if _, err := client.Put(ctx, "/api/v1/nodes/"+url.PathEscape(node.ID)+"/disk", def.Disk); err != nil {
				return fmt.Errorf("update disk settings of node %q: %w", def.Name, err)
			}
			fmt.Fprintf(out, "  disk policy set (protect at %d%% free)\n", def.Disk.ProtectPercent)
		}

		if err := applyPools(ctx, client, node.ID, def, out); err != nil {
			return err
		}
	}
	return nil
}

func listNodes(ctx context.Context, client *Client) (map[string]model.Node, error) {
	nodes := make(map[string]model.Node)
	cursor := ""
	for {
		path := "/api/v1/nodes?limit=200"
		if cursor != "" {
			path += "&cursor=" + url.QueryEscape(cursor)
		}
		resp, err := client.Get(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("list nodes: %w", err)
		}
		var page struct {
			Items      []model.Node `json:"items"`
			NextCursor string       `json:"next_cursor"`
			HasMore    bool         `json:"has_more"`
		}
		if err := resp.Decode(&page); err != nil {
			return nil, fmt.Errorf("list nodes: %w", err)
		}
		for _, n := range page.Items {
			nodes[n.Name] = n
		}
		if !page.HasMore || page.NextCursor == "" {
			return nodes, nil
		}
		cursor = page.NextCursor
	}
}

func registerNode(ctx context.Context, client *Client, def NodeDef, out io.Writer) (model.Node, error) {
	resp, err := client.Post(ctx, "/api/v1/nodes", map[string]any{
		"name":  def.Name,
		"roles": def.Roles,
	})
	if err != nil {
		return model.Node{}, fmt.Errorf("register node %q: %w", def.Name, err)
	}
	var created struct {
		Node   model.Node `json:"node"`
		Secret string     `json:"secret"`
	}
	if err := resp.Decode(&created); err != nil {
		return model.Node{}, fmt.Errorf("register node %q: %w", def.Name, err)
	}
	fmt.Fprintf(out, "Node %q registered: %s\n", def.Name, created.Node.ID)
	fmt.Fprintf(out, "  NODE_ID=%s NODE_SECRET=%s\n", created.Node.ID, created.Secret)
	return created.Node, nil
}

func applyPools(ctx context.Context, client *Client, nodeID string, def NodeDef, out io.Writer) error {
	if len(def.PortPools) == 0 {
		return nil
	}

	resp, err := client.Get(ctx, "/api/v1/nodes/"+url.PathEscape(nodeID)+"/port-pools")
	if err != nil {
		return fmt.Errorf("list port pools of node %q: %w", def.Name, err)
	}
	var pools []model.PortPool
	if err := resp.Decode(&pools); err != nil {
		return fmt.Errorf("list port pools of node %q: %w", def.Name, err)
	}

	for _, want := range def.PortPools {
		if hasPool(pools, want) {
			fmt.Fprintf(out, "  port pool %d-%d exists\n", want.StartPort, want.EndPort)
			continue
		}
		if _, err := client.Post(ctx, "/api/v1/nodes/"+url.PathEscape(nodeID)+"/port-pools", want); err != nil {
			return fmt.Errorf("create port pool %d-%d on node %q: %w", want.StartPort, want.EndPort, def.Name, err)
		}
		fmt.Fprintf(out, "  port pool %d-%d created\n", want.StartPort, want.EndPort)
	}
	return nil
}

func hasPool(pools []model.PortPool, want PortPoolDef) bool {
	protocol := want.Protocol
	if protocol == "" {
		protocol = model.ProtocolTCPUDP
	}
	for _, p := range pools {
		if p.StartPort == want.StartPort && p.EndPort == want.EndPort && p.Protocol == protocol {
			return true
		}
	}
	return false
}
