package core

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/edvin/fleet/internal/metrics"
	"github.com/edvin/fleet/internal/model"
	"github.com/edvin/fleet/internal/platform"
)

const nodeColumns = `id, name, roles, status, last_heartbeat_at, last_seen_at, last_ip, last_version,
	stats, metadata, disk_scan_interval_s, disk_warning_pct, disk_hard_block_pct,
	disk_protect_threshold_pct, disk_protect_override_until, secret_hash, created_at, updated_at`

type NodeService struct {
	db    DB
	clock Clock
}

func NewNodeService(db DB, clock Clock) *NodeService {
	return &NodeService{db: db, clock: clock}
}

func scanNode(row pgx.Row) (*model.Node, error) {
	var n model.Node
	err := row.Scan(&n.ID, &n.Name, &n.Roles, &n.Status, &n.LastHeartbeatAt, &n.LastSeenAt,
		&n.LastIP, &n.LastVersion, &n.Stats, &n.Metadata,
		&n.Disk.ScanIntervalSeconds, &n.Disk.WarningPercent, &n.Disk.HardBlockPercent,
		&n.Disk.ProtectPercent, &n.Disk.OverrideUntil, &n.SecretHash, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func collectNodes(rows pgx.Rows) ([]model.Node, error) {
	defer rows.Close()
	var nodes []model.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return nodes, nil
}

// Register creates a node with the default disk policy and returns it along
// with its shared secret. Only the bcrypt hash of the secret is stored, so
// the secret must be handed to the node now.
func (s *NodeService) Register(ctx context.Context, name string, roles []string) (*model.Node, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", invalid("name", "is required")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("generate node secret: %w", err)
	}
	secret := hex.EncodeToString(raw)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash node secret: %w", err)
	}

	now := s.clock.Now()
	node := &model.Node{
		ID:         platform.NewID(),
		Name:       name,
		Roles:      MergeRoles(nil, roles),
		Status:     model.NodeStatusOffline,
		Disk:       model.DefaultDiskSettings(),
		SecretHash: string(hash),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO nodes (id, name, roles, status, disk_scan_interval_s, disk_warning_pct,
		   disk_hard_block_pct, disk_protect_threshold_pct, secret_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		node.ID, node.Name, node.Roles, node.Status,
		node.Disk.ScanIntervalSeconds, node.Disk.WarningPercent, node.Disk.HardBlockPercent,
		node.Disk.ProtectPercent, node.SecretHash, node.CreatedAt, node.UpdatedAt,
	)
	if err != nil {
		return nil, "", fmt.Errorf("register node %q: %w", name, err)
	}

	zerolog.Ctx(ctx).Info().Str("node_id", node.ID).Str("name", name).Msg("node registered")
	return node, secret, nil
}

func (s *NodeService) GetByID(ctx context.Context, id string) (*model.Node, error) {
	n, err := scanNode(s.db.QueryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id))
	if err != nil {
		return nil, lookupErr("node", id, err)
	}
	return n, nil
}

// List returns nodes ordered by id, paginated by id cursor.
func (s *NodeService) List(ctx context.Context, limit int, cursor string) ([]model.Node, bool, error) {
	if limit <= 0 {
		return nil, false, invalid("limit", "must be positive")
	}
	query := `SELECT ` + nodeColumns + ` FROM nodes`
	args := []any{}
	argIdx := 1

	if cursor != "" {
		query += fmt.Sprintf(` WHERE id > $%d`, argIdx)
		args = append(args, cursor)
		argIdx++
	}

	query += ` ORDER BY id`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list nodes: %w", err)
	}
	nodes, err := collectNodes(rows)
	if err != nil {
		return nil, false, err
	}

	hasMore := len(nodes) > limit
	if hasMore {
		nodes = nodes[:limit]
	}
	return nodes, hasMore, nil
}

// ListAll returns every node ordered by name.
func (s *NodeService) ListAll(ctx context.Context) ([]model.Node, error) {
	rows, err := s.db.Query(ctx, `SELECT `+nodeColumns+` FROM nodes ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	return collectNodes(rows)
}

// Authenticate checks a node's shared secret.
func (s *NodeService) Authenticate(ctx context.Context, nodeID, secret string) (*model.Node, error) {
	if nodeID == "" || secret == "" {
		return nil, ErrInvalidCredentials
	}
	n, err := s.GetByID(ctx, nodeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(n.SecretHash), []byte(secret)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return n, nil
}

// IngestHeartbeat records a heartbeat from nodeID.
func (s *NodeService) IngestHeartbeat(ctx context.Context, nodeID string, hb model.Heartbeat) (*model.Node, error) {
	if err := checkJSONObject("stats", hb.Stats); err != nil {
		return nil, err
	}
	if err := checkJSONObject("metadata", hb.Metadata); err != nil {
		return nil, err
	}

	var node *model.Node
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		n, err := scanNode(tx.QueryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = $1 FOR UPDATE`, nodeID))
		if err != nil {
			return lookupErr("node", nodeID, err)
		}

		ApplyHeartbeat(n, hb, s.clock.Now())

		_, err = tx.Exec(ctx,
			`UPDATE nodes SET status = $2, roles = $3, last_heartbeat_at = $4, last_seen_at = $4,
			   last_ip = $5, last_version = $6, stats = $7, metadata = $8, updated_at = $4
			 WHERE id = $1`,
			n.ID, n.Status, n.Roles, n.LastHeartbeatAt, n.LastIP, n.LastVersion,
			nullJSON(n.Stats), nullJSON(n.Metadata),
		)
		if err != nil {
			return fmt.Errorf("record heartbeat for node %s: %w", nodeID, err)
		}
		node = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.Heartbeats.Inc()
	zerolog.Ctx(ctx).Debug().Str("node_id", nodeID).Str("status", node.Status).Msg("heartbeat ingested")
	return node, nil
}

// ApplyHeartbeat folds a heartbeat into node. Roles are merged rather than
// replaced, and an empty role list leaves them alone. A missing status means
// online. Stats replace the previous stats; null metadata keeps the old value.
func ApplyHeartbeat(node *model.Node, hb model.Heartbeat, now time.Time) {
	at := now
	node.LastHeartbeatAt = &at
	node.LastSeenAt = &at
	node.UpdatedAt = now

	node.Status = model.NodeStatusOnline
	if hb.Status != nil && *hb.Status != "" {
		node.Status = *hb.Status
	}
	if len(hb.Roles) > 0 {
		node.Roles = MergeRoles(node.Roles, hb.Roles)
	}
	if !isNullJSON(hb.Stats) {
		node.Stats = hb.Stats
	}
	if !isNullJSON(hb.Metadata) {
		node.Metadata = hb.Metadata
	}
	if hb.IP != "" {
		ip := hb.IP
		node.LastIP = &ip
	}
	if hb.Version != "" {
		v := hb.Version
		node.LastVersion = &v
	}
}

// MergeRoles returns the sorted union of two role lists without blanks.
func MergeRoles(current, incoming []string) []string {
	set := make(map[string]struct{}, len(current)+len(incoming))
	for _, r := range append(append([]string(nil), current...), incoming...) {
		r = strings.TrimSpace(r)
		if r != "" {
			set[r] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func isNullJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func nullJSON(raw json.RawMessage) any {
	if isNullJSON(raw) {
		return nil
	}
	return []byte(raw)
}

func checkJSONObject(field string, raw json.RawMessage) error {
	if isNullJSON(raw) {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return invalid(field, "must be a JSON object")
	}
	return nil
}

// UpdateDiskSettings replaces the node's disk policy. The override expiry is
// not touched.
func (s *NodeService) UpdateDiskSettings(ctx context.Context, nodeID string, settings model.DiskSettings) (*model.Node, error) {
	if err := ValidateDiskSettings(settings); err != nil {
		return nil, err
	}
	n, err := scanNode(s.db.QueryRow(ctx,
		`UPDATE nodes SET disk_scan_interval_s = $2, disk_warning_pct = $3, disk_hard_block_pct = $4,
		   disk_protect_threshold_pct = $5, updated_at = $6
		 WHERE id = $1
		 RETURNING `+nodeColumns,
		nodeID, settings.ScanIntervalSeconds, settings.WarningPercent, settings.HardBlockPercent,
		settings.ProtectPercent, s.clock.Now()))
	if err != nil {
		return nil, lookupErr("node", nodeID, err)
	}
	return n, nil
}

// SetProtectionOverride suspends disk protect mode on the node for the given
// number of minutes from now, replacing any earlier override. Zero or
// negative minutes clear it.
func (s *NodeService) SetProtectionOverride(ctx context.Context, nodeID string, minutes int) (*model.Node, error) {
	now := s.clock.Now()
	until := OverrideExpiry(now, minutes)
	n, err := scanNode(s.db.QueryRow(ctx,
		`UPDATE nodes SET disk_protect_override_until = $2, updated_at = $3
		 WHERE id = $1
		 RETURNING `+nodeColumns,
		nodeID, until, now))
	if err != nil {
		return nil, lookupErr("node", nodeID, err)
	}

	ev := zerolog.Ctx(ctx).Info().Str("node_id", nodeID)
	if until == nil {
		ev.Msg("disk protection override cleared")
	} else {
		ev.Time("until", *until).Msg("disk protection override set")
	}
	return n, nil
}

// Delete removes a node together with its port pools, their blocks and the
// records of its deleted workloads. A node that still hosts live workloads
// cannot be removed.
func (s *NodeService) Delete(ctx context.Context, nodeID string) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var id string
		if err := tx.QueryRow(ctx, `SELECT id FROM nodes WHERE id = $1 FOR UPDATE`, nodeID).Scan(&id); err != nil {
			return lookupErr("node", nodeID, err)
		}

		var active int
		err := tx.QueryRow(ctx,
			`SELECT count(*) FROM workloads WHERE node_id = $1 AND status <> $2`,
			nodeID, model.WorkloadStatusDeleted,
		).Scan(&active)
		if err != nil {
			return fmt.Errorf("count workloads on node %s: %w", nodeID, err)
		}
		if active > 0 {
			return conflict(ConflictNodeHasWorkloads, nodeID,
				"node %s still hosts %d workloads", nodeID, active)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM workloads WHERE node_id = $1`, nodeID); err != nil {
			return fmt.Errorf("delete deleted workloads of node %s: %w", nodeID, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM nodes WHERE id = $1`, nodeID); err != nil {
			return fmt.Errorf("delete node %s: %w", nodeID, err)
		}
		return nil
	})
}
