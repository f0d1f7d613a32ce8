package control

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

const auditTail = 5

// runCommand executes a slash command and returns the reply text. Every
// mutation carries the interaction author and flows through the parameter
// store's validation, backup, and audit pipeline.
func (s *Server) runCommand(ctx context.Context, in *interaction) string {
	author := in.author()
	switch in.Data.Name {
	case "stats":
		return s.cmdStats(ctx)
	case "set":
		return s.cmdSet(ctx, author, in.option("key"), in.option("value"))
	case "apply":
		return s.cmdApply(ctx, author, in.option("delta"))
	case "rollback":
		return s.cmdRollback(ctx, author)
	default:
		return fmt.Sprintf("unknown command %q", in.Data.Name)
	}
}

func (s *Server) cmdStats(ctx context.Context) string {
	snap := s.cfg.Get()
	values := snap.Values()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "revision %d (%s)\n", snap.Revision, snap.TakenAt.Format("2006-01-02 15:04:05 UTC"))
	for _, k := range keys {
		fmt.Fprintf(&b, "%s = %v\n", k, values[k])
	}

	audit, err := s.cfg.History(ctx, auditTail)
	if err != nil {
		log.Warn().Err(err).Msg("audit history read failed")
		return b.String()
	}
	if len(audit) > 0 {
		b.WriteString("\nrecent changes:\n")
		for _, rec := range audit {
			fmt.Fprintf(&b, "r%d %s %s by %s: %s\n",
				rec.Revision, rec.Timestamp.Format("01-02 15:04"), rec.Action, rec.Author, rec.DeltaJSON)
		}
	}
	return b.String()
}

func (s *Server) cmdSet(ctx context.Context, author, key, value string) string {
	if key == "" {
		return "usage: set <key> <value>"
	}
	res, err := s.cfg.Apply(ctx, map[string]any{key: value}, author, "interactions")
	if err != nil {
		return fmt.Sprintf("set rejected: %v", err)
	}
	return fmt.Sprintf("applied %s = %v (revision %d)", key, res.Applied[key], res.Revision)
}

func (s *Server) cmdApply(ctx context.Context, author, deltaJSON string) string {
	var delta map[string]any
	if err := json.Unmarshal([]byte(deltaJSON), &delta); err != nil {
		return fmt.Sprintf("apply rejected: delta is not valid JSON: %v", err)
	}
	res, err := s.cfg.Apply(ctx, delta, author, "interactions")
	if err != nil {
		return fmt.Sprintf("apply rejected: %v", err)
	}
	return fmt.Sprintf("applied %d parameter(s), revision %d", len(res.Applied), res.Revision)
}

func (s *Server) cmdRollback(ctx context.Context, author string) string {
	res, err := s.cfg.Rollback(ctx, author, "interactions")
	if err != nil {
		return fmt.Sprintf("rollback failed: %v", err)
	}
	return fmt.Sprintf("rolled back, revision %d", res.Revision)
}

// runComponent handles button presses. Report approvals carry the proposed
// parameter change inside the component id:
// report:approve:<key>:<value> or report:reject:<key>.
func (s *Server) runComponent(ctx context.Context, in *interaction) string {
	parts := strings.Split(in.Data.CustomID, ":")
	if len(parts) < 3 || parts[0] != "report" {
		return fmt.Sprintf("unknown control %q", in.Data.CustomID)
	}
	action, key := parts[1], parts[2]
	author := in.author()

	switch action {
	case "approve":
		if len(parts) < 4 {
			return "malformed approval control"
		}
		res, err := s.cfg.Apply(ctx, map[string]any{key: parts[3]}, author, "report-approval")
		if err != nil {
			return fmt.Sprintf("approval rejected: %v", err)
		}
		log.Info().Str("key", key).Str("author", author).Msg("report recommendation approved")
		return fmt.Sprintf("approved: %s = %v (revision %d)", key, res.Applied[key], res.Revision)
	case "reject":
		log.Info().Str("key", key).Str("author", author).Msg("report recommendation rejected")
		return fmt.Sprintf("recommendation for %s dismissed", key)
	default:
		return fmt.Sprintf("unknown control %q", in.Data.CustomID)
	}
}
