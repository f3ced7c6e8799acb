// Package memory provides the tagged memory store: a generic,
// tenant-scoped, recency-ordered audit/learning substrate.
//
// Every subsystem in the governance pipeline persists structured
// "memories" here (observations, refusals, outcomes, effectiveness
// snapshots) and later retrieves them by kind or by tag. Rows carry
// optional TTL and ACL metadata but the store itself never expires
// anything; honoring ExpiresAt is left to an external sweeper.
//
// # Usage
//
//	svc, _ := memory.NewService(nil, backend, logger)
//
//	_ = svc.Remember(ctx, "tenant-1", "action:ban_agent",
//	    map[string]any{"action_id": id, "agent_id": agent},
//	    []string{"action", "ban"}, memory.Options{})
//
//	latest, _ := svc.Recall(ctx, "tenant-1", "action:ban_agent")
//	tagged, _ := svc.RecallByTags(ctx, "tenant-1", []string{"ban"},
//	    memory.TagQuery{Limit: 20})
package memory
