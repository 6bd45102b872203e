// Package subagent is a KV-store-backed CRUD registry for durable sub-agent
// configurations: named, reusable agent profiles (purpose, tool allow-list,
// model tier, optional schedule) that the scheduler and the delegate tool
// can look up and run by id.
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/nexus-core/agentruntime/internal/kv"
	"github.com/nexus-core/agentruntime/internal/models"
	"github.com/nexus-core/agentruntime/internal/toolregistry"
)

const indexKey = "core:subagent:index"

func recordKey(id string) string { return fmt.Sprintf("core:subagent:%s", id) }

var idPattern = regexp.MustCompile(`^[a-z0-9-]{1,64}$`)

// Summary is the id+status+purpose projection returned by List.
type Summary struct {
	ID      string               `json:"id"`
	Status  models.SubagentState `json:"status"`
	Purpose string               `json:"purpose"`
}

// Registry is the durable store of Subagent definitions.
type Registry struct {
	kv    *kv.Client
	tools *toolregistry.Registry
}

// New builds a Registry. tools is consulted to validate that a sub-agent's
// declared tool allow-list is a subset of registered tool names.
func New(kvClient *kv.Client, tools *toolregistry.Registry) *Registry {
	return &Registry{kv: kvClient, tools: tools}
}

// Create validates and persists a new Subagent record: id must match
// [a-z0-9-]{1,64}, and tools must be a subset of registered tool names.
func (r *Registry) Create(ctx context.Context, sa models.Subagent) (models.Subagent, error) {
	if !idPattern.MatchString(sa.ID) {
		return models.Subagent{}, models.NewError(models.KindInvalidArguments, "invalid sub-agent id: must match [a-z0-9-]{1,64}", nil)
	}

	existing, err := r.kv.HGetAll(ctx, recordKey(sa.ID))
	if err != nil {
		return models.Subagent{}, err
	}
	if len(existing) != 0 {
		return models.Subagent{}, models.NewError(models.KindInvalidArguments, fmt.Sprintf("sub-agent %q already exists", sa.ID), models.ErrAlreadyExists)
	}

	allowed := r.tools.FilterAllowed(sa.Tools)
	if len(allowed) != len(sa.Tools) {
		return models.Subagent{}, models.NewError(models.KindInvalidArguments, "tools must be a subset of registered tool names", nil)
	}

	if sa.State == "" {
		sa.State = models.SubagentActive
	}
	if sa.Tier == "" {
		sa.Tier = models.TierSonnet
	}

	if err := r.put(ctx, sa); err != nil {
		return models.Subagent{}, err
	}
	if err := r.kv.SAdd(ctx, indexKey, sa.ID); err != nil {
		return models.Subagent{}, err
	}
	return sa, nil
}

// Get returns the full record for id.
func (r *Registry) Get(ctx context.Context, id string) (models.Subagent, error) {
	fields, err := r.kv.HGetAll(ctx, recordKey(id))
	if err != nil {
		return models.Subagent{}, err
	}
	raw, ok := fields["data"]
	if !ok || raw == "" {
		return models.Subagent{}, models.NewError(models.KindInvalidArguments, fmt.Sprintf("sub-agent %q not found", id), models.ErrNotFound)
	}
	var sa models.Subagent
	if err := json.Unmarshal([]byte(raw), &sa); err != nil {
		return models.Subagent{}, err
	}
	return sa, nil
}

// Update persists changes to an existing record, re-validating tools.
func (r *Registry) Update(ctx context.Context, sa models.Subagent) error {
	if _, err := r.Get(ctx, sa.ID); err != nil {
		return err
	}
	allowed := r.tools.FilterAllowed(sa.Tools)
	if len(allowed) != len(sa.Tools) {
		return models.NewError(models.KindInvalidArguments, "tools must be a subset of registered tool names", nil)
	}
	return r.put(ctx, sa)
}

// Delete removes a sub-agent and any schedule attached to it.
func (r *Registry) Delete(ctx context.Context, id string) error {
	sa, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if sa.Schedule != nil {
		if err := r.kv.Del(ctx, fmt.Sprintf("core:schedule:%s", id), fmt.Sprintf("core:schedule:lock:%s", id)); err != nil {
			return err
		}
	}
	if err := r.kv.Del(ctx, recordKey(id)); err != nil {
		return err
	}
	return r.kv.SRem(ctx, indexKey, id)
}

// List returns id+status+purpose for every registered sub-agent.
func (r *Registry) List(ctx context.Context) ([]Summary, error) {
	ids, err := r.kv.SMembers(ctx, indexKey)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		sa, err := r.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, Summary{ID: sa.ID, Status: sa.State, Purpose: sa.Purpose})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Registry) put(ctx context.Context, sa models.Subagent) error {
	raw, err := json.Marshal(sa)
	if err != nil {
		return err
	}
	return r.kv.HSet(ctx, recordKey(sa.ID), map[string]string{"data": string(raw)})
}
